package session

import (
	"errors"
	"fmt"

	"tradepost.ai/internal/ledger"
	"tradepost.ai/internal/protocol"
)

var (
	ErrNotConfirmed       = errors.New("both parties must confirm")
	ErrWithdrawFailed     = errors.New("withdraw failed")
	ErrCompensationFailed = errors.New("refund after failed withdraw did not go through")
)

// SettlementError describes a settlement that did not commit. The session
// stays NEGOTIATING with both confirmations cleared.
type SettlementError struct {
	Step    int
	Account string
	Amount  int64
	Err     error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement step %d (%s %d): %v", e.Step, e.Account, e.Amount, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }

// Shortfall is a credit the ledger refused after both debits went through.
type Shortfall struct {
	Account string
	Amount  int64
	Reason  string
}

// Settlement is the outcome of a committed session. Received[side] holds the
// items side gets from the other party's region.
type Settlement struct {
	SessionID string
	Players   [2]string
	Offers    [2]int64
	Received  [2][]protocol.ItemStack
	Unpaid    []Shortfall
}

// Settle moves both offers through the ledger and swaps the regions.
//
// Both withdrawals happen before either deposit. If the second withdrawal
// fails the first is refunded; if that refund fails too the error wraps
// ErrCompensationFailed and the amount must be reconciled by hand.
func (s *Session) Settle(l ledger.Ledger) (Settlement, error) {
	if s.state != StateNegotiating {
		return Settlement{}, ErrNotNegotiating
	}
	if !s.BothConfirmed() {
		return Settlement{}, ErrNotConfirmed
	}

	one, two := s.players[One], s.players[Two]
	offerOne, offerTwo := s.offers[One], s.offers[Two]

	fail := func(step int, account string, amount int64, err error) (Settlement, error) {
		s.resetConfirmations()
		return Settlement{}, &SettlementError{Step: step, Account: account, Amount: amount, Err: err}
	}

	// 1. Balances may have drifted since the confirmations.
	if !l.Has(one, offerOne) {
		return fail(1, one, offerOne, ErrInsufficientFunds)
	}
	if !l.Has(two, offerTwo) {
		return fail(1, two, offerTwo, ErrInsufficientFunds)
	}

	// 2.
	if offerOne > 0 && !l.Withdraw(one, offerOne, s.reason(ledger.ReasonTradePay)) {
		return fail(2, one, offerOne, ErrWithdrawFailed)
	}

	// 3.
	if offerTwo > 0 && !l.Withdraw(two, offerTwo, s.reason(ledger.ReasonTradePay)) {
		if offerOne > 0 && !l.Deposit(one, offerOne, s.reason(ledger.ReasonTradeRefund)) {
			return fail(3, one, offerOne, ErrCompensationFailed)
		}
		return fail(3, two, offerTwo, ErrWithdrawFailed)
	}

	// 4.
	var unpaid []Shortfall
	if offerOne > 0 && !l.Deposit(two, offerOne, s.reason(ledger.ReasonTradeReceive)) {
		unpaid = append(unpaid, Shortfall{Account: two, Amount: offerOne, Reason: ledger.ReasonTradeReceive})
	}
	if offerTwo > 0 && !l.Deposit(one, offerTwo, s.reason(ledger.ReasonTradeReceive)) {
		unpaid = append(unpaid, Shortfall{Account: one, Amount: offerTwo, Reason: ledger.ReasonTradeReceive})
	}

	// 5. Items are handed to the caller for delivery.
	out := Settlement{
		SessionID: s.id,
		Players:   s.players,
		Offers:    s.offers,
		Unpaid:    unpaid,
	}
	out.Received[Two] = s.drainRegion(One)
	out.Received[One] = s.drainRegion(Two)

	// 6.
	s.state = StateCommitted
	return out, nil
}

func (s *Session) reason(tag string) string {
	return tag + ":" + s.id
}
