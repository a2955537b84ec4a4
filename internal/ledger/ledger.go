// Package ledger defines the currency ledger the trade core consumes and an
// in-memory implementation of it.
package ledger

import "time"

// Ledger is the narrow balance interface used by settlement.
// Implementations must be safe for concurrent use; every call is atomic on its own.
type Ledger interface {
	Balance(account string) int64
	Has(account string, amount int64) bool
	// Deposit returns false only if amount <= 0 (or the backend failed).
	Deposit(account string, amount int64, reason string) bool
	// Withdraw returns false if amount <= 0 or the balance is short; nothing is mutated on false.
	Withdraw(account string, amount int64, reason string) bool
}

// Accounts is implemented by ledgers that can seed new accounts.
type Accounts interface {
	// EnsureAccount creates account with an initial balance if it does not exist yet.
	EnsureAccount(account string, initial int64) (created bool)
}

type AuditEntry struct {
	At      time.Time `json:"at"`
	Account string    `json:"account"`
	Delta   int64     `json:"delta"`
	Balance int64     `json:"balance"`
	Reason  string    `json:"reason"`
}

type AuditSink interface {
	WriteLedger(entry AuditEntry) error
}

// Reason tags used by the trade core.
const (
	ReasonStartingBalance = "starting_balance"
	ReasonTradePay        = "trade_pay"
	ReasonTradeReceive    = "trade_receive"
	ReasonTradeRefund     = "trade_refund"
	ReasonAdmin           = "admin"
)
