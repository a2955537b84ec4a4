// Package session is the negotiation state machine for one pair of agents.
//
// A Session is owned by the world loop and is not safe for concurrent use.
// Each side has a private slot region, a currency offer and a confirmation
// flag. Any change to items or currency clears both confirmations.
package session

import (
	"errors"
	"math"

	"tradepost.ai/internal/ledger"
	"tradepost.ai/internal/protocol"
)

type State string

const (
	StateNegotiating State = "NEGOTIATING"
	StateCancelled   State = "CANCELLED"
	StateCommitted   State = "COMMITTED"
)

// Side indexes the two parties: One is the requester, Two the acceptor.
type Side int

const (
	One Side = 0
	Two Side = 1
)

func (s Side) Other() Side { return 1 - s }

var (
	ErrNotParticipant    = errors.New("not a participant")
	ErrNotNegotiating    = errors.New("session is closed")
	ErrSlotOutOfRange    = errors.New("slot out of range")
	ErrForeignRegion     = errors.New("slot belongs to the other party")
	ErrBadStack          = errors.New("invalid item stack")
	ErrBadAmount         = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

type Session struct {
	id           string
	players      [2]string
	slotsPerSide int

	slots     [2][]protocol.ItemStack
	offers    [2]int64
	confirmed [2]bool
	state     State
}

func New(id, playerOne, playerTwo string, slotsPerSide int) *Session {
	if slotsPerSide <= 0 {
		slotsPerSide = 1
	}
	return &Session{
		id:           id,
		players:      [2]string{playerOne, playerTwo},
		slotsPerSide: slotsPerSide,
		slots: [2][]protocol.ItemStack{
			make([]protocol.ItemStack, slotsPerSide),
			make([]protocol.ItemStack, slotsPerSide),
		},
		state: StateNegotiating,
	}
}

func (s *Session) ID() string              { return s.id }
func (s *Session) State() State            { return s.state }
func (s *Session) Players() [2]string      { return s.players }
func (s *Session) SlotsPerSide() int       { return s.slotsPerSide }
func (s *Session) Player(side Side) string { return s.players[side] }
func (s *Session) Offer(side Side) int64   { return s.offers[side] }
func (s *Session) Confirmed(side Side) bool {
	return s.confirmed[side]
}

func (s *Session) SideOf(agentID string) (Side, bool) {
	switch agentID {
	case s.players[One]:
		return One, true
	case s.players[Two]:
		return Two, true
	}
	return One, false
}

// Counterpart returns the other party's id, or "" if agentID is not a participant.
func (s *Session) Counterpart(agentID string) string {
	side, ok := s.SideOf(agentID)
	if !ok {
		return ""
	}
	return s.players[side.Other()]
}

// RegionOf maps a slot on the shared surface to its owning side:
// 0..N-1 belong to player one, N..2N-1 to player two.
func (s *Session) RegionOf(slot int) (Side, bool) {
	if slot < 0 || slot >= 2*s.slotsPerSide {
		return One, false
	}
	return Side(slot / s.slotsPerSide), true
}

// Slot returns the stack at a surface slot.
func (s *Session) Slot(slot int) (protocol.ItemStack, bool) {
	side, ok := s.RegionOf(slot)
	if !ok {
		return protocol.ItemStack{}, false
	}
	return s.slots[side][slot%s.slotsPerSide], true
}

// Region returns a copy of the non-empty stacks in side's region.
func (s *Session) Region(side Side) []protocol.ItemStack {
	out := make([]protocol.ItemStack, 0, s.slotsPerSide)
	for _, st := range s.slots[side] {
		if !st.Empty() {
			out = append(out, st)
		}
	}
	return out
}

// SetSlot writes stack into one of actor's own slots and returns what was
// there before. An empty stack clears the slot. Writing to the other
// party's region fails with ErrForeignRegion and changes nothing.
func (s *Session) SetSlot(actor string, slot int, stack protocol.ItemStack) (prev protocol.ItemStack, changed bool, err error) {
	side, ok := s.SideOf(actor)
	if !ok {
		return prev, false, ErrNotParticipant
	}
	if s.state != StateNegotiating {
		return prev, false, ErrNotNegotiating
	}
	region, ok := s.RegionOf(slot)
	if !ok {
		return prev, false, ErrSlotOutOfRange
	}
	if region != side {
		return prev, false, ErrForeignRegion
	}
	if stack.Count < 0 || (stack.Item == "") != (stack.Count == 0) {
		return prev, false, ErrBadStack
	}
	if stack.Empty() {
		stack = protocol.ItemStack{}
	}
	idx := slot % s.slotsPerSide
	prev = s.slots[side][idx]
	if prev == stack {
		return prev, false, nil
	}
	s.slots[side][idx] = stack
	s.resetConfirmations()
	return prev, true, nil
}

// AdjustOffer adds delta to actor's currency offer, clamping at zero.
// Confirmations are cleared only if the offer actually moved.
func (s *Session) AdjustOffer(actor string, delta int64) (offer int64, changed bool, err error) {
	side, ok := s.SideOf(actor)
	if !ok {
		return 0, false, ErrNotParticipant
	}
	if s.state != StateNegotiating {
		return s.offers[side], false, ErrNotNegotiating
	}
	cur := s.offers[side]
	var next int64
	switch {
	case delta <= -cur:
		next = 0
	case delta > 0 && delta > math.MaxInt64-cur:
		return cur, false, ErrBadAmount
	default:
		next = cur + delta
	}
	if next == s.offers[side] {
		return next, false, nil
	}
	s.offers[side] = next
	s.resetConfirmations()
	return next, true, nil
}

// Confirm toggles actor's confirmation. Turning it on requires the ledger to
// cover actor's current offer; on ErrInsufficientFunds nothing changes.
func (s *Session) Confirm(actor string, l ledger.Ledger) (confirmed bool, err error) {
	side, ok := s.SideOf(actor)
	if !ok {
		return false, ErrNotParticipant
	}
	if s.state != StateNegotiating {
		return s.confirmed[side], ErrNotNegotiating
	}
	if s.confirmed[side] {
		s.confirmed[side] = false
		return false, nil
	}
	if !l.Has(s.players[side], s.offers[side]) {
		return false, ErrInsufficientFunds
	}
	s.confirmed[side] = true
	return true, nil
}

func (s *Session) BothConfirmed() bool {
	return s.state == StateNegotiating && s.confirmed[One] && s.confirmed[Two]
}

// Cancel closes the session and hands back each side's region contents to be
// returned to its owner. Only the first call has an effect.
func (s *Session) Cancel() (returned [2][]protocol.ItemStack, ok bool) {
	if s.state != StateNegotiating {
		return returned, false
	}
	returned[One] = s.drainRegion(One)
	returned[Two] = s.drainRegion(Two)
	s.confirmed = [2]bool{}
	s.state = StateCancelled
	return returned, true
}

func (s *Session) resetConfirmations() {
	s.confirmed[One] = false
	s.confirmed[Two] = false
}

func (s *Session) drainRegion(side Side) []protocol.ItemStack {
	out := s.Region(side)
	for i := range s.slots[side] {
		s.slots[side][i] = protocol.ItemStack{}
	}
	return out
}
