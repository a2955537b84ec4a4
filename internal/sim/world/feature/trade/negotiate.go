package trade

import (
	"errors"
	"fmt"

	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/sim/world/feature/trade/session"
	"tradepost.ai/internal/sim/world/kernel/model"
)

func (m *Manager) activeSession(a *model.Agent, ref string, nowTick uint64) *session.Session {
	s := m.busy.SessionOf(a.ID)
	if s == nil {
		a.AddEvent(protocol.ActionResult(nowTick, ref, false, protocol.ErrInvalidTarget, "no active trade"))
	}
	return s
}

func (m *Manager) handleSlotChange(e SlotChange, nowTick uint64) {
	a := e.Actor
	s := m.activeSession(a, e.Ref, nowTick)
	if s == nil {
		return
	}
	own, _ := s.SideOf(a.ID)
	region, ok := s.RegionOf(e.Slot)
	if !ok {
		a.AddEvent(protocol.ActionResult(nowTick, e.Ref, false, protocol.ErrBadRequest, fmt.Sprintf("slot must be in [0,%d)", 2*s.SlotsPerSide())))
		return
	}
	if region != own {
		a.AddEvent(protocol.ActionResult(nowTick, e.Ref, false, protocol.ErrNoPermission, "that slot belongs to "+s.Player(region)))
		return
	}

	next := e.Stack
	if next.Item == "" {
		next = protocol.ItemStack{}
	} else if next.Count <= 0 || next.Count > m.cfg.MaxStack {
		a.AddEvent(protocol.ActionResult(nowTick, e.Ref, false, protocol.ErrBadRequest, fmt.Sprintf("count must be in [1,%d]", m.cfg.MaxStack)))
		return
	}

	cur, _ := s.Slot(e.Slot)
	if !next.Empty() {
		have := a.Inventory.Count(next.Item)
		if cur.Item == next.Item {
			have += cur.Count
		}
		if have < next.Count {
			a.AddEvent(protocol.ActionResult(nowTick, e.Ref, false, protocol.ErrNoResource, fmt.Sprintf("you have %d %s", have, next.Item)))
			return
		}
	}

	prev, changed, err := s.SetSlot(a.ID, e.Slot, next)
	if err != nil {
		a.AddEvent(protocol.ActionResult(nowTick, e.Ref, false, codeFor(err), err.Error()))
		return
	}
	if !changed {
		a.AddEvent(protocol.ActionResult(nowTick, e.Ref, true, "", "unchanged"))
		return
	}

	// Escrow: the region holds the items, the inventory no longer does.
	if prev.Item == next.Item {
		if d := next.Count - prev.Count; d > 0 {
			a.Inventory.Remove(next.Item, d)
		} else {
			m.giveOrDrop(a, []protocol.ItemStack{{Item: prev.Item, Count: -d}}, "TRADE_SLOT_RETURN", nowTick)
		}
	} else {
		if !next.Empty() {
			a.Inventory.Remove(next.Item, next.Count)
		}
		if !prev.Empty() {
			m.giveOrDrop(a, []protocol.ItemStack{prev}, "TRADE_SLOT_RETURN", nowTick)
		}
	}

	m.broadcastState(s, nowTick)
	a.AddEvent(protocol.ActionResult(nowTick, e.Ref, true, "", "ok"))
}

func (m *Manager) handleOfferDelta(e OfferDelta, nowTick uint64) {
	a := e.Actor
	s := m.activeSession(a, e.Ref, nowTick)
	if s == nil {
		return
	}
	offer, changed, err := s.AdjustOffer(a.ID, e.Delta)
	if err != nil {
		a.AddEvent(protocol.ActionResult(nowTick, e.Ref, false, codeFor(err), err.Error()))
		return
	}
	if changed {
		m.broadcastState(s, nowTick)
	}
	ev := protocol.ActionResult(nowTick, e.Ref, true, "", fmt.Sprintf("offer: %d", offer))
	ev["offer"] = offer
	a.AddEvent(ev)
}

func (m *Manager) handleConfirm(e ConfirmToggle, nowTick uint64) {
	a := e.Actor
	s := m.activeSession(a, e.Ref, nowTick)
	if s == nil {
		return
	}
	l := m.env.Ledger()
	confirmed, err := s.Confirm(a.ID, l)
	if errors.Is(err, session.ErrInsufficientFunds) {
		side, _ := s.SideOf(a.ID)
		ev := protocol.ActionResult(nowTick, e.Ref, false, protocol.ErrNoFunds,
			fmt.Sprintf("insufficient funds: offer %d, balance %d", s.Offer(side), l.Balance(a.ID)))
		ev["offer"] = s.Offer(side)
		a.AddEvent(ev)
		return
	}
	if err != nil {
		a.AddEvent(protocol.ActionResult(nowTick, e.Ref, false, codeFor(err), err.Error()))
		return
	}
	if confirmed {
		a.AddEvent(protocol.ActionResult(nowTick, e.Ref, true, "", "confirmed"))
	} else {
		a.AddEvent(protocol.ActionResult(nowTick, e.Ref, true, "", "confirmation withdrawn"))
	}

	if s.BothConfirmed() {
		m.settle(s, nowTick)
		return
	}
	m.broadcastState(s, nowTick)
}

// handleSurfaceClosed defers the cancel to the next Tick so the session is
// not torn down from inside the event that reported the closure.
func (m *Manager) handleSurfaceClosed(e SurfaceClosed, nowTick uint64) {
	a := e.Actor
	s := m.busy.SessionOf(a.ID)
	if s == nil {
		a.AddEvent(protocol.ActionResult(nowTick, e.Ref, true, "", "no active trade"))
		return
	}
	for _, d := range m.deferred {
		if d.session == s {
			a.AddEvent(protocol.ActionResult(nowTick, e.Ref, true, "", "closing"))
			return
		}
	}
	m.deferred = append(m.deferred, deferredClose{session: s, by: a.ID})
	a.AddEvent(protocol.ActionResult(nowTick, e.Ref, true, "", "closing"))
}

func (m *Manager) settle(s *session.Session, nowTick uint64) {
	res, err := s.Settle(m.env.Ledger())
	if err != nil {
		m.settlementFailed(s, err, nowTick)
		return
	}

	players := s.Players()
	for side, recipient := range players {
		m.returnItems(recipient, players[1-side], res.Received[side], s.ID(), nowTick)
	}
	for _, sf := range res.Unpaid {
		m.log.Printf("ALERT reconcile: session %s credit of %d to %s was refused after both debits", s.ID(), sf.Amount, sf.Account)
		m.env.Audit(AuditRecord{
			Tick:      nowTick,
			Actor:     sf.Account,
			Action:    "RECONCILE_REQUIRED",
			SessionID: s.ID(),
			Reason:    sf.Reason,
			Details:   map[string]any{"account": sf.Account, "amount": sf.Amount},
		})
	}

	m.busy.Release(s)
	delete(m.sessions, s.ID())

	for side, id := range players {
		p := m.env.AgentByID(id)
		if p == nil {
			continue
		}
		other := 1 - side
		p.AddEvent(protocol.Event{
			"t":              nowTick,
			"type":           "TRADE_DONE",
			"session_id":     s.ID(),
			"with":           players[other],
			"paid":           res.Offers[side],
			"received":       res.Offers[other],
			"items_received": res.Received[side],
			"items_given":    res.Received[other],
		})
	}

	result := "committed"
	if len(res.Unpaid) > 0 {
		result = "committed_unreconciled"
	}
	m.settlementResult(result)
	m.sessionEnded(EndCommitted)
	m.env.Audit(AuditRecord{
		Tick:      nowTick,
		Action:    "TRADE_DONE",
		SessionID: s.ID(),
		Details: map[string]any{
			"player_one": players[0],
			"player_two": players[1],
			"offer_one":  res.Offers[0],
			"offer_two":  res.Offers[1],
			"items_one":  res.Received[1],
			"items_two":  res.Received[0],
		},
	})
}

func (m *Manager) settlementFailed(s *session.Session, err error, nowTick uint64) {
	var se *session.SettlementError
	if !errors.As(err, &se) {
		m.log.Printf("settle %s: %v", s.ID(), err)
		m.broadcastState(s, nowTick)
		return
	}

	compensationFailed := errors.Is(err, session.ErrCompensationFailed)
	for _, id := range s.Players() {
		p := m.env.AgentByID(id)
		if p == nil {
			continue
		}
		ev := protocol.Event{
			"t":          nowTick,
			"type":       "TRADE_SETTLEMENT_FAILED",
			"session_id": s.ID(),
			"step":       se.Step,
			"reason":     se.Err.Error(),
		}
		if compensationFailed {
			ev["reconcile"] = true
		} else if se.Account == id {
			ev["message"] = fmt.Sprintf("your balance cannot cover %d", se.Amount)
		}
		p.AddEvent(ev)
	}

	if !compensationFailed {
		m.settlementResult("failed")
		m.env.Audit(AuditRecord{
			Tick:      nowTick,
			Actor:     se.Account,
			Action:    "TRADE_SETTLEMENT_FAILED",
			SessionID: s.ID(),
			Reason:    se.Err.Error(),
			Details:   map[string]any{"step": se.Step, "amount": se.Amount},
		})
		m.broadcastState(s, nowTick)
		return
	}

	m.log.Printf("ALERT reconcile: session %s refund of %d to %s failed after step %d", s.ID(), se.Amount, se.Account, se.Step)
	m.settlementResult("compensation_failed")
	m.env.Audit(AuditRecord{
		Tick:      nowTick,
		Actor:     se.Account,
		Action:    "RECONCILE_REQUIRED",
		SessionID: s.ID(),
		Reason:    se.Err.Error(),
		Details:   map[string]any{"account": se.Account, "amount": se.Amount, "step": se.Step},
	})
	m.cancel(s, EndSettlementFailed, "", nowTick)
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, session.ErrForeignRegion):
		return protocol.ErrNoPermission
	case errors.Is(err, session.ErrInsufficientFunds):
		return protocol.ErrNoFunds
	case errors.Is(err, session.ErrNotNegotiating):
		return protocol.ErrStale
	case errors.Is(err, session.ErrNotParticipant):
		return protocol.ErrNoPermission
	case errors.Is(err, session.ErrSlotOutOfRange), errors.Is(err, session.ErrBadStack), errors.Is(err, session.ErrBadAmount):
		return protocol.ErrBadRequest
	}
	return protocol.ErrInternal
}
