package trade

import (
	"errors"
	"fmt"

	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/sim/world/feature/trade/request"
	"tradepost.ai/internal/sim/world/feature/trade/session"
	"tradepost.ai/internal/sim/world/kernel/model"
)

func (m *Manager) handleCommand(c LifecycleCommand, nowTick uint64) {
	switch c.Kind {
	case CommandPropose:
		m.propose(c.Actor, c.Target, c.Ref, nowTick)
	case CommandAccept:
		m.accept(c.Actor, c.Target, c.Ref, nowTick)
	case CommandDeny:
		m.deny(c.Actor, c.Target, c.Ref, nowTick)
	case CommandCancel:
		m.cancelCommand(c.Actor, c.Ref, nowTick)
	case CommandBalance:
		bal := m.env.Ledger().Balance(c.Actor.ID)
		ev := protocol.ActionResult(nowTick, c.Ref, true, "", fmt.Sprintf("balance: %d", bal))
		ev["balance"] = bal
		c.Actor.AddEvent(ev)
	default:
		c.Actor.AddEvent(protocol.ActionResult(nowTick, c.Ref, false, protocol.ErrBadRequest, Usage))
	}
}

func (m *Manager) propose(a *model.Agent, targetName string, ref string, nowTick uint64) {
	targetID, ok := model.NormalizeName(targetName)
	if !ok {
		a.AddEvent(protocol.ActionResult(nowTick, ref, false, protocol.ErrBadRequest, Usage))
		return
	}
	if targetID == a.ID {
		m.requestOutcome("rejected")
		a.AddEvent(protocol.ActionResult(nowTick, ref, false, protocol.ErrBadRequest, request.ErrSelfTrade.Error()))
		return
	}
	if ok, cd := a.RateLimitAllow("TRADE_REQUEST", nowTick, uint64(m.cfg.RequestWindowTicks), m.cfg.RequestMax); !ok {
		ev := protocol.ActionResult(nowTick, ref, false, protocol.ErrRateLimit, "too many trade requests")
		ev["cooldown_ticks"] = cd
		ev["cooldown_until_tick"] = nowTick + cd
		a.AddEvent(ev)
		return
	}
	target := m.env.AgentByID(targetID)
	if target == nil {
		m.requestOutcome("rejected")
		a.AddEvent(protocol.ActionResult(nowTick, ref, false, protocol.ErrInvalidTarget, fmt.Sprintf("%s is not online", targetName)))
		return
	}
	if m.busy.IsBusy(a.ID) {
		m.requestOutcome("rejected")
		a.AddEvent(protocol.ActionResult(nowTick, ref, false, protocol.ErrBusy, "you are already trading"))
		return
	}
	if m.busy.IsBusy(target.ID) {
		m.requestOutcome("rejected")
		a.AddEvent(protocol.ActionResult(nowTick, ref, false, protocol.ErrBusy, fmt.Sprintf("%s is busy trading", target.Name)))
		return
	}

	replaced, err := m.requests.Propose(
		request.Party{ID: a.ID, Session: a.SessionID},
		request.Party{ID: target.ID, Session: target.SessionID},
		m.cfg.Now(),
	)
	if err != nil {
		m.requestOutcome("rejected")
		a.AddEvent(protocol.ActionResult(nowTick, ref, false, protocol.ErrBadRequest, err.Error()))
		return
	}
	m.requestOutcome("proposed")

	timeout := int(m.requests.Timeout().Seconds())
	a.AddEvent(protocol.Event{"t": nowTick, "type": "TRADE_REQUEST_SENT", "to": target.ID, "expires_in_sec": timeout})
	target.AddEvent(protocol.Event{
		"t":              nowTick,
		"type":           "TRADE_REQUEST_RECEIVED",
		"from":           a.ID,
		"from_name":      a.Name,
		"expires_in_sec": timeout,
		"accept":         "trade accept " + a.ID,
		"deny":           "trade deny " + a.ID,
	})
	a.AddEvent(protocol.ActionResult(nowTick, ref, true, "", fmt.Sprintf("trade request sent to %s", target.Name)))

	details := map[string]any{"target": target.ID}
	if replaced != nil && replaced.Requester.ID != a.ID {
		details["replaced"] = replaced.Requester.ID
		if prev := m.env.AgentByID(replaced.Requester.ID); prev != nil {
			prev.AddEvent(protocol.Event{"t": nowTick, "type": "TRADE_REQUEST_DENIED", "by": target.ID, "reason": "superseded"})
		}
	}
	m.env.Audit(AuditRecord{Tick: nowTick, Actor: a.ID, Action: "TRADE_REQUEST", Details: details})
}

func (m *Manager) accept(a *model.Agent, requesterName string, ref string, nowTick uint64) {
	requesterID, ok := model.NormalizeName(requesterName)
	if !ok {
		a.AddEvent(protocol.ActionResult(nowTick, ref, false, protocol.ErrBadRequest, Usage))
		return
	}
	if m.busy.IsBusy(a.ID) {
		a.AddEvent(protocol.ActionResult(nowTick, ref, false, protocol.ErrBusy, "you are already trading"))
		return
	}

	var live request.Party
	requester := m.env.AgentByID(requesterID)
	if requester != nil {
		live = request.Party{ID: requester.ID, Session: requester.SessionID}
	}

	req, err := m.requests.Accept(a.ID, live, m.cfg.Now())
	switch {
	case errors.Is(err, request.ErrNoRequest):
		a.AddEvent(protocol.ActionResult(nowTick, ref, false, protocol.ErrInvalidTarget, fmt.Sprintf("no pending request from %s", requesterName)))
		return
	case errors.Is(err, request.ErrStaleRequester):
		m.requestOutcome("stale")
		msg := fmt.Sprintf("no pending request from %s", requesterName)
		if req.Requester.ID == requesterID {
			msg = fmt.Sprintf("request from %s is no longer valid", requesterName)
		}
		a.AddEvent(protocol.ActionResult(nowTick, ref, false, protocol.ErrStale, msg))
		return
	case errors.Is(err, request.ErrExpired):
		m.notifyExpired(req, nowTick)
		a.AddEvent(protocol.ActionResult(nowTick, ref, false, protocol.ErrExpired, fmt.Sprintf("request from %s expired", requesterName)))
		return
	case err != nil:
		a.AddEvent(protocol.ActionResult(nowTick, ref, false, protocol.ErrInternal, err.Error()))
		return
	}

	if m.busy.IsBusy(requester.ID) {
		m.requestOutcome("rejected")
		a.AddEvent(protocol.ActionResult(nowTick, ref, false, protocol.ErrBusy, fmt.Sprintf("%s is busy trading", requester.Name)))
		requester.AddEvent(protocol.Event{"t": nowTick, "type": "TRADE_REQUEST_DENIED", "by": a.ID, "reason": "busy"})
		return
	}

	s := session.New(m.newSessionID(), requester.ID, a.ID, m.cfg.SlotsPerSide)
	if err := m.busy.Occupy(s); err != nil {
		a.AddEvent(protocol.ActionResult(nowTick, ref, false, protocol.ErrBusy, err.Error()))
		return
	}
	m.sessions[s.ID()] = s
	m.requestOutcome("accepted")
	if m.hooks.OnSessionStarted != nil {
		m.hooks.OnSessionStarted()
	}

	for _, p := range []*model.Agent{requester, a} {
		side, _ := s.SideOf(p.ID)
		p.AddEvent(protocol.Event{
			"t":              nowTick,
			"type":           "TRADE_STARTED",
			"session_id":     s.ID(),
			"with":           s.Counterpart(p.ID),
			"first_slot":     int(side) * s.SlotsPerSide(),
			"slots_per_side": s.SlotsPerSide(),
		})
	}
	m.broadcastState(s, nowTick)
	a.AddEvent(protocol.ActionResult(nowTick, ref, true, "", fmt.Sprintf("trading with %s", requester.Name)))
	m.env.Audit(AuditRecord{
		Tick:      nowTick,
		Actor:     a.ID,
		Action:    "TRADE_STARTED",
		SessionID: s.ID(),
		Details:   map[string]any{"player_one": requester.ID, "player_two": a.ID},
	})
}

func (m *Manager) deny(a *model.Agent, requesterName string, ref string, nowTick uint64) {
	requesterID, ok := model.NormalizeName(requesterName)
	if !ok {
		a.AddEvent(protocol.ActionResult(nowTick, ref, false, protocol.ErrBadRequest, Usage))
		return
	}
	req, removed := m.requests.Deny(a.ID, requesterID)
	if !removed {
		a.AddEvent(protocol.ActionResult(nowTick, ref, true, "", fmt.Sprintf("no pending request from %s", requesterName)))
		return
	}
	m.requestOutcome("denied")
	if r := m.env.AgentByID(req.Requester.ID); r != nil {
		r.AddEvent(protocol.Event{"t": nowTick, "type": "TRADE_REQUEST_DENIED", "by": a.ID})
	}
	a.AddEvent(protocol.ActionResult(nowTick, ref, true, "", fmt.Sprintf("denied request from %s", requesterName)))
	m.env.Audit(AuditRecord{Tick: nowTick, Actor: a.ID, Action: "TRADE_REQUEST_DENIED", Details: map[string]any{"requester": req.Requester.ID}})
}

func (m *Manager) cancelCommand(a *model.Agent, ref string, nowTick uint64) {
	s := m.busy.SessionOf(a.ID)
	if s == nil {
		a.AddEvent(protocol.ActionResult(nowTick, ref, true, "", "no active trade"))
		return
	}
	m.cancel(s, EndCancelled, a.ID, nowTick)
	a.AddEvent(protocol.ActionResult(nowTick, ref, true, "", "trade cancelled"))
}

// cancel closes s, returns escrowed items to their owners and frees both
// players. Calling it again for the same session does nothing.
func (m *Manager) cancel(s *session.Session, reason string, by string, nowTick uint64) {
	returned, ok := s.Cancel()
	m.busy.Release(s)
	delete(m.sessions, s.ID())
	if !ok {
		return
	}

	players := s.Players()
	for side, owner := range players {
		counterpart := players[1-side]
		m.returnItems(owner, counterpart, returned[side], s.ID(), nowTick)
	}
	for _, id := range players {
		if p := m.env.AgentByID(id); p != nil {
			p.AddEvent(protocol.Event{
				"t":          nowTick,
				"type":       "TRADE_CANCELLED",
				"session_id": s.ID(),
				"reason":     reason,
				"by":         by,
			})
		}
	}
	m.sessionEnded(reason)
	m.env.Audit(AuditRecord{
		Tick:      nowTick,
		Actor:     by,
		Action:    "TRADE_CANCELLED",
		SessionID: s.ID(),
		Reason:    reason,
		Details: map[string]any{
			"returned_one": returned[session.One],
			"returned_two": returned[session.Two],
		},
	})
}
