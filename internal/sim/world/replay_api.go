package world

import (
	"fmt"

	"tradepost.ai/internal/sim/world/feature/trade/request"
)

// ReplayTick re-applies one tick log entry and returns the resulting state
// digest. Like StepOnce it must not be called while Run is executing.
//
// Connections are not recreated: replayed agents have no output channel and
// leaves are matched to whatever session the agent holds in the replay.
func (w *World) ReplayTick(e TickLogEntry) (string, error) {
	nowTick := w.tick.Load()
	if e.Tick != nowTick {
		return "", fmt.Errorf("log entry is tick %d, world is at %d", e.Tick, nowTick)
	}

	for _, id := range e.Resumes {
		a := w.agents[id]
		if a == nil {
			a = w.offline[id]
		}
		if a == nil {
			return "", fmt.Errorf("tick %d: resume of unknown agent %q", e.Tick, id)
		}
		w.resume(a, nil)
	}

	for _, x := range e.Expired {
		req, ok := w.requests.Deny(x.Target, x.Requester)
		if !ok {
			// Already gone in the replay; the notice still went out live.
			req = request.Request{Requester: request.Party{ID: x.Requester}, Target: request.Party{ID: x.Target}}
		}
		w.pendingExpired = append(w.pendingExpired, req)
	}

	leaves := make([]LeaveRequest, 0, len(e.Leaves))
	for _, id := range e.Leaves {
		if a := w.agents[id]; a != nil {
			leaves = append(leaves, LeaveRequest{AgentID: id, SessionID: a.SessionID})
		}
	}
	joins := make([]JoinRequest, 0, len(e.Joins))
	for _, j := range e.Joins {
		joins = append(joins, JoinRequest{Name: j.Name})
	}
	acts := make([]ActionEnvelope, 0, len(e.Actions))
	for _, ra := range e.Actions {
		acts = append(acts, ActionEnvelope{AgentID: ra.AgentID, Act: ra.Act})
	}

	w.stepAt(e.At, joins, leaves, acts)
	return w.stateDigest(nowTick), nil
}
