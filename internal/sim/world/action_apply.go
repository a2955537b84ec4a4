package world

import (
	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/sim/world/kernel/model"
)

func (w *World) applyAct(a *model.Agent, act protocol.ActMsg, nowTick uint64) {
	// Staleness check: accept only [now-2, now].
	if act.Tick+2 < nowTick || act.Tick > nowTick {
		a.AddEvent(protocol.ActionResult(nowTick, "ACT", false, protocol.ErrStale, "act tick out of range"))
		return
	}
	for _, inst := range act.Instants {
		w.applyInstant(a, inst, nowTick)
	}
}

func (w *World) applyInstant(a *model.Agent, inst protocol.InstantReq, nowTick uint64) {
	if h := instantDispatch[inst.Type]; h != nil {
		h(w, a, inst, nowTick)
		return
	}
	a.AddEvent(protocol.ActionResult(nowTick, inst.ID, false, protocol.ErrBadRequest, "unknown instant type"))
}
