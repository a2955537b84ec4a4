package world

import (
	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/sim/world/kernel/model"
)

func (w *World) buildObs(a *model.Agent, nowTick uint64) protocol.ObsMsg {
	obs := protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		Tick:            nowTick,
		AgentID:         a.ID,
		Self: protocol.SelfObs{
			Pos:  a.Pos.ToArray(),
			Name: a.Name,
			Busy: w.trades.IsBusy(a.ID),
		},
		Balance:   w.ledger.Balance(a.ID),
		Inventory: a.Inventory.List(),
	}
	for _, g := range w.groundFor(a) {
		obs.Ground = append(obs.Ground, protocol.ItemStack{Item: g.Item, Count: g.Count})
	}
	if view, ok := w.trades.View(a.ID); ok {
		obs.Trade = &view
	}
	obs.Events = a.TakeEvents()
	if obs.Events == nil {
		obs.Events = []protocol.Event{}
	}
	return obs
}
