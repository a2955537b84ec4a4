package trade

import (
	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/sim/world/kernel/model"
)

// returnItems hands items to ownerID. If the owner is not connected the
// counterpart holds them; if neither is, they go to the safe drop point.
func (m *Manager) returnItems(ownerID, counterpartID string, items []protocol.ItemStack, sessionID string, nowTick uint64) {
	if len(items) == 0 {
		return
	}
	if owner := m.env.AgentByID(ownerID); owner != nil {
		m.giveOrDrop(owner, items, "TRADE_OVERFLOW", nowTick)
		return
	}
	if cp := m.env.AgentByID(counterpartID); cp != nil {
		m.giveOrDrop(cp, items, "TRADE_OVERFLOW", nowTick)
		cp.AddEvent(protocol.Event{
			"t":          nowTick,
			"type":       "TRADE_ITEMS_HELD",
			"session_id": sessionID,
			"owner":      ownerID,
			"items":      items,
		})
		m.env.Audit(AuditRecord{
			Tick:      nowTick,
			Actor:     cp.ID,
			Action:    "TRADE_ITEMS_HELD",
			SessionID: sessionID,
			Details:   map[string]any{"owner": ownerID, "items": items},
		})
		return
	}
	pos := m.env.SafeDropPos()
	for _, st := range items {
		m.env.DropNear(ownerID, pos, st, "TRADE_UNCLAIMED", nowTick)
	}
	m.env.Audit(AuditRecord{
		Tick:      nowTick,
		Actor:     ownerID,
		Action:    "ITEMS_DROPPED",
		SessionID: sessionID,
		Reason:    "TRADE_UNCLAIMED",
		Details:   map[string]any{"pos": pos.ToArray(), "items": items},
	})
}

// giveOrDrop adds items to a's inventory and drops what does not fit next to a.
func (m *Manager) giveOrDrop(a *model.Agent, items []protocol.ItemStack, reason string, nowTick uint64) {
	for _, st := range items {
		if st.Empty() {
			continue
		}
		left := a.Inventory.Add(st.Item, st.Count)
		if left == 0 {
			continue
		}
		dropped := protocol.ItemStack{Item: st.Item, Count: left}
		pos := m.env.DropNear(a.ID, a.Pos, dropped, reason, nowTick)
		a.AddEvent(protocol.Event{
			"t":      nowTick,
			"type":   "ITEMS_DROPPED",
			"item":   dropped.Item,
			"count":  dropped.Count,
			"pos":    pos.ToArray(),
			"reason": reason,
		})
	}
}
