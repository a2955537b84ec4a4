package world

import (
	"sort"

	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/sim/world/kernel/model"
)

const pickupRange = 2

// dropGround merges stack into the owner's pile at pos.
func (w *World) dropGround(owner string, pos model.Vec3i, stack protocol.ItemStack, reason string, nowTick uint64) *model.GroundItem {
	for _, id := range w.sortedGroundIDs() {
		g := w.ground[id]
		if g.Owner == owner && g.Pos == pos && g.Item == stack.Item {
			g.Count += stack.Count
			return g
		}
	}
	g := &model.GroundItem{
		ID:          w.newGroundID(),
		Owner:       owner,
		Pos:         pos,
		Item:        stack.Item,
		Count:       stack.Count,
		Reason:      reason,
		CreatedTick: nowTick,
	}
	w.ground[g.ID] = g
	return g
}

func (w *World) sortedGroundIDs() []string {
	ids := make([]string, 0, len(w.ground))
	for id := range w.ground {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// groundFor lists what a can pick up from where it stands.
func (w *World) groundFor(a *model.Agent) []*model.GroundItem {
	var out []*model.GroundItem
	for _, id := range w.sortedGroundIDs() {
		g := w.ground[id]
		if g.Owner == a.ID && model.Manhattan(g.Pos, a.Pos) <= pickupRange {
			out = append(out, g)
		}
	}
	return out
}

func (w *World) pickup(a *model.Agent, ref string, nowTick uint64) {
	piles := w.groundFor(a)
	if len(piles) == 0 {
		a.AddEvent(protocol.ActionResult(nowTick, ref, false, protocol.ErrNoResource, "nothing to pick up"))
		return
	}
	var picked []protocol.ItemStack
	for _, g := range piles {
		left := a.Inventory.Add(g.Item, g.Count)
		if n := g.Count - left; n > 0 {
			picked = append(picked, protocol.ItemStack{Item: g.Item, Count: n})
		}
		if left == 0 {
			delete(w.ground, g.ID)
		} else {
			g.Count = left
		}
	}
	if len(picked) == 0 {
		a.AddEvent(protocol.ActionResult(nowTick, ref, false, protocol.ErrConflict, "inventory full"))
		return
	}
	ev := protocol.ActionResult(nowTick, ref, true, "", "picked up")
	ev["items"] = picked
	a.AddEvent(ev)
	w.auditEvent(nowTick, a.ID, "PICKUP", "", map[string]any{"items": picked})
}
