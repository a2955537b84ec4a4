package world

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"tradepost.ai/internal/persistence/snapshot"
	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/sim/world/kernel/model"
)

// ExportSnapshot captures agents and ground piles. Items escrowed in a live
// negotiation are written back into their owner's inventory.
func (w *World) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: w.cfg.ID,
			Tick:    nowTick,
		},
		TickRate:       w.cfg.TickRateHz,
		SlotsPerSide:   w.cfg.SlotsPerSide,
		InventorySlots: w.cfg.InventorySlots,
		MaxStack:       w.cfg.MaxStack,
	}
	if len(w.cfg.StarterItems) > 0 {
		snap.StarterItems = make(map[string]int, len(w.cfg.StarterItems))
		for k, v := range w.cfg.StarterItems {
			snap.StarterItems[k] = v
		}
	}

	for _, a := range w.allAgents() {
		av := snapshot.AgentV1{ID: a.ID, Name: a.Name, Pos: a.Pos.ToArray()}
		for _, st := range a.Inventory.Stacks() {
			av.Inventory = append(av.Inventory, snapshot.ItemStackV1{Item: st.Item, Count: st.Count})
		}
		for _, st := range w.trades.Escrowed(a.ID) {
			av.Inventory = append(av.Inventory, snapshot.ItemStackV1{Item: st.Item, Count: st.Count})
		}
		snap.Agents = append(snap.Agents, av)
	}
	for _, id := range w.sortedGroundIDs() {
		g := w.ground[id]
		snap.Ground = append(snap.Ground, snapshot.GroundItemV1{
			ID:     g.ID,
			Owner:  g.Owner,
			Pos:    g.Pos.ToArray(),
			Item:   g.Item,
			Count:  g.Count,
			Reason: g.Reason,
		})
	}
	return snap
}

// ImportSnapshot restores a world that has not started yet. Restored agents
// stay offline until they join by name. Items that no longer fit the
// configured inventory are dropped at spawn for their owner.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version: %d", snap.Header.Version)
	}
	if len(w.agents) > 0 {
		return fmt.Errorf("import into a running world")
	}
	nowTick := snap.Header.Tick

	w.offline = map[string]*model.Agent{}
	w.ground = map[string]*model.GroundItem{}
	var maxGround uint64
	for _, g := range snap.Ground {
		if g.Count <= 0 || g.Item == "" {
			continue
		}
		id := g.ID
		if id == "" {
			continue
		}
		if n, err := strconv.ParseUint(strings.TrimPrefix(id, "G"), 10, 64); err == nil && n > maxGround {
			maxGround = n
		}
		w.ground[id] = &model.GroundItem{
			ID:     id,
			Owner:  g.Owner,
			Pos:    model.Vec3FromArray(g.Pos),
			Item:   g.Item,
			Count:  g.Count,
			Reason: g.Reason,
		}
	}
	w.nextGroundNum.Store(maxGround)

	for _, av := range snap.Agents {
		id, ok := model.NormalizeName(av.ID)
		if !ok {
			return fmt.Errorf("snapshot agent %q: invalid id", av.ID)
		}
		a := model.NewAgent(id, av.Name, model.Vec3FromArray(av.Pos), w.cfg.InventorySlots, w.cfg.MaxStack)
		for _, st := range av.Inventory {
			if st.Count <= 0 || st.Item == "" {
				continue
			}
			if left := a.Inventory.Add(st.Item, st.Count); left > 0 {
				w.dropGround(id, w.cfg.Spawn, protocol.ItemStack{Item: st.Item, Count: left}, "SNAPSHOT_OVERFLOW", nowTick)
			}
		}
		w.offline[id] = a
	}
	w.tick.Store(nowTick + 1)
	w.imported = true
	return nil
}

func (w *World) allAgents() []*model.Agent {
	out := make([]*model.Agent, 0, len(w.agents)+len(w.offline))
	for _, a := range w.agents {
		out = append(out, a)
	}
	for _, a := range w.offline {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// stateDigest hashes what trades can change: balances, inventories, escrow
// and ground piles.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	fmt.Fprintf(h, "tick=%d\n", nowTick)
	for _, a := range w.allAgents() {
		fmt.Fprintf(h, "agent=%s bal=%d\n", a.ID, w.ledger.Balance(a.ID))
		for _, st := range a.Inventory.List() {
			fmt.Fprintf(h, " inv %s=%d\n", st.Item, st.Count)
		}
		for _, st := range w.trades.Escrowed(a.ID) {
			fmt.Fprintf(h, " esc %s=%d\n", st.Item, st.Count)
		}
	}
	for _, id := range w.sortedGroundIDs() {
		g := w.ground[id]
		fmt.Fprintf(h, "ground=%s owner=%s %s=%d\n", g.ID, g.Owner, g.Item, g.Count)
	}
	return hex.EncodeToString(h.Sum(nil))
}
