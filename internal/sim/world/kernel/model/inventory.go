package model

import (
	"sort"

	"tradepost.ai/internal/protocol"
)

// Inventory is a fixed number of slots, each holding at most MaxStack of one item.
type Inventory struct {
	slots    []protocol.ItemStack
	maxStack int
}

func NewInventory(slots, maxStack int) *Inventory {
	if slots <= 0 {
		slots = 1
	}
	if maxStack <= 0 {
		maxStack = 1
	}
	return &Inventory{slots: make([]protocol.ItemStack, slots), maxStack: maxStack}
}

func (inv *Inventory) Size() int     { return len(inv.slots) }
func (inv *Inventory) MaxStack() int { return inv.maxStack }

func (inv *Inventory) Count(item string) int {
	n := 0
	for _, s := range inv.slots {
		if s.Item == item {
			n += s.Count
		}
	}
	return n
}

// Room reports how many more of item fit.
func (inv *Inventory) Room(item string) int {
	n := 0
	for _, s := range inv.slots {
		switch {
		case s.Empty():
			n += inv.maxStack
		case s.Item == item:
			n += inv.maxStack - s.Count
		}
	}
	return n
}

// Add stores as much of n as fits and returns what did not.
func (inv *Inventory) Add(item string, n int) (leftover int) {
	if item == "" || n <= 0 {
		return 0
	}
	for i := range inv.slots {
		if n == 0 {
			return 0
		}
		s := &inv.slots[i]
		if s.Item != item || s.Count >= inv.maxStack {
			continue
		}
		take := min(inv.maxStack-s.Count, n)
		s.Count += take
		n -= take
	}
	for i := range inv.slots {
		if n == 0 {
			return 0
		}
		s := &inv.slots[i]
		if !s.Empty() {
			continue
		}
		take := min(inv.maxStack, n)
		*s = protocol.ItemStack{Item: item, Count: take}
		n -= take
	}
	return n
}

// Remove takes n of item, from the last slots first. Nothing changes if fewer than n are held.
func (inv *Inventory) Remove(item string, n int) bool {
	if n <= 0 {
		return true
	}
	if inv.Count(item) < n {
		return false
	}
	for i := len(inv.slots) - 1; i >= 0 && n > 0; i-- {
		s := &inv.slots[i]
		if s.Item != item {
			continue
		}
		take := min(s.Count, n)
		s.Count -= take
		n -= take
		if s.Count == 0 {
			*s = protocol.ItemStack{}
		}
	}
	return true
}

// List aggregates held items by id, sorted.
func (inv *Inventory) List() []protocol.ItemStack {
	counts := map[string]int{}
	for _, s := range inv.slots {
		if !s.Empty() {
			counts[s.Item] += s.Count
		}
	}
	out := make([]protocol.ItemStack, 0, len(counts))
	for item, c := range counts {
		out = append(out, protocol.ItemStack{Item: item, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	return out
}

// Stacks returns the non-empty slots in slot order.
func (inv *Inventory) Stacks() []protocol.ItemStack {
	out := make([]protocol.ItemStack, 0, len(inv.slots))
	for _, s := range inv.slots {
		if !s.Empty() {
			out = append(out, s)
		}
	}
	return out
}
