package model

import (
	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/sim/world/logic/rates"
)

type Agent struct {
	// ID is the normalized agent name; it doubles as the ledger account.
	ID   string
	Name string

	// SessionID identifies the current connection. A reconnect gets a new one.
	SessionID string
	// ResumeToken is a transport-level token used for reconnects.
	// It is not included in snapshots.
	ResumeToken string

	Pos       Vec3i
	Inventory *Inventory

	Events []protocol.Event

	// Rate limiting windows (per action type).
	rl map[string]*rateWindow
}

type rateWindow struct {
	StartTick uint64
	Count     int
}

func NewAgent(id, name string, pos Vec3i, slots, maxStack int) *Agent {
	return &Agent{
		ID:        id,
		Name:      name,
		Pos:       pos,
		Inventory: NewInventory(slots, maxStack),
		rl:        map[string]*rateWindow{},
	}
}

func (a *Agent) AddEvent(e protocol.Event) {
	a.Events = append(a.Events, e)
	// Bound the backlog of a client that stopped reading.
	if len(a.Events) > 1024 {
		a.Events = append([]protocol.Event(nil), a.Events[len(a.Events)-1024:]...)
	}
}

func (a *Agent) TakeEvents() []protocol.Event {
	ev := a.Events
	a.Events = nil
	return ev
}

func (a *Agent) RateLimitAllow(kind string, nowTick uint64, window uint64, max int) (ok bool, cooldownTicks uint64) {
	if a.rl == nil {
		a.rl = map[string]*rateWindow{}
	}
	w, ok := a.rl[kind]
	if !ok {
		w = &rateWindow{StartTick: nowTick}
		a.rl[kind] = w
	}
	start, count, allow, cool := rates.Allow(nowTick, w.StartTick, w.Count, window, max)
	w.StartTick = start
	w.Count = count
	return allow, cool
}
