// Package busy tracks which agents are inside a trade session.
//
// Both participants of a session enter and leave together under one lock, so
// a reader never sees one side busy and the other free.
package busy

import (
	"errors"
	"sync"

	"tradepost.ai/internal/sim/world/feature/trade/session"
)

var ErrBusy = errors.New("agent is already trading")

type Tracker struct {
	mu      sync.RWMutex
	members map[string]*session.Session
}

func NewTracker() *Tracker {
	return &Tracker{members: map[string]*session.Session{}}
}

func (t *Tracker) IsBusy(agentID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.members[agentID]
	return ok
}

// SessionOf returns the session agentID is in, if any.
func (t *Tracker) SessionOf(agentID string) *session.Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.members[agentID]
}

// Pair reads both agents' sessions under one lock.
func (t *Tracker) Pair(a, b string) (*session.Session, *session.Session) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.members[a], t.members[b]
}

// Occupy marks both players of s busy, or neither if either already is.
func (t *Tracker) Occupy(s *session.Session) error {
	p := s.Players()
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.members[p[0]]; ok {
		return ErrBusy
	}
	if _, ok := t.members[p[1]]; ok {
		return ErrBusy
	}
	t.members[p[0]] = s
	t.members[p[1]] = s
	return nil
}

// Release frees both players of s. Entries that point at another session are
// left alone, so repeated or late calls are no-ops.
func (t *Tracker) Release(s *session.Session) bool {
	p := s.Players()
	t.mu.Lock()
	defer t.mu.Unlock()
	released := false
	for _, id := range p {
		if t.members[id] == s {
			delete(t.members, id)
			released = true
		}
	}
	return released
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}
