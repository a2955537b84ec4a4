// Package request holds pending trade requests, at most one per target.
//
// Every operation runs under one mutex and removal of an entry happens in
// exactly one place: whichever caller deletes it owns the outcome. The world
// loop is the only writer in the server; Sweeper just tells it when to sweep.
package request

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrSelfTrade      = errors.New("cannot trade with yourself")
	ErrNoRequest      = errors.New("no pending request")
	ErrStaleRequester = errors.New("requester no longer matches")
	ErrExpired        = errors.New("request expired")
)

// Party identifies an agent together with the connection it acted from.
type Party struct {
	ID      string
	Session string
}

type Request struct {
	Requester Party
	Target    Party
	CreatedAt time.Time
}

// Expired reports whether the request is older than timeout at now.
func (r Request) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(r.CreatedAt) > timeout
}

type Registry struct {
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]Request // keyed by target id
}

func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Registry{timeout: timeout, pending: map[string]Request{}}
}

func (r *Registry) Timeout() time.Duration { return r.timeout }

// Propose records a request from requester to target, replacing any request
// target already had pending. Busy checks are the caller's job.
func (r *Registry) Propose(requester, target Party, now time.Time) (replaced *Request, err error) {
	if requester.ID == "" || target.ID == "" {
		return nil, ErrNoRequest
	}
	if requester.ID == target.ID {
		return nil, ErrSelfTrade
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.pending[target.ID]; ok {
		replaced = &prev
	}
	r.pending[target.ID] = Request{Requester: requester, Target: target, CreatedAt: now}
	return replaced, nil
}

// Accept claims target's pending request. live is the requester as currently
// connected (zero if offline). A mismatch leaves the entry in place; an expired
// entry is removed and returned together with ErrExpired.
func (r *Registry) Accept(target string, live Party, now time.Time) (Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.pending[target]
	if !ok {
		return Request{}, ErrNoRequest
	}
	if live.ID == "" || req.Requester != live {
		return req, ErrStaleRequester
	}
	delete(r.pending, target)
	if req.Expired(now, r.timeout) {
		return req, ErrExpired
	}
	return req, nil
}

// Deny drops target's pending request if it came from requesterID (any
// requester when requesterID is empty). It never fails.
func (r *Registry) Deny(target, requesterID string) (Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.pending[target]
	if !ok {
		return Request{}, false
	}
	if requesterID != "" && req.Requester.ID != requesterID {
		return Request{}, false
	}
	delete(r.pending, target)
	return req, true
}

// Sweep removes and returns every request older than the timeout, oldest first.
func (r *Registry) Sweep(now time.Time) []Request {
	r.mu.Lock()
	var out []Request
	for target, req := range r.pending {
		if req.Expired(now, r.timeout) {
			out = append(out, req)
			delete(r.pending, target)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Target.ID < out[j].Target.ID
	})
	return out
}

// Pending returns target's pending request without claiming it.
func (r *Registry) Pending(target string) (Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.pending[target]
	return req, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
