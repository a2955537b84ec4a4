package request

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func party(id string) Party { return Party{ID: id, Session: "s-" + id} }

func TestPropose_SelfTradeRejected(t *testing.T) {
	r := NewRegistry(30 * time.Second)
	if _, err := r.Propose(party("alice"), party("alice"), t0); !errors.Is(err, ErrSelfTrade) {
		t.Fatalf("err=%v want ErrSelfTrade", err)
	}
	if r.Len() != 0 {
		t.Fatalf("registry mutated on self trade")
	}
}

func TestPropose_OverwritesPerTarget(t *testing.T) {
	r := NewRegistry(30 * time.Second)
	if prev, err := r.Propose(party("alice"), party("bob"), t0); err != nil || prev != nil {
		t.Fatalf("first propose: prev=%v err=%v", prev, err)
	}
	prev, err := r.Propose(party("carol"), party("bob"), t0.Add(time.Second))
	if err != nil || prev == nil || prev.Requester.ID != "alice" {
		t.Fatalf("second propose: prev=%v err=%v", prev, err)
	}
	got, ok := r.Pending("bob")
	if !ok || got.Requester.ID != "carol" || !got.CreatedAt.Equal(t0.Add(time.Second)) {
		t.Fatalf("pending=%+v ok=%v", got, ok)
	}
	if r.Len() != 1 {
		t.Fatalf("len=%d want 1", r.Len())
	}
}

func TestAccept(t *testing.T) {
	cases := []struct {
		name      string
		live      Party
		at        time.Time
		wantErr   error
		wantEntry bool
	}{
		{name: "ok", live: party("alice"), at: t0.Add(10 * time.Second), wantEntry: false},
		{name: "exactly at timeout", live: party("alice"), at: t0.Add(30 * time.Second), wantEntry: false},
		{name: "expired", live: party("alice"), at: t0.Add(31 * time.Second), wantErr: ErrExpired, wantEntry: false},
		{name: "requester offline", live: Party{}, at: t0, wantErr: ErrStaleRequester, wantEntry: true},
		{name: "requester reconnected", live: Party{ID: "alice", Session: "other"}, at: t0, wantErr: ErrStaleRequester, wantEntry: true},
		{name: "different requester", live: party("carol"), at: t0, wantErr: ErrStaleRequester, wantEntry: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRegistry(30 * time.Second)
			if _, err := r.Propose(party("alice"), party("bob"), t0); err != nil {
				t.Fatalf("propose: %v", err)
			}
			req, err := r.Accept("bob", tc.live, tc.at)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err=%v want %v", err, tc.wantErr)
			}
			if req.Requester.ID != "alice" {
				t.Fatalf("returned request=%+v", req)
			}
			if _, ok := r.Pending("bob"); ok != tc.wantEntry {
				t.Fatalf("entry present=%v want %v", ok, tc.wantEntry)
			}
		})
	}
}

func TestAccept_NoRequest(t *testing.T) {
	r := NewRegistry(30 * time.Second)
	if _, err := r.Accept("bob", party("alice"), t0); !errors.Is(err, ErrNoRequest) {
		t.Fatalf("err=%v want ErrNoRequest", err)
	}
}

func TestDeny_Idempotent(t *testing.T) {
	r := NewRegistry(30 * time.Second)
	r.Propose(party("alice"), party("bob"), t0)

	if _, ok := r.Deny("bob", "carol"); ok {
		t.Fatalf("deny with wrong requester must not remove")
	}
	req, ok := r.Deny("bob", "alice")
	if !ok || req.Requester.ID != "alice" {
		t.Fatalf("deny: req=%+v ok=%v", req, ok)
	}
	if _, ok := r.Deny("bob", "alice"); ok {
		t.Fatalf("second deny must be a no-op")
	}
	if r.Len() != 0 {
		t.Fatalf("len=%d", r.Len())
	}
}

func TestSweep_RemovesOnlyExpired(t *testing.T) {
	r := NewRegistry(30 * time.Second)
	r.Propose(party("alice"), party("bob"), t0)
	r.Propose(party("carol"), party("dave"), t0.Add(20*time.Second))

	if got := r.Sweep(t0.Add(30 * time.Second)); len(got) != 0 {
		t.Fatalf("nothing should expire at exactly the timeout: %v", got)
	}
	got := r.Sweep(t0.Add(31 * time.Second))
	if len(got) != 1 || got[0].Target.ID != "bob" || got[0].Requester.ID != "alice" {
		t.Fatalf("swept=%+v", got)
	}
	if _, ok := r.Pending("dave"); !ok {
		t.Fatalf("young request removed")
	}
	if _, err := r.Accept("bob", party("alice"), t0.Add(31*time.Second)); !errors.Is(err, ErrNoRequest) {
		t.Fatalf("accept after sweep: err=%v", err)
	}
}

func TestSweeper_SignalsWithoutTouchingRegistry(t *testing.T) {
	r := NewRegistry(time.Millisecond)
	r.Propose(party("alice"), party("bob"), time.Now().Add(-time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	fired := make(chan struct{}, 1)
	s := &Sweeper{Every: time.Millisecond, Due: func(context.Context) {
		select {
		case fired <- struct{}{}:
		default:
		}
	}}
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("sweeper never fired")
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("sweeper did not stop")
	}
	if r.Len() != 1 {
		t.Fatalf("the owner sweeps, not the sweeper: len=%d", r.Len())
	}
}

// An expired request is reported by exactly one of Accept and Sweep, never both.
func TestSweepVsAccept_SingleOwner(t *testing.T) {
	for i := 0; i < 200; i++ {
		r := NewRegistry(30 * time.Second)
		r.Propose(party("alice"), party("bob"), t0)
		now := t0.Add(31 * time.Second)

		var owners atomic.Int32
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := r.Accept("bob", party("alice"), now); errors.Is(err, ErrExpired) {
				owners.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			owners.Add(int32(len(r.Sweep(now))))
		}()
		wg.Wait()
		if got := owners.Load(); got != 1 {
			t.Fatalf("iteration %d: request reported %d times", i, got)
		}
	}
}
