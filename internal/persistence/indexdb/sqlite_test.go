package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tradepost.ai/internal/persistence/snapshot"
	"tradepost.ai/internal/sim/world"
)

func TestSQLiteIndex_TradesAndAudits(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index", "trades.sqlite")

	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for tick := uint64(0); tick < 3; tick++ {
		_ = idx.WriteTick(world.TickLogEntry{Tick: tick, At: at, Digest: "d"})
	}
	audits := []world.AuditEntry{
		{Tick: 1, Actor: "bob", Action: "TRADE_STARTED", SessionID: "S1",
			Details: map[string]any{"player_one": "alice", "player_two": "bob"}},
		{Tick: 2, Action: "TRADE_DONE", SessionID: "S1",
			Details: map[string]any{"player_one": "alice", "player_two": "bob", "offer_one": int64(0), "offer_two": int64(30)}},
		{Tick: 2, Actor: "carol", Action: "TRADE_STARTED", SessionID: "S2",
			Details: map[string]any{"player_one": "alice", "player_two": "carol"}},
		{Tick: 2, Actor: "alice", Action: "TRADE_CANCELLED", SessionID: "S2", Reason: "EXPLICIT"},
	}
	for _, a := range audits {
		_ = idx.WriteAudit(a)
	}
	idx.RecordSnapshot("/snap/2.snap.zst", snapshot.SnapshotV1{
		Header: snapshot.Header{Tick: 2},
		Agents: make([]snapshot.AgentV1, 3),
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if idx.Dropped() != 0 {
		t.Fatalf("dropped %d writes", idx.Dropped())
	}

	r, err := OpenReader(dbPath)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	defer r.Close()
	ctx := context.Background()

	trades, err := r.Trades(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("want 2 trades for alice, got %+v", trades)
	}
	byID := map[string]TradeRow{}
	for _, tr := range trades {
		byID[tr.SessionID] = tr
	}
	if s1 := byID["S1"]; s1.Outcome != OutcomeCommitted || s1.OfferTwo != 30 || s1.EndedTick != 2 || s1.PlayerTwo != "bob" {
		t.Fatalf("S1: %+v", s1)
	}
	if s2 := byID["S2"]; s2.Outcome != OutcomeCancelled || s2.Reason != "EXPLICIT" {
		t.Fatalf("S2: %+v", s2)
	}

	bobs, err := r.Trades(ctx, "bob", 10)
	if err != nil || len(bobs) != 1 || bobs[0].SessionID != "S1" {
		t.Fatalf("bob trades: %v %+v", err, bobs)
	}
	all, err := r.Trades(ctx, "", 1)
	if err != nil || len(all) != 1 {
		t.Fatalf("limit: %v %+v", err, all)
	}

	log, err := r.Audits(ctx, "S1")
	if err != nil {
		t.Fatalf("audits: %v", err)
	}
	if len(log) != 2 || log[0].Action != "TRADE_STARTED" || log[1].Action != "TRADE_DONE" {
		t.Fatalf("S1 audits: %+v", log)
	}

	snaps, err := r.Snapshots(ctx)
	if err != nil || len(snaps) != 1 || snaps[0].Agents != 3 {
		t.Fatalf("snapshots: %v %+v", err, snaps)
	}
	tick, digest, err := r.LastTick(ctx)
	if err != nil || tick != 2 || digest != "d" {
		t.Fatalf("last tick: %d %q %v", tick, digest, err)
	}
}

func TestSQLiteIndex_WritesAfterCloseAreIgnored(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "i.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := idx.WriteAudit(world.AuditEntry{Action: "TRADE_DONE"}); err != nil {
		t.Fatalf("write after close: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestOpenReader_MissingFile(t *testing.T) {
	if _, err := OpenReader(filepath.Join(t.TempDir(), "nope.sqlite")); err == nil {
		t.Fatalf("expected error for missing index")
	}
}
