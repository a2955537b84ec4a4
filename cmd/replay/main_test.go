package main

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"tradepost.ai/internal/ledger"
	persistlog "tradepost.ai/internal/persistence/log"
	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/sim/world"
)

func TestReplayDir_VerifiesRecordedTrade(t *testing.T) {
	dir := t.TempDir()
	cfg := world.WorldConfig{ID: "w", StartingBalance: 50, StarterItems: map[string]int{"WOOD": 5}}
	w, err := world.New(cfg, ledger.NewMemory(nil))
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	tl := persistlog.NewTickLogger(dir)
	w.SetTickLogger(tl)

	resp := make(chan world.JoinResponse, 2)
	w.StepOnce([]world.JoinRequest{{Name: "alice", Resp: resp}, {Name: "bob", Resp: resp}}, nil, nil)
	act := func(agent string, inst protocol.InstantReq) {
		w.StepOnce(nil, nil, []world.ActionEnvelope{{AgentID: agent, Act: protocol.ActMsg{
			Type:     protocol.TypeAct,
			Tick:     w.CurrentTick(),
			Instants: []protocol.InstantReq{inst},
		}}})
	}
	act("alice", protocol.InstantReq{ID: "p", Type: protocol.InstantTradeRequest, To: "bob"})
	act("bob", protocol.InstantReq{ID: "a", Type: protocol.InstantTradeAccept, From: "alice"})
	act("alice", protocol.InstantReq{ID: "s", Type: protocol.InstantTradeSlot, Slot: 0, Item: "WOOD", Count: 2})
	act("bob", protocol.InstantReq{ID: "o", Type: protocol.InstantTradeOffer, Amount: 20})
	act("alice", protocol.InstantReq{ID: "c1", Type: protocol.InstantTradeConfirm})
	act("bob", protocol.InstantReq{ID: "c2", Type: protocol.InstantTradeConfirm})
	if err := tl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if w.Ledger().Balance("bob") != 30 {
		t.Fatalf("trade did not settle live")
	}

	events := filepath.Join(dir, "events")
	checked, err := replayDir(cfg, events, 0)
	if err != nil || checked != 7 {
		t.Fatalf("replay: checked=%d err=%v", checked, err)
	}
	checked, err = replayDir(cfg, events, 2)
	if err != nil || checked != 3 {
		t.Fatalf("partial replay: checked=%d err=%v", checked, err)
	}
}

func TestReplayDir_DetectsDivergenceAndRestarts(t *testing.T) {
	cfg := world.WorldConfig{ID: "w"}

	dir := t.TempDir()
	tl := persistlog.NewTickLogger(dir)
	_ = tl.WriteTick(world.TickLogEntry{Tick: 0, Digest: "bogus"})
	_ = tl.Close()
	if _, err := replayDir(cfg, filepath.Join(dir, "events"), 0); err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("want digest mismatch, got %v", err)
	}

	dir = t.TempDir()
	tl = persistlog.NewTickLogger(dir)
	_ = tl.WriteTick(world.TickLogEntry{Tick: 40, Imported: true})
	_ = tl.Close()
	if _, err := replayDir(cfg, filepath.Join(dir, "events"), 0); !errors.Is(err, errRestart) {
		t.Fatalf("want restart boundary, got %v", err)
	}

	if _, err := replayDir(cfg, t.TempDir(), 0); err == nil {
		t.Fatalf("empty dir must fail")
	}
}
