package worldtest

import (
	"context"
	"testing"
	"time"

	"tradepost.ai/internal/protocol"
)

func TestTrade_FullSettlement(t *testing.T) {
	h := NewHarness(t, testConfig(), nil, "alice")
	alice := h.DefaultAgentID
	bob := h.Join("bob")

	sid := openTrade(h, alice, bob)
	if sid == "" {
		t.Fatalf("empty session id")
	}
	if obs := h.LastObsFor(alice); obs.Trade == nil || obs.Trade.You.FirstSlot != 0 || !obs.Self.Busy {
		t.Fatalf("alice trade view: %+v busy=%v", obs.Trade, obs.Self.Busy)
	}

	h.StepFor(alice, slot("s1", 0, "WOOD", 5))
	if got := invCount(h.LastObsFor(alice).Inventory, "WOOD"); got != 15 {
		t.Fatalf("escrow should remove wood from inventory, have %d", got)
	}
	h.StepFor(bob, slot("s2", 4, "STONE", 3))
	h.StepFor(alice, offer("o1", 30))
	h.StepFor(bob, offer("o2", 10))

	obs := h.StepFor(alice, req("c1", protocol.InstantTradeConfirm))
	if code := actionResultCode(obs, "c1"); code != "" {
		t.Fatalf("alice confirm: %s", code)
	}
	obs = h.StepFor(bob, req("c2", protocol.InstantTradeConfirm))
	done := findEvent(obs, "TRADE_DONE")
	if done == nil {
		t.Fatalf("expected TRADE_DONE, events=%v", obs.Events)
	}
	if paid, _ := done["paid"].(float64); paid != 10 {
		t.Fatalf("bob paid %v", done["paid"])
	}

	a := h.LastObsFor(alice)
	b := h.LastObsFor(bob)
	if a.Balance != 80 || b.Balance != 120 {
		t.Fatalf("balances alice=%d bob=%d", a.Balance, b.Balance)
	}
	if invCount(a.Inventory, "WOOD") != 15 || invCount(a.Inventory, "STONE") != 23 {
		t.Fatalf("alice inventory %v", a.Inventory)
	}
	if invCount(b.Inventory, "WOOD") != 25 || invCount(b.Inventory, "STONE") != 17 {
		t.Fatalf("bob inventory %v", b.Inventory)
	}
	if a.Trade != nil || a.Self.Busy || b.Self.Busy {
		t.Fatalf("both parties should be free after settlement")
	}
	if h.Ledger.Balance(alice)+h.Ledger.Balance(bob) != 200 {
		t.Fatalf("currency not conserved")
	}
}

func TestTrade_ConfirmNeedsFunds(t *testing.T) {
	h := NewHarness(t, testConfig(), nil, "alice")
	alice := h.DefaultAgentID
	bob := h.Join("bob")
	openTrade(h, alice, bob)

	h.StepFor(alice, offer("o1", 150))
	obs := h.StepFor(alice, req("c1", protocol.InstantTradeConfirm))
	if code := actionResultCode(obs, "c1"); code != protocol.ErrNoFunds {
		t.Fatalf("confirm with short balance: want %s got %s", protocol.ErrNoFunds, code)
	}
	if obs.Trade == nil || obs.Trade.You.Confirmed {
		t.Fatalf("confirmation must not stick")
	}
}

func TestTrade_CommandSurface(t *testing.T) {
	h := NewHarness(t, testConfig(), nil, "alice")
	alice := h.DefaultAgentID
	bob := h.Join("bob")

	obs := h.StepFor(alice, protocol.InstantReq{ID: "c1", Type: protocol.InstantCommand, Text: "trade Bob"})
	if code := actionResultCode(obs, "c1"); code != "" {
		t.Fatalf("trade bob: %s", code)
	}
	if findEvent(h.LastObsFor(bob), "TRADE_REQUEST_RECEIVED") == nil {
		t.Fatalf("bob should see the request")
	}
	obs = h.StepFor(bob, protocol.InstantReq{ID: "c2", Type: protocol.InstantCommand, Text: "trade accept alice"})
	if code := actionResultCode(obs, "c2"); code != "" {
		t.Fatalf("trade accept: %s", code)
	}
	if obs.Trade == nil || obs.Trade.Them.AgentID != alice {
		t.Fatalf("bob should be trading with alice: %+v", obs.Trade)
	}

	obs = h.StepFor(bob, protocol.InstantReq{ID: "c3", Type: protocol.InstantCommand, Text: "balance"})
	if code := actionResultCode(obs, "c3"); code != "" {
		t.Fatalf("balance: %s", code)
	}
	obs = h.StepFor(bob, protocol.InstantReq{ID: "c4", Type: protocol.InstantCommand, Text: "trade"})
	if code := actionResultCode(obs, "c4"); code != protocol.ErrBadRequest {
		t.Fatalf("bare trade should be a usage error, got %s", code)
	}
	obs = h.StepFor(bob, protocol.InstantReq{ID: "c5", Type: protocol.InstantCommand, Text: "trade cancel"})
	if code := actionResultCode(obs, "c5"); code != "" {
		t.Fatalf("trade cancel: %s", code)
	}
	if obs.Trade != nil {
		t.Fatalf("session should be gone after cancel")
	}
}

func TestTrade_SurfaceCloseCancelsOnNextTick(t *testing.T) {
	h := NewHarness(t, testConfig(), nil, "alice")
	alice := h.DefaultAgentID
	bob := h.Join("bob")
	openTrade(h, alice, bob)
	h.StepFor(bob, slot("s1", 4, "STONE", 7))

	obs := h.StepFor(bob, req("x", protocol.InstantTradeClose))
	if code := actionResultCode(obs, "x"); code != "" {
		t.Fatalf("close: %s", code)
	}
	if obs.Trade == nil {
		t.Fatalf("close is deferred; session should still be visible this tick")
	}
	h.StepNoop()
	b := h.LastObsFor(bob)
	if b.Trade != nil || findEvent(b, "TRADE_CANCELLED") == nil {
		t.Fatalf("expected TRADE_CANCELLED after the deferred close, events=%v", b.Events)
	}
	if invCount(b.Inventory, "STONE") != 20 {
		t.Fatalf("escrowed stone should be back, have %v", b.Inventory)
	}
	if findEvent(h.LastObsFor(alice), "TRADE_CANCELLED") == nil {
		t.Fatalf("alice should be told")
	}
}

func TestTrade_BusyTargetRejected(t *testing.T) {
	h := NewHarness(t, testConfig(), nil, "alice")
	alice := h.DefaultAgentID
	bob := h.Join("bob")
	carol := h.Join("carol")
	openTrade(h, alice, bob)

	obs := h.StepFor(carol, protocol.InstantReq{ID: "p", Type: protocol.InstantTradeRequest, To: "alice"})
	if code := actionResultCode(obs, "p"); code != protocol.ErrBusy {
		t.Fatalf("proposal to a busy agent: want %s got %s", protocol.ErrBusy, code)
	}
}

func TestTrade_ExpiredRequestNotifiesBoth(t *testing.T) {
	h := NewHarness(t, testConfig(), nil, "alice")
	alice := h.DefaultAgentID
	bob := h.Join("bob")

	now := time.Now()
	h.W.SetClock(func() time.Time { return now })

	h.StepFor(alice, protocol.InstantReq{ID: "p", Type: protocol.InstantTradeRequest, To: bob})
	now = now.Add(time.Hour)
	h.W.RequestSweep(context.Background())
	h.StepNoop()
	if n := h.W.Requests().Len(); n != 0 {
		t.Fatalf("sweep left %d requests", n)
	}
	if findEvent(h.LastObsFor(alice), "TRADE_REQUEST_EXPIRED") == nil || findEvent(h.LastObsFor(bob), "TRADE_REQUEST_EXPIRED") == nil {
		t.Fatalf("both sides should be told the request lapsed")
	}

	obs := h.StepFor(bob, protocol.InstantReq{ID: "a", Type: protocol.InstantTradeAccept, From: alice})
	if code := actionResultCode(obs, "a"); code != protocol.ErrInvalidTarget {
		t.Fatalf("accepting a swept request: want %s got %s", protocol.ErrInvalidTarget, code)
	}
}

func TestTrade_OverflowDropsToGround(t *testing.T) {
	cfg := testConfig()
	cfg.InventorySlots = 2
	h := NewHarness(t, cfg, nil, "alice")
	alice := h.DefaultAgentID
	bob := h.Join("bob")
	openTrade(h, alice, bob)

	// Free a slot on bob's side so he can hold something alice has no room for.
	h.StepFor(bob, slot("s1", 4, "STONE", 20))
	h.AddInventoryFor(bob, "IRON", 5)
	h.StepFor(bob, slot("s2", 5, "IRON", 5))

	h.StepFor(alice, req("c1", protocol.InstantTradeConfirm))
	h.StepFor(bob, req("c2", protocol.InstantTradeConfirm))

	a := h.LastObsFor(alice)
	if findEvent(a, "TRADE_DONE") == nil {
		t.Fatalf("trade should settle, events=%v", a.Events)
	}
	if findEvent(a, "ITEMS_DROPPED") == nil {
		t.Fatalf("expected ITEMS_DROPPED for alice")
	}
	if invCount(a.Inventory, "STONE") != 40 || invCount(a.Inventory, "IRON") != 0 {
		t.Fatalf("alice inventory %v", a.Inventory)
	}
	if got := h.W.DebugGroundCount(alice, "IRON"); got != 5 {
		t.Fatalf("ground iron for alice = %d", got)
	}
	if invCount(a.Ground, "IRON") != 5 {
		t.Fatalf("OBS ground should list the pile: %v", a.Ground)
	}

	obs := h.StepFor(alice, req("pk", protocol.InstantPickup))
	if code := actionResultCode(obs, "pk"); code != protocol.ErrConflict {
		t.Fatalf("pickup with a full inventory: want %s got %s", protocol.ErrConflict, code)
	}
	obs = h.StepFor(bob, req("pk2", protocol.InstantPickup))
	if code := actionResultCode(obs, "pk2"); code != protocol.ErrNoResource {
		t.Fatalf("bob cannot take alice's pile: want %s got %s", protocol.ErrNoResource, code)
	}
}
