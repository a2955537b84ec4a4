package worldtest

import (
	"testing"

	"tradepost.ai/internal/protocol"
	world "tradepost.ai/internal/sim/world"
)

func TestJoin_RejectsBadAndDuplicateNames(t *testing.T) {
	h := NewHarness(t, testConfig(), nil, "alice")

	if wel := h.JoinWelcome("ALICE"); wel.Code != protocol.ErrConflict {
		t.Fatalf("second connection for alice: want %s got %q", protocol.ErrConflict, wel.Code)
	}
	for _, name := range []string{"", "has space", "waytoolongname_1234", "accept"} {
		if wel := h.JoinWelcome(name); wel.Code != protocol.ErrBadRequest || wel.AgentID != "" {
			t.Fatalf("join %q: want %s got %q", name, protocol.ErrBadRequest, wel.Code)
		}
	}
}

func TestReconnect_RequestFromOldSessionIsStale(t *testing.T) {
	h := NewHarness(t, testConfig(), nil, "alice")
	alice := h.DefaultAgentID
	bob := h.Join("bob")

	h.StepFor(alice, protocol.InstantReq{ID: "p", Type: protocol.InstantTradeRequest, To: bob})
	h.Leave(alice)
	if again := h.Join("alice"); again != alice {
		t.Fatalf("rejoin by name should keep the id, got %q", again)
	}

	obs := h.StepFor(bob, protocol.InstantReq{ID: "a", Type: protocol.InstantTradeAccept, From: alice})
	if code := actionResultCode(obs, "a"); code != protocol.ErrStale {
		t.Fatalf("accepting a request from a previous connection: want %s got %s", protocol.ErrStale, code)
	}
	if obs.Trade != nil {
		t.Fatalf("no session may start from a stale request")
	}
}

func TestReconnect_DisconnectCancelsAndReturnsEscrow(t *testing.T) {
	h := NewHarness(t, testConfig(), nil, "alice")
	alice := h.DefaultAgentID
	bob := h.Join("bob")
	openTrade(h, alice, bob)
	h.StepFor(alice, slot("s", 0, "WOOD", 12))
	h.StepFor(bob, offer("o", 40))

	h.Leave(alice)
	b := h.LastObsFor(bob)
	if b.Trade != nil || b.Self.Busy {
		t.Fatalf("bob should be free after alice disconnects")
	}
	ev := findEvent(b, "TRADE_CANCELLED")
	if ev == nil {
		t.Fatalf("bob should see TRADE_CANCELLED, events=%v", b.Events)
	}
	if b.Balance != 100 {
		t.Fatalf("no currency moves on cancel, bob has %d", b.Balance)
	}

	h.Join("alice")
	a := h.LastObsFor(alice)
	if invCount(a.Inventory, "WOOD") != 20 {
		t.Fatalf("escrowed wood should be home, have %v", a.Inventory)
	}
	if a.Self.Busy {
		t.Fatalf("alice should not be busy after reconnect")
	}
}

func TestResume_SupersedesOldConnection(t *testing.T) {
	h := NewHarness(t, testConfig(), nil, "alice")
	alice := h.DefaultAgentID
	oldSession, token := h.SessionOf(alice)

	wel := h.Resume(alice, token)
	if wel.AgentID != alice || wel.SessionID == "" || wel.SessionID == oldSession {
		t.Fatalf("resume welcome: %+v", wel)
	}
	if wel.ResumeToken == token {
		t.Fatalf("resume token should rotate")
	}
	if bad := h.Resume(alice, token); bad.Code != protocol.ErrInvalidTarget {
		t.Fatalf("old token must not work twice, got %q", bad.Code)
	}

	// A late leave from the superseded socket is ignored.
	_, _ = h.W.StepOnce(nil, []world.LeaveRequest{{AgentID: alice, SessionID: oldSession}}, nil)
	obs := h.StepFor(alice, req("b", protocol.InstantBalance))
	if code := actionResultCode(obs, "b"); code != "" {
		t.Fatalf("resumed connection should act: %s", code)
	}
}
