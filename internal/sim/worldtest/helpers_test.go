package worldtest

import (
	"tradepost.ai/internal/protocol"
	world "tradepost.ai/internal/sim/world"
	"tradepost.ai/internal/sim/world/kernel/model"
)

func testConfig() world.WorldConfig {
	return world.WorldConfig{
		ID:              "test",
		TickRateHz:      5,
		SlotsPerSide:    4,
		InventorySlots:  16,
		MaxStack:        64,
		StartingBalance: 100,
		StarterItems:    map[string]int{"WOOD": 20, "STONE": 20},
		Spawn:           model.Vec3i{X: 0, Y: 0, Z: 0},
	}
}

func actionResultCode(obs protocol.ObsMsg, ref string) string {
	for _, e := range obs.Events {
		if typ, _ := e["type"].(string); typ != "ACTION_RESULT" {
			continue
		}
		if got, _ := e["ref"].(string); got != ref {
			continue
		}
		if ok, _ := e["ok"].(bool); ok {
			return ""
		}
		if code, _ := e["code"].(string); code != "" {
			return code
		}
		return "E_INTERNAL"
	}
	return "E_INTERNAL"
}

func findEvent(obs protocol.ObsMsg, typ string) protocol.Event {
	for _, e := range obs.Events {
		if got, _ := e["type"].(string); got == typ {
			return e
		}
	}
	return nil
}

func invCount(inv []protocol.ItemStack, item string) int {
	for _, it := range inv {
		if it.Item == item {
			return it.Count
		}
	}
	return 0
}

func req(id, typ string) protocol.InstantReq { return protocol.InstantReq{ID: id, Type: typ} }

func slot(id string, n int, item string, count int) protocol.InstantReq {
	return protocol.InstantReq{ID: id, Type: protocol.InstantTradeSlot, Slot: n, Item: item, Count: count}
}

func offer(id string, amount int64) protocol.InstantReq {
	return protocol.InstantReq{ID: id, Type: protocol.InstantTradeOffer, Amount: amount}
}

// openTrade has requester propose and target accept; it returns the session id.
func openTrade(h *Harness, requester, target string) string {
	h.T.Helper()
	obs := h.StepFor(requester, protocol.InstantReq{ID: "propose", Type: protocol.InstantTradeRequest, To: target})
	if code := actionResultCode(obs, "propose"); code != "" {
		h.T.Fatalf("propose: %s", code)
	}
	obs = h.StepFor(target, protocol.InstantReq{ID: "accept", Type: protocol.InstantTradeAccept, From: requester})
	if code := actionResultCode(obs, "accept"); code != "" {
		h.T.Fatalf("accept: %s", code)
	}
	ev := findEvent(obs, "TRADE_STARTED")
	if ev == nil {
		h.T.Fatalf("no TRADE_STARTED for %s", target)
	}
	id, _ := ev["session_id"].(string)
	return id
}
