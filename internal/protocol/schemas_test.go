package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tradepost.ai/internal/protocol"
)

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

func validateJSON(t *testing.T, s *jsonschema.Schema, raw []byte) {
	t.Helper()
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := s.Validate(v); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestSchemas_ValidateSamples(t *testing.T) {
	validateJSON(t, compileSchema(t, "hello.schema.json"), []byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "agent_name":"alice",
	  "capabilities":{"max_queue":8}
	}`))

	validateJSON(t, compileSchema(t, "act.schema.json"), []byte(`{
	  "type":"ACT",
	  "protocol_version":"1.0",
	  "tick":12,
	  "agent_id":"alice",
	  "instants":[
	    {"id":"I1","type":"TRADE_REQUEST","to":"bob"},
	    {"id":"I2","type":"TRADE_SLOT","slot":0,"item":"PLANK","count":4},
	    {"id":"I3","type":"TRADE_OFFER","amount":-5},
	    {"id":"I4","type":"COMMAND","text":"trade accept bob"}
	  ]
	}`))
}

// Messages produced by the server must satisfy the published schemas.
func TestSchemas_ServerMessages(t *testing.T) {
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "4f1c",
		AgentID:         "alice",
		ResumeToken:     "resume_main_1",
		WorldParams: protocol.WorldParams{
			WorldID:           "main",
			TickRateHz:        5,
			SlotsPerSide:      12,
			InventorySlots:    36,
			MaxStack:          64,
			RequestTimeoutSec: 30,
		},
	}
	b, err := json.Marshal(welcome)
	if err != nil {
		t.Fatalf("marshal welcome: %v", err)
	}
	validateJSON(t, compileSchema(t, "welcome.schema.json"), b)

	obs := protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		Tick:            3,
		AgentID:         "alice",
		Self:            protocol.SelfObs{Pos: [3]int{0, 0, 0}, Name: "alice", Busy: true},
		Balance:         70,
		Inventory:       []protocol.ItemStack{{Item: "PLANK", Count: 2}},
		Trade: &protocol.TradeObs{
			SessionID: "TS000001",
			State:     "NEGOTIATING",
			You:       protocol.TradeSideObs{AgentID: "alice", FirstSlot: 0, Slots: []protocol.ItemStack{{Item: "PLANK", Count: 1}, {}}, Offer: 30},
			Them:      protocol.TradeSideObs{AgentID: "bob", FirstSlot: 2, Slots: []protocol.ItemStack{{}, {}}, Offer: 20, Confirmed: true},
		},
		Events: []protocol.Event{{"t": 3, "type": "TRADE_STATE"}},
	}
	b, err = json.Marshal(obs)
	if err != nil {
		t.Fatalf("marshal obs: %v", err)
	}
	validateJSON(t, compileSchema(t, "obs.schema.json"), b)
}

func TestSchemas_RejectsUnknownInstant(t *testing.T) {
	s := compileSchema(t, "act.schema.json")
	var v any
	_ = json.Unmarshal([]byte(`{"type":"ACT","protocol_version":"1.0","instants":[{"id":"I1","type":"MINE"}]}`), &v)
	if err := s.Validate(v); err == nil {
		t.Fatalf("expected validation error for unknown instant type")
	}
}
