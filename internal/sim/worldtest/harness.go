package worldtest

import (
	"encoding/json"
	"testing"

	"tradepost.ai/internal/ledger"
	"tradepost.ai/internal/persistence/snapshot"
	"tradepost.ai/internal/protocol"
	world "tradepost.ai/internal/sim/world"
)

// Harness is a small black-box test helper for driving a world via exported APIs:
// - Join()/Leave()/Resume() go through StepOnce() and AttachOnce()
// - Step()/StepFor() issues ACT via StepOnce()
// - Per-agent Out channels carry OBS JSON
// - ExportSnapshot/Debug* helpers provide deterministic preconditions
//
// It intentionally avoids touching world internals so tests can live outside the world package.
type Harness struct {
	T      *testing.T
	W      *world.World
	Ledger ledger.Ledger

	DefaultAgentID string

	sessions map[string]*session
}

func NewHarness(t *testing.T, cfg world.WorldConfig, l ledger.Ledger, agentName string) *Harness {
	t.Helper()

	if l == nil {
		l = ledger.NewMemory(nil)
	}
	w, err := world.New(cfg, l)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	return NewHarnessWithWorld(t, w, l, agentName)
}

// NewHarnessWithWorld is like NewHarness, but uses an already-constructed world instance.
// This is useful for snapshot round-trip tests where the snapshot is imported before join.
func NewHarnessWithWorld(t *testing.T, w *world.World, l ledger.Ledger, agentName string) *Harness {
	t.Helper()
	if w == nil {
		t.Fatalf("NewHarnessWithWorld: nil world")
	}

	h := &Harness{
		T:        t,
		W:        w,
		Ledger:   l,
		sessions: map[string]*session{},
	}
	if agentName != "" {
		h.DefaultAgentID = h.Join(agentName)
	}
	return h
}

type session struct {
	AgentID   string
	SessionID string
	Token     string
	Out       chan []byte
	lastObs   protocol.ObsMsg
}

// JoinWelcome joins without failing on a rejected welcome.
func (h *Harness) JoinWelcome(agentName string) protocol.WelcomeMsg {
	h.T.Helper()

	out := make(chan []byte, 16)
	resp := make(chan world.JoinResponse, 1)
	_, _ = h.W.StepOnce([]world.JoinRequest{{
		Name: agentName,
		Out:  out,
		Resp: resp,
	}}, nil, nil)
	jr := <-resp
	if jr.Welcome.AgentID != "" {
		h.sessions[jr.Welcome.AgentID] = &session{
			AgentID:   jr.Welcome.AgentID,
			SessionID: jr.Welcome.SessionID,
			Token:     jr.Welcome.ResumeToken,
			Out:       out,
		}
	}
	h.drainAllObs()
	return jr.Welcome
}

func (h *Harness) Join(agentName string) string {
	h.T.Helper()
	wel := h.JoinWelcome(agentName)
	if wel.AgentID == "" {
		h.T.Fatalf("join %q rejected: %s %s", agentName, wel.Code, wel.Message)
	}
	return wel.AgentID
}

// Leave drops agentID's current connection at the next tick boundary.
func (h *Harness) Leave(agentID string) {
	h.T.Helper()
	s := h.sessions[agentID]
	if s == nil {
		h.T.Fatalf("unknown agent id: %q", agentID)
	}
	_, _ = h.W.StepOnce(nil, []world.LeaveRequest{{AgentID: agentID, SessionID: s.SessionID}}, nil)
	delete(h.sessions, agentID)
	h.drainAllObs()
}

// Resume reattaches agentID with its resume token and returns the new welcome.
func (h *Harness) Resume(agentID string, token string) protocol.WelcomeMsg {
	h.T.Helper()
	out := make(chan []byte, 16)
	jr := h.W.AttachOnce(world.AttachRequest{ResumeToken: token, Out: out})
	if jr.Welcome.AgentID == "" {
		return jr.Welcome
	}
	h.sessions[agentID] = &session{
		AgentID:   agentID,
		SessionID: jr.Welcome.SessionID,
		Token:     jr.Welcome.ResumeToken,
		Out:       out,
	}
	return jr.Welcome
}

func (h *Harness) SessionOf(agentID string) (sessionID, token string) {
	h.T.Helper()
	s := h.sessions[agentID]
	if s == nil {
		h.T.Fatalf("unknown agent id: %q", agentID)
	}
	return s.SessionID, s.Token
}

func (h *Harness) LastObs() protocol.ObsMsg {
	return h.LastObsFor(h.DefaultAgentID)
}

func (h *Harness) LastObsFor(agentID string) protocol.ObsMsg {
	h.T.Helper()
	s := h.sessions[agentID]
	if s == nil {
		h.T.Fatalf("unknown agent id: %q", agentID)
	}
	return s.lastObs
}

func (h *Harness) Step(instants ...protocol.InstantReq) protocol.ObsMsg {
	return h.StepFor(h.DefaultAgentID, instants...)
}

func (h *Harness) StepFor(agentID string, instants ...protocol.InstantReq) protocol.ObsMsg {
	h.T.Helper()
	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            h.W.CurrentTick(),
		AgentID:         agentID,
		Instants:        instants,
	}
	_, _ = h.W.StepOnce(nil, nil, []world.ActionEnvelope{{
		AgentID: agentID,
		Act:     act,
	}})
	h.drainAllObs()
	return h.LastObsFor(agentID)
}

func (h *Harness) StepMulti(actions []world.ActionEnvelope) {
	h.T.Helper()
	_, _ = h.W.StepOnce(nil, nil, actions)
	h.drainAllObs()
}

func (h *Harness) StepNoop() {
	h.T.Helper()
	_, _ = h.W.StepOnce(nil, nil, nil)
	h.drainAllObs()
}

func (h *Harness) Snapshot() (tick uint64, snap snapshot.SnapshotV1) {
	h.T.Helper()
	// Keep tick stable: export at currentTick-1 then import would restore to currentTick.
	cur := h.W.CurrentTick()
	if cur == 0 {
		return 0, h.W.ExportSnapshot(0)
	}
	tick = cur - 1
	return tick, h.W.ExportSnapshot(tick)
}

func (h *Harness) ClearAgentEventsFor(agentID string) {
	h.T.Helper()
	if ok := h.W.DebugClearAgentEvents(agentID); !ok {
		h.T.Fatalf("DebugClearAgentEvents returned false")
	}
}

func (h *Harness) AddInventoryFor(agentID string, item string, delta int) {
	h.T.Helper()
	if ok := h.W.DebugAddInventory(agentID, item, delta); !ok {
		h.T.Fatalf("DebugAddInventory returned false")
	}
}

func (h *Harness) drainAllObs() {
	h.T.Helper()
	for _, s := range h.sessions {
		h.drainOneObs(s)
	}
}

func (h *Harness) drainOneObs(s *session) {
	h.T.Helper()
	var last []byte
	for {
		select {
		case b := <-s.Out:
			last = b
			continue
		default:
		}
		break
	}
	if len(last) == 0 {
		return
	}
	var obs protocol.ObsMsg
	if err := json.Unmarshal(last, &obs); err != nil {
		h.T.Fatalf("unmarshal OBS: %v", err)
	}
	s.lastObs = obs
}
