package world

import (
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"tradepost.ai/internal/ledger"
	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/sim/world/kernel/model"
)

func newResumeToken() string    { return "resume_" + uuid.NewString() }
func newSessionID() string      { return uuid.NewString() }
func newTradeSessionID() string { return "TS_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12] }

func (w *World) newGroundID() string {
	return "G" + strconv.FormatUint(w.nextGroundNum.Add(1), 10)
}

func (w *World) joinAgent(req JoinRequest, nowTick uint64) JoinResponse {
	id, ok := model.NormalizeName(req.Name)
	if !ok {
		return w.rejectJoin(protocol.ErrBadRequest, "agent name must be 1-16 letters, digits or underscores")
	}
	if w.agents[id] != nil {
		return w.rejectJoin(protocol.ErrConflict, "agent already connected")
	}

	a := w.offline[id]
	if a != nil {
		delete(w.offline, id)
	} else {
		a = model.NewAgent(id, strings.TrimSpace(req.Name), w.cfg.Spawn, w.cfg.InventorySlots, w.cfg.MaxStack)
		w.giveStarterItems(a)
	}
	if acc, ok := w.ledger.(ledger.Accounts); ok {
		if acc.EnsureAccount(id, w.cfg.StartingBalance) {
			w.auditEvent(nowTick, id, "ACCOUNT_OPENED", "", map[string]any{"balance": w.cfg.StartingBalance})
		}
	}

	w.connect(a, req.Out)
	w.auditEvent(nowTick, id, "AGENT_JOIN", "", map[string]any{"session": a.SessionID})
	return JoinResponse{Welcome: w.welcome(a)}
}

func (w *World) giveStarterItems(a *model.Agent) {
	items := make([]string, 0, len(w.cfg.StarterItems))
	for item := range w.cfg.StarterItems {
		items = append(items, item)
	}
	sort.Strings(items)
	for _, item := range items {
		if n := w.cfg.StarterItems[item]; n > 0 {
			a.Inventory.Add(item, n)
		}
	}
}

func (w *World) connect(a *model.Agent, out chan []byte) {
	a.SessionID = w.newSess()
	a.ResumeToken = w.newToken()
	w.agents[a.ID] = a
	if out != nil {
		w.clients[a.ID] = &clientState{Out: out}
	}
}

func (w *World) rejectJoin(code, msg string) JoinResponse {
	return JoinResponse{Welcome: protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		WorldParams:     w.worldParams(),
		Code:            code,
		Message:         msg,
	}}
}

func (w *World) welcome(a *model.Agent) protocol.WelcomeMsg {
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       a.SessionID,
		AgentID:         a.ID,
		ResumeToken:     a.ResumeToken,
		WorldParams:     w.worldParams(),
	}
}

func (w *World) handleAttach(req AttachRequest) {
	resp := w.attachAgent(req)
	if req.Resp != nil {
		req.Resp <- resp
	}
}

func (w *World) attachAgent(req AttachRequest) JoinResponse {
	token := strings.TrimSpace(req.ResumeToken)
	if token == "" || req.Out == nil {
		return w.rejectJoin(protocol.ErrBadRequest, "missing resume token")
	}
	a := findByToken(w.agents, token)
	if a == nil {
		a = findByToken(w.offline, token)
	}
	if a == nil {
		return w.rejectJoin(protocol.ErrInvalidTarget, "unknown resume token")
	}

	w.resume(a, req.Out)
	return JoinResponse{Welcome: w.welcome(a)}
}

// resume moves a onto a fresh connection. It runs between ticks, so it is
// logged with the next tick's inputs.
func (w *World) resume(a *model.Agent, out chan []byte) {
	nowTick := w.tick.Load()
	if w.agents[a.ID] != nil {
		// The previous connection is superseded; its session cannot continue.
		w.trades.Disconnect(a.ID, nowTick)
	}
	delete(w.offline, a.ID)
	w.connect(a, out)
	w.pendingResumes = append(w.pendingResumes, a.ID)
	w.auditEvent(nowTick, a.ID, "AGENT_RESUME", "", map[string]any{"session": a.SessionID})
}

// findByToken scans ids in sorted order so the match is deterministic.
func findByToken(agents map[string]*model.Agent, token string) *model.Agent {
	ids := make([]string, 0, len(agents))
	for id := range agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if a := agents[id]; a != nil && a.ResumeToken == token {
			return a
		}
	}
	return nil
}

func (w *World) handleLeave(req LeaveRequest, nowTick uint64) bool {
	a := w.agents[req.AgentID]
	if a == nil || a.SessionID != req.SessionID {
		return false
	}
	// Cancel while the agent is still reachable so escrow can go home.
	w.trades.Disconnect(a.ID, nowTick)

	delete(w.clients, a.ID)
	delete(w.agents, a.ID)
	a.SessionID = ""
	a.Events = nil
	w.offline[a.ID] = a
	w.auditEvent(nowTick, a.ID, "AGENT_LEAVE", "", nil)
	return true
}
