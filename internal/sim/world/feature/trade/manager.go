// Package trade runs two-party trade negotiations: requests, live sessions
// and settlement against the ledger.
//
// The Manager is driven from the world loop. Only the request registry is
// shared with another goroutine (the sweeper); sessions are touched by the
// loop alone.
package trade

import (
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"tradepost.ai/internal/ledger"
	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/sim/world/feature/trade/busy"
	"tradepost.ai/internal/sim/world/feature/trade/request"
	"tradepost.ai/internal/sim/world/feature/trade/session"
	"tradepost.ai/internal/sim/world/kernel/model"
)

// Env is what the Manager needs from the world.
type Env interface {
	// AgentByID returns the agent if it is currently connected.
	AgentByID(id string) *model.Agent
	Ledger() ledger.Ledger
	// DropNear puts stack on the ground near pos, reserved for owner, and
	// returns where it landed.
	DropNear(owner string, pos model.Vec3i, stack protocol.ItemStack, reason string, nowTick uint64) model.Vec3i
	// SafeDropPos is where items go when nobody can hold them.
	SafeDropPos() model.Vec3i
	Audit(rec AuditRecord)
}

type AuditRecord struct {
	Tick      uint64
	Actor     string
	Action    string
	SessionID string
	Reason    string
	Details   map[string]any
}

// Hooks observe outcomes; all fields are optional.
type Hooks struct {
	OnRequest        func(outcome string)
	OnSessionStarted func()
	OnSessionEnded   func(reason string)
	OnSettlement     func(result string)
}

type Config struct {
	SlotsPerSide int
	MaxStack     int

	RequestWindowTicks int
	RequestMax         int

	Now      func() time.Time
	NewID    func() string
	Logger   *log.Logger
	Registry *request.Registry
	Tracker  *busy.Tracker
	Hooks    Hooks
}

// Session end reasons.
const (
	EndCommitted        = "committed"
	EndCancelled        = "cancelled"
	EndAbandoned        = "abandoned"
	EndDisconnected     = "disconnected"
	EndSettlementFailed = "settlement_failed"
	EndShutdown         = "shutdown"
)

type Manager struct {
	cfg   Config
	env   Env
	log   *log.Logger
	hooks Hooks

	requests *request.Registry
	busy     *busy.Tracker
	sessions map[string]*session.Session

	deferred []deferredClose
	nextID   uint64
}

type deferredClose struct {
	session *session.Session
	by      string
}

func NewManager(cfg Config, env Env) *Manager {
	if cfg.SlotsPerSide <= 0 {
		cfg.SlotsPerSide = 4
	}
	if cfg.MaxStack <= 0 {
		cfg.MaxStack = 64
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Registry == nil {
		cfg.Registry = request.NewRegistry(30 * time.Second)
	}
	if cfg.Tracker == nil {
		cfg.Tracker = busy.NewTracker()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Manager{
		cfg:      cfg,
		env:      env,
		log:      logger,
		hooks:    cfg.Hooks,
		requests: cfg.Registry,
		busy:     cfg.Tracker,
		sessions: map[string]*session.Session{},
	}
}

func (m *Manager) Registry() *request.Registry { return m.requests }
func (m *Manager) IsBusy(agentID string) bool  { return m.busy.IsBusy(agentID) }
func (m *Manager) ActiveSessions() int         { return len(m.sessions) }

// Sessions lists the live sessions ordered by id. The sessions stay owned by
// the world loop.
func (m *Manager) Sessions() []*session.Session {
	out := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// SessionOf returns the live session agentID is negotiating in, if any.
func (m *Manager) SessionOf(agentID string) *session.Session { return m.busy.SessionOf(agentID) }

// View is agentID's projection of its current session.
func (m *Manager) View(agentID string) (protocol.TradeObs, bool) {
	s := m.busy.SessionOf(agentID)
	if s == nil {
		return protocol.TradeObs{}, false
	}
	return s.View(agentID)
}

// Escrowed lists the items agentID currently has in its own region.
func (m *Manager) Escrowed(agentID string) []protocol.ItemStack {
	s := m.busy.SessionOf(agentID)
	if s == nil {
		return nil
	}
	side, _ := s.SideOf(agentID)
	return s.Region(side)
}

// Handle is the single entry point for trade input.
func (m *Manager) Handle(ev Event, nowTick uint64) {
	a := ev.actor()
	if a == nil {
		return
	}
	switch e := ev.(type) {
	case LifecycleCommand:
		m.handleCommand(e, nowTick)
	case SlotChange:
		m.handleSlotChange(e, nowTick)
	case OfferDelta:
		m.handleOfferDelta(e, nowTick)
	case ConfirmToggle:
		m.handleConfirm(e, nowTick)
	case SurfaceClosed:
		m.handleSurfaceClosed(e, nowTick)
	default:
		a.AddEvent(protocol.ActionResult(nowTick, ev.ref(), false, protocol.ErrBadRequest, "unknown trade event"))
	}
}

// Tick runs cancellations deferred from earlier events.
func (m *Manager) Tick(nowTick uint64) {
	if len(m.deferred) == 0 {
		return
	}
	pending := m.deferred
	m.deferred = nil
	for _, d := range pending {
		m.cancel(d.session, EndAbandoned, d.by, nowTick)
	}
}

// Disconnect cancels agentID's session before the agent is detached.
func (m *Manager) Disconnect(agentID string, nowTick uint64) {
	if s := m.busy.SessionOf(agentID); s != nil {
		m.cancel(s, EndDisconnected, agentID, nowTick)
	}
}

// CancelAll cancels every live session, in id order.
func (m *Manager) CancelAll(reason string, nowTick uint64) int {
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		m.cancel(m.sessions[id], reason, "", nowTick)
	}
	m.deferred = nil
	return len(ids)
}

// NotifyExpired tells both sides of each swept request that it lapsed.
func (m *Manager) NotifyExpired(expired []request.Request, nowTick uint64) {
	for _, req := range expired {
		m.notifyExpired(req, nowTick)
	}
}

func (m *Manager) notifyExpired(req request.Request, nowTick uint64) {
	if a := m.env.AgentByID(req.Requester.ID); a != nil {
		a.AddEvent(protocol.Event{"t": nowTick, "type": "TRADE_REQUEST_EXPIRED", "to": req.Target.ID})
	}
	if a := m.env.AgentByID(req.Target.ID); a != nil {
		a.AddEvent(protocol.Event{"t": nowTick, "type": "TRADE_REQUEST_EXPIRED", "from": req.Requester.ID})
	}
	m.requestOutcome("expired")
	m.env.Audit(AuditRecord{
		Tick:    nowTick,
		Actor:   req.Requester.ID,
		Action:  "TRADE_REQUEST_EXPIRED",
		Details: map[string]any{"target": req.Target.ID, "created_at": req.CreatedAt.UTC().Format(time.RFC3339)},
	})
}

func (m *Manager) newSessionID() string {
	if m.cfg.NewID != nil {
		return m.cfg.NewID()
	}
	m.nextID++
	return fmt.Sprintf("TS%06d", m.nextID)
}

func (m *Manager) requestOutcome(outcome string) {
	if m.hooks.OnRequest != nil {
		m.hooks.OnRequest(outcome)
	}
}

func (m *Manager) sessionEnded(reason string) {
	if m.hooks.OnSessionEnded != nil {
		m.hooks.OnSessionEnded(reason)
	}
}

func (m *Manager) settlementResult(result string) {
	if m.hooks.OnSettlement != nil {
		m.hooks.OnSettlement(result)
	}
}
