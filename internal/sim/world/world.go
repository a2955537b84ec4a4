package world

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"tradepost.ai/internal/ledger"
	"tradepost.ai/internal/persistence/snapshot"
	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/sim/tuning"
	"tradepost.ai/internal/sim/world/feature/trade"
	"tradepost.ai/internal/sim/world/feature/trade/request"
	"tradepost.ai/internal/sim/world/kernel/model"
)

type WorldConfig struct {
	ID                 string
	TickRateHz         int
	SnapshotEveryTicks int

	SlotsPerSide   int
	InventorySlots int
	MaxStack       int

	StartingBalance int64
	StarterItems    map[string]int
	Spawn           model.Vec3i

	RequestTimeout          time.Duration
	TradeRequestWindowTicks int
	TradeRequestMax         int
}

// ConfigFromTuning maps the tuning file onto a world config.
func ConfigFromTuning(id string, t tuning.Tuning) WorldConfig {
	return WorldConfig{
		ID:                      id,
		TickRateHz:              t.TickRateHz,
		SnapshotEveryTicks:      t.SnapshotEveryTicks,
		SlotsPerSide:            t.SlotsPerSide,
		InventorySlots:          t.InventorySlots,
		MaxStack:                t.MaxStack,
		StartingBalance:         t.StartingBalance,
		StarterItems:            t.StarterItems,
		Spawn:                   model.Vec3FromArray(t.Spawn),
		RequestTimeout:          time.Duration(t.RequestTimeoutSec) * time.Second,
		TradeRequestWindowTicks: t.RateLimits.TradeRequestWindowTicks,
		TradeRequestMax:         t.RateLimits.TradeRequestMax,
	}
}

type JoinRequest struct {
	Name string
	Out  chan []byte
	Resp chan JoinResponse
}

type AttachRequest struct {
	ResumeToken string
	Out         chan []byte
	Resp        chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

// LeaveRequest detaches a connection. It is ignored when SessionID no longer
// matches the agent's current connection.
type LeaveRequest struct {
	AgentID   string
	SessionID string
}

type ActionEnvelope struct {
	AgentID string
	Act     protocol.ActMsg
}

type RecordedJoin struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
}

// World is a single-threaded authoritative simulation.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg    WorldConfig
	ledger ledger.Ledger
	log    *log.Logger

	tick atomic.Uint64

	// agents holds connected agents; offline holds agents parked until they
	// reconnect by name or resume token.
	agents  map[string]*model.Agent
	offline map[string]*model.Agent
	clients map[string]*clientState

	ground map[string]*model.GroundItem

	trades   *trade.Manager
	requests *request.Registry

	inbox   chan ActionEnvelope
	join    chan JoinRequest
	attach  chan AttachRequest
	leave   chan LeaveRequest
	sweepDue chan struct{}
	stop    chan struct{}

	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	observers     map[string]*observerClient

	obsAuditsThisTick []AuditEntry

	pendingExpired []request.Request
	pendingResumes []string
	imported       bool

	clock    func() time.Time
	stepTime time.Time

	nextGroundNum atomic.Uint64

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	tickLogger  TickLogger
	auditLogger AuditLogger

	// Optional snapshot sink (may be nil). Snapshot writing should be off-thread.
	snapshotSink chan<- snapshot.SnapshotV1

	prom    *Metrics
	metrics atomic.Value // WorldMetrics

	newToken func() string
	newSess  func() string
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

// TickLogEntry carries every input a tick consumed, so the tick can be
// replayed and its digest checked.
type TickLogEntry struct {
	Tick    uint64           `json:"tick"`
	At      time.Time        `json:"at"`
	Resumes []string         `json:"resumes,omitempty"`
	Expired []RecordedExpiry `json:"expired,omitempty"`
	Joins   []RecordedJoin   `json:"joins,omitempty"`
	Leaves  []string         `json:"leaves,omitempty"`
	Actions []RecordedAction `json:"actions,omitempty"`
	Digest  string           `json:"digest"`

	// Imported marks the first tick after a snapshot import.
	Imported bool `json:"imported,omitempty"`
}

type RecordedExpiry struct {
	Requester string `json:"requester"`
	Target    string `json:"target"`
}

type RecordedAction struct {
	AgentID string          `json:"agent_id"`
	Act     protocol.ActMsg `json:"act"`
}

type AuditEntry struct {
	Tick      uint64         `json:"tick"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"` // e.g. "TRADE_DONE"
	SessionID string         `json:"session_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type clientState struct {
	Out chan []byte
}

func New(cfg WorldConfig, l ledger.Ledger) (*World, error) {
	if l == nil {
		return nil, fmt.Errorf("world: nil ledger")
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 5
	}
	if cfg.SlotsPerSide <= 0 {
		cfg.SlotsPerSide = 4
	}
	if cfg.InventorySlots <= 0 {
		cfg.InventorySlots = 16
	}
	if cfg.MaxStack <= 0 {
		cfg.MaxStack = 64
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	w := &World{
		cfg:      cfg,
		ledger:   l,
		log:      log.New(io.Discard, "", 0),
		agents:   map[string]*model.Agent{},
		offline:  map[string]*model.Agent{},
		clients:  map[string]*clientState{},
		ground:   map[string]*model.GroundItem{},
		requests: request.NewRegistry(cfg.RequestTimeout),
		inbox:    make(chan ActionEnvelope, 1024),
		join:     make(chan JoinRequest, 64),
		attach:   make(chan AttachRequest, 64),
		leave:    make(chan LeaveRequest, 64),
		sweepDue: make(chan struct{}, 1),
		stop:     make(chan struct{}),
		clock:    time.Now,

		observerJoin:  make(chan ObserverJoinRequest, 16),
		observerSub:   make(chan ObserverSubscribeRequest, 16),
		observerLeave: make(chan string, 16),
		observers:     map[string]*observerClient{},

		newToken: newResumeToken,
		newSess:  newSessionID,
	}
	w.trades = w.newTradeManager(nil)
	return w, nil
}

func (w *World) newTradeManager(logger *log.Logger) *trade.Manager {
	return trade.NewManager(trade.Config{
		SlotsPerSide:       w.cfg.SlotsPerSide,
		MaxStack:           w.cfg.MaxStack,
		RequestWindowTicks: w.cfg.TradeRequestWindowTicks,
		RequestMax:         w.cfg.TradeRequestMax,
		Now:                w.now,
		NewID:              newTradeSessionID,
		Logger:             logger,
		Registry:           w.requests,
		Hooks:              w.tradeHooks(),
	}, tradeEnv{w: w})
}

// SetLogger replaces the world logger. Call before Run.
func (w *World) SetLogger(l *log.Logger) {
	if l == nil {
		return
	}
	w.log = l
	w.trades = w.newTradeManager(l)
}

func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetAuditLogger(l AuditLogger)                  { w.auditLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }
func (w *World) SetMetrics(m *Metrics)                         { w.prom = m }

func (w *World) Inbox() chan<- ActionEnvelope { return w.inbox }
func (w *World) Join() chan<- JoinRequest     { return w.join }
func (w *World) Attach() chan<- AttachRequest { return w.attach }
func (w *World) Leave() chan<- LeaveRequest   { return w.leave }

// Requests is the pending-request registry. Only the world loop mutates it
// while Run is executing.
func (w *World) Requests() *request.Registry { return w.requests }

func (w *World) Ledger() ledger.Ledger { return w.ledger }

// RequestSweep marks the registry as due for a sweep. The next step sweeps
// it with that step's time before applying actions. It never blocks, and
// signals that arrive before the next step are merged.
func (w *World) RequestSweep(context.Context) {
	select {
	case w.sweepDue <- struct{}{}:
	default:
	}
}

// SetClock replaces the wall clock used to time steps. Tests only; it must
// not be called while Run is executing.
func (w *World) SetClock(now func() time.Time) {
	if now != nil {
		w.clock = now
	}
}

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// now is the wall time of the tick being stepped. Request timeouts are
// measured against it so a replay sees the same expiries.
func (w *World) now() time.Time {
	if w.stepTime.IsZero() {
		return w.clock()
	}
	return w.stepTime
}

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) TickRateHz() int {
	if w == nil {
		return 0
	}
	return w.cfg.TickRateHz
}

func (w *World) worldParams() protocol.WorldParams {
	return protocol.WorldParams{
		WorldID:           w.cfg.ID,
		TickRateHz:        w.cfg.TickRateHz,
		SlotsPerSide:      w.cfg.SlotsPerSide,
		InventorySlots:    w.cfg.InventorySlots,
		MaxStack:          w.cfg.MaxStack,
		RequestTimeoutSec: int(w.cfg.RequestTimeout / time.Second),
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
