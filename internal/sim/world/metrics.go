package world

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick uint64 `json:"tick"`

	Agents          int `json:"agents"`
	Offline         int `json:"offline"`
	Clients         int `json:"clients"`
	ActiveSessions  int `json:"active_sessions"`
	PendingRequests int `json:"pending_requests"`
	GroundPiles     int `json:"ground_piles"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`
}

type QueueDepths struct {
	Inbox   int `json:"inbox"`
	Join    int `json:"join"`
	Leave   int `json:"leave"`
	Attach  int `json:"attach"`
	Sweep   int `json:"sweep"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

func (w *World) publishMetrics(nextTick uint64, stepDur time.Duration) {
	m := WorldMetrics{
		Tick:            nextTick,
		Agents:          len(w.agents),
		Offline:         len(w.offline),
		Clients:         len(w.clients),
		ActiveSessions:  w.trades.ActiveSessions(),
		PendingRequests: w.requests.Len(),
		GroundPiles:     len(w.ground),
		QueueDepths: QueueDepths{
			Inbox:   len(w.inbox),
			Join:    len(w.join),
			Leave:   len(w.leave),
			Attach:  len(w.attach),
			Sweep:   len(w.sweepDue),
		},
		StepMS: float64(stepDur.Microseconds()) / 1000.0,
	}
	w.metrics.Store(m)

	if w.prom != nil {
		w.prom.stepSeconds.Observe(stepDur.Seconds())
		w.prom.agentsOnline.Set(float64(m.Agents))
		w.prom.sessionsActive.Set(float64(m.ActiveSessions))
		w.prom.pendingRequests.Set(float64(m.PendingRequests))
	}
}

// Metrics holds the Prometheus collectors fed by the world loop and the
// trade manager hooks.
type Metrics struct {
	requests        *prometheus.CounterVec
	sessionsStarted prometheus.Counter
	sessionsEnded   *prometheus.CounterVec
	settlements     *prometheus.CounterVec
	sessionsActive  prometheus.Gauge
	pendingRequests prometheus.Gauge
	agentsOnline    prometheus.Gauge
	stepSeconds     prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradepost_trade_requests_total",
			Help: "Trade requests by outcome.",
		}, []string{"outcome"}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradepost_trade_sessions_started_total",
			Help: "Trade sessions opened.",
		}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradepost_trade_sessions_ended_total",
			Help: "Trade sessions closed, by reason.",
		}, []string{"reason"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradepost_trade_settlements_total",
			Help: "Settlement attempts by result.",
		}, []string{"result"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradepost_trade_sessions_active",
			Help: "Trade sessions currently negotiating.",
		}),
		pendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradepost_trade_requests_pending",
			Help: "Trade requests waiting for an answer.",
		}),
		agentsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradepost_agents_online",
			Help: "Connected agents.",
		}),
		stepSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradepost_world_step_seconds",
			Help:    "Wall time of one world tick.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.requests,
			m.sessionsStarted,
			m.sessionsEnded,
			m.settlements,
			m.sessionsActive,
			m.pendingRequests,
			m.agentsOnline,
			m.stepSeconds,
		)
	}
	return m
}
