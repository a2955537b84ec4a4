package world

import (
	"tradepost.ai/internal/ledger"
	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/sim/world/feature/trade"
	"tradepost.ai/internal/sim/world/kernel/model"
)

// tradeEnv exposes the world to the trade manager.
type tradeEnv struct {
	w *World
}

func (e tradeEnv) AgentByID(id string) *model.Agent { return e.w.agents[id] }
func (e tradeEnv) Ledger() ledger.Ledger            { return e.w.ledger }
func (e tradeEnv) SafeDropPos() model.Vec3i         { return e.w.cfg.Spawn }

func (e tradeEnv) DropNear(owner string, pos model.Vec3i, stack protocol.ItemStack, reason string, nowTick uint64) model.Vec3i {
	return e.w.dropGround(owner, pos, stack, reason, nowTick).Pos
}

func (e tradeEnv) Audit(rec trade.AuditRecord) {
	e.w.audit(AuditEntry{
		Tick:      rec.Tick,
		Actor:     rec.Actor,
		Action:    rec.Action,
		SessionID: rec.SessionID,
		Reason:    rec.Reason,
		Details:   rec.Details,
	})
}

func (w *World) tradeHooks() trade.Hooks {
	return trade.Hooks{
		OnRequest: func(outcome string) {
			if w.prom != nil {
				w.prom.requests.WithLabelValues(outcome).Inc()
			}
		},
		OnSessionStarted: func() {
			if w.prom != nil {
				w.prom.sessionsStarted.Inc()
			}
		},
		OnSessionEnded: func(reason string) {
			if w.prom != nil {
				w.prom.sessionsEnded.WithLabelValues(reason).Inc()
			}
		},
		OnSettlement: func(result string) {
			if w.prom != nil {
				w.prom.settlements.WithLabelValues(result).Inc()
			}
		},
	}
}
