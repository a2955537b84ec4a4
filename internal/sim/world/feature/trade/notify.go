package trade

import (
	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/sim/world/feature/trade/session"
)

// broadcastState sends each connected party its own projection of s.
func (m *Manager) broadcastState(s *session.Session, nowTick uint64) {
	for _, id := range s.Players() {
		p := m.env.AgentByID(id)
		if p == nil {
			continue
		}
		view, ok := s.View(id)
		if !ok {
			continue
		}
		p.AddEvent(protocol.Event{"t": nowTick, "type": "TRADE_STATE", "trade": view})
	}
}
