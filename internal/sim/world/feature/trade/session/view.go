package session

import "tradepost.ai/internal/protocol"

// View is viewer's read projection of the session, rebuilt from the
// authoritative state on every call.
func (s *Session) View(viewer string) (protocol.TradeObs, bool) {
	side, ok := s.SideOf(viewer)
	if !ok {
		return protocol.TradeObs{}, false
	}
	return protocol.TradeObs{
		SessionID: s.id,
		State:     string(s.state),
		You:       s.sideView(side),
		Them:      s.sideView(side.Other()),
	}, true
}

func (s *Session) sideView(side Side) protocol.TradeSideObs {
	slots := make([]protocol.ItemStack, len(s.slots[side]))
	copy(slots, s.slots[side])
	return protocol.TradeSideObs{
		AgentID:   s.players[side],
		FirstSlot: int(side) * s.slotsPerSide,
		Slots:     slots,
		Offer:     s.offers[side],
		Confirmed: s.confirmed[side],
	}
}
