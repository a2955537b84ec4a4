package protocol

type ObsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	AgentID         string `json:"agent_id"`

	Self      SelfObs     `json:"self"`
	Balance   int64       `json:"balance"`
	Inventory []ItemStack `json:"inventory"`
	Ground    []ItemStack `json:"ground,omitempty"`
	Trade     *TradeObs   `json:"trade,omitempty"`
	Events    []Event     `json:"events"`
}

type SelfObs struct {
	Pos  [3]int `json:"pos"`
	Name string `json:"name"`
	Busy bool   `json:"busy"`
}

type ItemStack struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

func (s ItemStack) Empty() bool { return s.Item == "" || s.Count <= 0 }

// TradeObs is one party's projection of a live negotiation.
type TradeObs struct {
	SessionID string       `json:"session_id"`
	State     string       `json:"state"`
	You       TradeSideObs `json:"you"`
	Them      TradeSideObs `json:"them"`
}

type TradeSideObs struct {
	AgentID   string      `json:"agent_id"`
	FirstSlot int         `json:"first_slot"`
	Slots     []ItemStack `json:"slots"`
	Offer     int64       `json:"offer"`
	Confirmed bool        `json:"confirmed"`
}

type Event map[string]interface{}

// ACT (client -> server)
type ActMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	AgentID         string       `json:"agent_id"`
	Instants        []InstantReq `json:"instants,omitempty"`
}

type InstantReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`

	Slot   int    `json:"slot,omitempty"`
	Item   string `json:"item,omitempty"`
	Count  int    `json:"count,omitempty"`
	Amount int64  `json:"amount,omitempty"`
}

// Instant types.
const (
	InstantTradeRequest = "TRADE_REQUEST"
	InstantTradeAccept  = "TRADE_ACCEPT"
	InstantTradeDeny    = "TRADE_DENY"
	InstantTradeCancel  = "TRADE_CANCEL"
	InstantTradeSlot    = "TRADE_SLOT"
	InstantTradeOffer   = "TRADE_OFFER"
	InstantTradeConfirm = "TRADE_CONFIRM"
	InstantTradeClose   = "TRADE_CLOSE"
	InstantCommand      = "COMMAND"
	InstantBalance      = "BALANCE"
	InstantPickup       = "PICKUP"
)
