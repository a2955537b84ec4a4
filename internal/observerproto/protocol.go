// Package observerproto is the read-only trade floor stream served to
// operators. It is versioned separately from the agent protocol.
package observerproto

import "tradepost.ai/internal/protocol"

const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeTick      = "TICK"
)

// Client -> Server. First message on the observer WS connection; it can be
// re-sent to change the filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// FocusAgentID, if set, limits sessions and audits to those involving
	// this agent. The agent list is always complete.
	FocusAgentID string `json:"focus_agent_id,omitempty"`

	// IncludeSlots adds the escrowed stacks of every session.
	IncludeSlots bool `json:"include_slots,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string               `json:"protocol_version"`
	WorldID         string               `json:"world_id"`
	Tick            uint64               `json:"tick"`
	WorldParams     protocol.WorldParams `json:"world_params"`
}

// Server -> Client. Sent every tick.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`

	Agents   []AgentState   `json:"agents"`
	Sessions []SessionState `json:"sessions"`
	Joins    []JoinInfo     `json:"joins,omitempty"`
	Leaves   []string       `json:"leaves,omitempty"`
	Audits   []AuditEntry   `json:"audits,omitempty"`
}

type JoinInfo struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
}

type AgentState struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Busy      bool   `json:"busy"`
	SessionID string `json:"session_id,omitempty"`
	Balance   int64  `json:"balance"`
	Ground    int    `json:"ground,omitempty"`
}

type SessionState struct {
	ID        string    `json:"id"`
	Players   [2]string `json:"players"`
	Offers    [2]int64  `json:"offers"`
	Confirmed [2]bool   `json:"confirmed"`
	Filled    [2]int    `json:"filled"`

	// Slots holds one region per side when IncludeSlots is set.
	Slots [][]protocol.ItemStack `json:"slots,omitempty"`
}

type AuditEntry struct {
	Tick      uint64 `json:"tick"`
	Actor     string `json:"actor,omitempty"`
	Action    string `json:"action"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
