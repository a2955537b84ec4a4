package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	AgentName       string            `json:"agent_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
	Auth            *HelloAuth        `json:"auth,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id,omitempty"`
	AgentID         string      `json:"agent_id"`
	ResumeToken     string      `json:"resume_token"`
	WorldParams     WorldParams `json:"world_params"`
	Code            string      `json:"code,omitempty"`
	Message         string      `json:"message,omitempty"`
}

type WorldParams struct {
	WorldID           string `json:"world_id"`
	TickRateHz        int    `json:"tick_rate_hz"`
	SlotsPerSide      int    `json:"slots_per_side"`
	InventorySlots    int    `json:"inventory_slots"`
	MaxStack          int    `json:"max_stack"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerTick      uint64 `json:"server_tick,omitempty"`
}
