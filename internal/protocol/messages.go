package protocol

import (
	"encoding/json"

	"riftclaw.ai/internal/passport"
)

// discover (client -> relay)
type DiscoverMsg struct {
	Type      string  `json:"type"`
	AgentID   string  `json:"agent_id"`
	Timestamp float64 `json:"timestamp"`
}

// welcome (relay -> client), sent once per connection.
type WelcomeMsg struct {
	Type         string   `json:"type"`
	WorldName    string   `json:"world_name"`
	Version      string   `json:"version,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	RelayID      string   `json:"relay_id,omitempty"`
	Timestamp    float64  `json:"timestamp"`
}

type PortalDescriptor struct {
	PortalID         string            `json:"portal_id"`
	Name             string            `json:"name"`
	DestinationWorld string            `json:"destination_world"`
	DestinationURL   string            `json:"destination_url,omitempty"`
	Position         passport.Position `json:"position"`
	RequiresAuth     bool              `json:"requires_auth"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
}

// discover_response (relay -> client)
type DiscoverResponseMsg struct {
	Type             string             `json:"type"`
	Portals          []PortalDescriptor `json:"portals"`
	RegisteredWorlds int                `json:"registered_worlds"`
	Timestamp        float64            `json:"timestamp"`
}

// handoff_request (client -> relay -> client). Passport is nil when the sender omitted it.
type HandoffRequestMsg struct {
	Type      string             `json:"type"`
	AgentID   string             `json:"agent_id"`
	PortalID  string             `json:"portal_id"`
	Passport  *passport.Passport `json:"passport"`
	FromAgent string             `json:"from_agent,omitempty"`
	Timestamp float64            `json:"timestamp"`
}

// handoff_confirm (client -> relay -> client)
type HandoffConfirmMsg struct {
	Type      string             `json:"type"`
	AgentID   string             `json:"agent_id"`
	PortalID  string             `json:"portal_id"`
	Passport  *passport.Passport `json:"passport"`
	TargetURL string             `json:"target_url,omitempty"`
	Timestamp float64            `json:"timestamp"`
}

// register_world (client -> relay) makes a world discoverable and routable.
type RegisterWorldMsg struct {
	Type        string  `json:"type"`
	WorldName   string  `json:"world_name"`
	WorldURL    string  `json:"world_url,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	Timestamp   float64 `json:"timestamp"`
}

type RegisterConfirmMsg struct {
	Type      string  `json:"type"`
	WorldName string  `json:"world_name"`
	Status    string  `json:"status"`
	Timestamp float64 `json:"timestamp"`
}

// handoff_rejected (relay -> origin client) when the target world is unknown.
type HandoffRejectedMsg struct {
	Type      string  `json:"type"`
	AgentID   string  `json:"agent_id,omitempty"`
	Nonce     string  `json:"nonce,omitempty"`
	Reason    string  `json:"reason"`
	Details   string  `json:"details,omitempty"`
	Timestamp float64 `json:"timestamp"`
}

type PingMsg struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

type PongMsg struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

type ErrorMsg struct {
	Type      string  `json:"type"`
	Code      string  `json:"code"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

// sync is fanned out by the relay to every other connected world.
type SyncMsg struct {
	Type      string          `json:"type"`
	WorldName string          `json:"world_name,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp float64         `json:"timestamp"`
}

func (*DiscoverMsg) MsgType() string         { return TypeDiscover }
func (*WelcomeMsg) MsgType() string          { return TypeWelcome }
func (*DiscoverResponseMsg) MsgType() string { return TypeDiscoverResponse }
func (*HandoffRequestMsg) MsgType() string   { return TypeHandoffRequest }
func (*HandoffConfirmMsg) MsgType() string   { return TypeHandoffConfirm }
func (*RegisterWorldMsg) MsgType() string    { return TypeRegisterWorld }
func (*RegisterConfirmMsg) MsgType() string  { return TypeRegisterConfirm }
func (*HandoffRejectedMsg) MsgType() string  { return TypeHandoffRejected }
func (*PingMsg) MsgType() string             { return TypePing }
func (*PongMsg) MsgType() string             { return TypePong }
func (*ErrorMsg) MsgType() string            { return TypeError }
func (*SyncMsg) MsgType() string             { return TypeSync }
