package relayclient

import (
	"errors"
	"time"

	"riftclaw.ai/internal/passport"
	"riftclaw.ai/internal/protocol"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

var (
	ErrNotConnected = errors.New("relay not connected")
	ErrClosed       = errors.New("relay client closed")
	ErrDisconnected = errors.New("disconnected by client")
)

type Config struct {
	URL string

	// AgentID is the identity announced in discover.
	AgentID string
	// PortalID is stamped into every outbound handoff_request.
	PortalID string

	// When WorldName is set the client registers the world after discover so the relay can
	// route handoffs to it.
	WorldName   string
	WorldURL    string
	DisplayName string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	HandoffTimeout   time.Duration
	DedupeTTL        time.Duration
	DedupeMax        int
	EventBuffer      int

	RequireSignatures bool
}

func (c *Config) normalize() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.HandoffTimeout <= 0 {
		c.HandoffTimeout = 15 * time.Second
	}
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = time.Minute
	}
	if c.DedupeMax <= 0 {
		c.DedupeMax = 4096
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
	if c.AgentID == "" {
		c.AgentID = c.WorldName
	}
}

// Arrivals applies an inbound passport to local simulation state.
type Arrivals interface {
	ApplyPassport(p passport.Passport) error
}

type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventConnectFailed
	EventDisconnected
	EventMessage
)

// Event is produced by transport goroutines and consumed by Handle on the simulation
// goroutine.
type Event struct {
	Kind EventKind
	Msg  protocol.Message
	Err  error
	// Gen identifies the connection the event came from. Each successful dial gets a new one.
	Gen uint64
}

type Stats struct {
	Malformed  uint64 `json:"malformed"`
	Unknown    uint64 `json:"unknown"`
	Sent       uint64 `json:"sent"`
	Applied    uint64 `json:"applied"`
	Duplicates uint64 `json:"duplicates"`
	Confirmed  uint64 `json:"confirmed"`
	Failed     uint64 `json:"failed"`
	Portals    int    `json:"portals"`
}

type pendingHandoff struct {
	AgentID     string
	PortalID    string
	TargetWorld string
	SentAt      time.Time
}
