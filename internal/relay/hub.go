// Package relay is the server side of the handoff protocol: a registry of connected worlds
// that routes handoff requests to their destination and confirms back to their origin.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/patrickmn/go-cache"

	"riftclaw.ai/internal/protocol"
)

type Config struct {
	// Name is reported as world_name in welcome.
	Name         string
	Version      string
	Capabilities []string
	NodeID       int64

	// OriginTTL bounds how long a forwarded request can wait for its confirm.
	OriginTTL     time.Duration
	StatsInterval time.Duration
	QueueSize     int
}

func (c *Config) normalize() {
	if c.Name == "" {
		c.Name = "RiftClaw Relay"
	}
	if c.Version == "" {
		c.Version = protocol.Version
	}
	if len(c.Capabilities) == 0 {
		c.Capabilities = []string{"portals", "relay"}
	}
	if c.OriginTTL <= 0 {
		c.OriginTTL = 2 * time.Minute
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = time.Minute
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
}

type JoinRequest struct {
	Remote string
	Out    chan []byte
	Resp   chan JoinResponse
}

type JoinResponse struct {
	ConnID  snowflake.ID
	Welcome protocol.WelcomeMsg
}

// Envelope is one decoded inbound message. UnknownType is set instead of Msg when the
// frame carried a type the relay does not speak.
type Envelope struct {
	ConnID      snowflake.ID
	Msg         protocol.Message
	UnknownType string
}

type Stats struct {
	Connections uint64 `json:"connections"`
	Worlds      uint64 `json:"worlds"`
	Forwarded   uint64 `json:"forwarded"`
	Confirmed   uint64 `json:"confirmed"`
	Rejected    uint64 `json:"rejected"`
	Dropped     uint64 `json:"dropped"`
}

type RouteEvent string

const (
	RouteForwarded RouteEvent = "FORWARDED"
	RouteConfirmed RouteEvent = "CONFIRMED"
	RouteRejected  RouteEvent = "REJECTED"
)

// RouteEntry is one line of the relay's routing audit trail.
type RouteEntry struct {
	Time    time.Time  `json:"time"`
	Event   RouteEvent `json:"event"`
	AgentID string     `json:"agent_id"`
	Nonce   string     `json:"nonce,omitempty"`
	From    string     `json:"from,omitempty"`
	To      string     `json:"to,omitempty"`
	Detail  string     `json:"detail,omitempty"`
}

type RouteJournal interface {
	WriteRoute(e RouteEntry) error
}

type peer struct {
	id       snowflake.ID
	remote   string
	out      chan []byte
	agentID  string
	world    string
	joinedAt time.Time
}

type world struct {
	connID       snowflake.ID
	url          string
	displayName  string
	registeredAt time.Time
}

// Hub is single-threaded: all registry state is owned by the Run goroutine.
type Hub struct {
	cfg     Config
	log     *log.Logger
	node    *snowflake.Node
	now     func() time.Time
	journal RouteJournal

	join  chan JoinRequest
	leave chan snowflake.ID
	inbox chan Envelope
	stop  chan struct{}

	peers   map[snowflake.ID]*peer
	worlds  map[string]*world
	origins *cache.Cache

	connections atomic.Uint64
	worldCount  atomic.Uint64
	forwarded   atomic.Uint64
	confirmed   atomic.Uint64
	rejected    atomic.Uint64
	dropped     atomic.Uint64
}

func NewHub(cfg Config, logger *log.Logger) (*Hub, error) {
	cfg.normalize()
	if logger == nil {
		logger = log.New(os.Stdout, "[relay] ", log.LstdFlags|log.Lmicroseconds)
	}
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("relay: snowflake node: %w", err)
	}
	return &Hub{
		cfg:     cfg,
		log:     logger,
		node:    node,
		now:     time.Now,
		join:    make(chan JoinRequest, 16),
		leave:   make(chan snowflake.ID, 16),
		inbox:   make(chan Envelope, 256),
		stop:    make(chan struct{}),
		peers:   map[snowflake.ID]*peer{},
		worlds:  map[string]*world{},
		origins: cache.New(cfg.OriginTTL, 2*cfg.OriginTTL),
	}, nil
}

func (h *Hub) Join() chan<- JoinRequest   { return h.join }
func (h *Hub) Leave() chan<- snowflake.ID { return h.leave }
func (h *Hub) Inbox() chan<- Envelope     { return h.inbox }
func (h *Hub) QueueSize() int             { return h.cfg.QueueSize }

// SetJournal installs a routing journal. Call before Run.
func (h *Hub) SetJournal(j RouteJournal) { h.journal = j }

func (h *Hub) Stats() Stats {
	return Stats{
		Connections: h.connections.Load(),
		Worlds:      h.worldCount.Load(),
		Forwarded:   h.forwarded.Load(),
		Confirmed:   h.confirmed.Load(),
		Rejected:    h.rejected.Load(),
		Dropped:     h.dropped.Load(),
	}
}

func (h *Hub) Stop() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
}

func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.stop:
			return nil
		case req := <-h.join:
			h.handleJoin(req)
		case id := <-h.leave:
			h.handleLeave(id)
		case env := <-h.inbox:
			h.handleEnvelope(env)
		case <-ticker.C:
			s := h.Stats()
			h.log.Printf("stats: connections=%d worlds=%d forwarded=%d confirmed=%d rejected=%d dropped=%d",
				s.Connections, s.Worlds, s.Forwarded, s.Confirmed, s.Rejected, s.Dropped)
		}
	}
}

func (h *Hub) handleJoin(req JoinRequest) {
	id := h.node.Generate()
	h.peers[id] = &peer{id: id, remote: req.Remote, out: req.Out, joinedAt: h.now()}
	h.connections.Store(uint64(len(h.peers)))
	h.log.Printf("connect %s (id=%s)", req.Remote, id)
	req.Resp <- JoinResponse{
		ConnID: id,
		Welcome: protocol.WelcomeMsg{
			Type:         protocol.TypeWelcome,
			WorldName:    h.cfg.Name,
			Version:      h.cfg.Version,
			Capabilities: append([]string(nil), h.cfg.Capabilities...),
			RelayID:      id.String(),
			Timestamp:    protocol.Timestamp(h.now()),
		},
	}
}

func (h *Hub) handleLeave(id snowflake.ID) {
	p, ok := h.peers[id]
	if !ok {
		return
	}
	delete(h.peers, id)
	if p.world != "" {
		if w, ok := h.worlds[p.world]; ok && w.connID == id {
			delete(h.worlds, p.world)
			h.log.Printf("unregister world %q", p.world)
		}
	}
	h.connections.Store(uint64(len(h.peers)))
	h.worldCount.Store(uint64(len(h.worlds)))
	h.log.Printf("disconnect id=%s", id)
}

func (h *Hub) handleEnvelope(env Envelope) {
	p, ok := h.peers[env.ConnID]
	if !ok {
		return
	}
	if env.Msg == nil {
		h.log.Printf("unknown message type %q from %s", env.UnknownType, p.id)
		h.send(p, &protocol.ErrorMsg{
			Type:    protocol.TypeError,
			Code:    protocol.ErrUnknownType,
			Message: fmt.Sprintf("Unknown message type: %s", env.UnknownType),
		})
		return
	}
	switch m := env.Msg.(type) {
	case *protocol.RegisterWorldMsg:
		h.handleRegister(p, m)
	case *protocol.DiscoverMsg:
		h.handleDiscover(p, m)
	case *protocol.HandoffRequestMsg:
		h.handleHandoffRequest(p, m)
	case *protocol.HandoffConfirmMsg:
		h.handleHandoffConfirm(p, m)
	case *protocol.PingMsg:
		h.send(p, &protocol.PongMsg{Type: protocol.TypePong})
	case *protocol.SyncMsg:
		h.handleSync(p, m)
	default:
		h.log.Printf("unexpected %s from %s (ignored)", m.MsgType(), p.id)
		h.send(p, &protocol.ErrorMsg{
			Type:    protocol.TypeError,
			Code:    protocol.ErrProtoBadRequest,
			Message: fmt.Sprintf("%s is not accepted by the relay", m.MsgType()),
		})
	}
}

func (h *Hub) handleRegister(p *peer, m *protocol.RegisterWorldMsg) {
	if m.WorldName == "" {
		h.send(p, &protocol.ErrorMsg{Type: protocol.TypeError, Code: protocol.ErrProtoBadRequest, Message: "register_world requires world_name"})
		return
	}
	if prev, ok := h.worlds[m.WorldName]; ok && prev.connID != p.id {
		h.log.Printf("world %q re-registered by %s (was %s)", m.WorldName, p.id, prev.connID)
		if old, ok := h.peers[prev.connID]; ok {
			old.world = ""
		}
	}
	if p.world != "" && p.world != m.WorldName {
		delete(h.worlds, p.world)
	}
	display := m.DisplayName
	if display == "" {
		display = m.WorldName
	}
	h.worlds[m.WorldName] = &world{connID: p.id, url: m.WorldURL, displayName: display, registeredAt: h.now()}
	p.world = m.WorldName
	h.worldCount.Store(uint64(len(h.worlds)))
	h.log.Printf("register world %q from %s (total worlds: %d)", m.WorldName, p.id, len(h.worlds))
	h.send(p, &protocol.RegisterConfirmMsg{
		Type:      protocol.TypeRegisterConfirm,
		WorldName: m.WorldName,
		Status:    "registered",
	})
}

func (h *Hub) handleDiscover(p *peer, m *protocol.DiscoverMsg) {
	if p.agentID == "" {
		p.agentID = m.AgentID
	}
	names := make([]string, 0, len(h.worlds))
	for name := range h.worlds {
		if name == p.world {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	portals := make([]protocol.PortalDescriptor, 0, len(names))
	for _, name := range names {
		w := h.worlds[name]
		portals = append(portals, protocol.PortalDescriptor{
			PortalID:         fmt.Sprintf("portal_%s_01", name),
			Name:             w.displayName,
			DestinationWorld: name,
			DestinationURL:   w.url,
			Metadata:         map[string]any{"registered": true},
		})
	}
	h.log.Printf("discover from %q: %d portals", m.AgentID, len(portals))
	h.send(p, &protocol.DiscoverResponseMsg{
		Type:             protocol.TypeDiscoverResponse,
		Portals:          portals,
		RegisteredWorlds: len(h.worlds),
	})
}

func (h *Hub) handleHandoffRequest(p *peer, m *protocol.HandoffRequestMsg) {
	if m.Passport == nil {
		h.reject(p, m.AgentID, "", protocol.ReasonMissingPassport, "handoff_request carried no passport")
		return
	}
	target := m.Passport.TargetWorld
	w, ok := h.worlds[target]
	if !ok {
		h.reject(p, m.Passport.AgentID, m.Passport.Nonce, protocol.ReasonUnknownDestination, fmt.Sprintf("World '%s' not found", target))
		return
	}
	dst, ok := h.peers[w.connID]
	if !ok {
		h.reject(p, m.Passport.AgentID, m.Passport.Nonce, protocol.ReasonUnknownDestination, fmt.Sprintf("World '%s' not connected", target))
		return
	}
	h.origins.SetDefault(m.Passport.Key().String(), p.id)
	agentID := m.AgentID
	if agentID == "" {
		agentID = m.Passport.AgentID
	}
	if !h.send(dst, &protocol.HandoffRequestMsg{
		Type:      protocol.TypeHandoffRequest,
		AgentID:   agentID,
		PortalID:  m.PortalID,
		Passport:  m.Passport,
		FromAgent: agentID,
	}) {
		return
	}
	h.forwarded.Add(1)
	h.log.Printf("handoff %s: %s -> %s", m.Passport.Key(), m.Passport.SourceWorld, target)
	h.route(RouteEntry{Event: RouteForwarded, AgentID: m.Passport.AgentID, Nonce: m.Passport.Nonce, From: p.name(), To: target})
}

// handleHandoffConfirm routes the destination's confirm back to whichever connection sent
// the matching request. Repeats route again; the origin deduplicates.
func (h *Hub) handleHandoffConfirm(p *peer, m *protocol.HandoffConfirmMsg) {
	if m.Passport == nil {
		h.log.Printf("handoff_confirm without passport from %s (dropped)", p.id)
		return
	}
	key := m.Passport.Key().String()
	v, ok := h.origins.Get(key)
	if !ok {
		h.log.Printf("handoff_confirm %s has no known origin (dropped)", key)
		return
	}
	origin, ok := h.peers[v.(snowflake.ID)]
	if !ok {
		h.log.Printf("handoff_confirm %s: origin disconnected (dropped)", key)
		return
	}
	out := *m
	if out.TargetURL == "" {
		if w, ok := h.worlds[m.Passport.TargetWorld]; ok {
			out.TargetURL = w.url
		}
	}
	if h.send(origin, &out) {
		h.confirmed.Add(1)
		h.log.Printf("handoff %s confirmed by %q", key, p.world)
		h.route(RouteEntry{Event: RouteConfirmed, AgentID: m.Passport.AgentID, Nonce: m.Passport.Nonce, From: p.name(), To: origin.name()})
	}
}

func (h *Hub) handleSync(p *peer, m *protocol.SyncMsg) {
	b, err := json.Marshal(m)
	if err != nil {
		h.log.Printf("encode sync: %v", err)
		return
	}
	for id, other := range h.peers {
		if id == p.id || other.world == "" {
			continue
		}
		h.enqueue(other, b)
	}
}

func (h *Hub) reject(p *peer, agentID, nonce, reason, details string) {
	h.rejected.Add(1)
	h.log.Printf("handoff rejected for %q: %s (%s)", agentID, reason, details)
	h.route(RouteEntry{Event: RouteRejected, AgentID: agentID, Nonce: nonce, From: p.name(), Detail: reason})
	h.send(p, &protocol.HandoffRejectedMsg{
		Type:    protocol.TypeHandoffRejected,
		AgentID: agentID,
		Nonce:   nonce,
		Reason:  reason,
		Details: details,
	})
}

func (h *Hub) route(e RouteEntry) {
	if h.journal == nil {
		return
	}
	e.Time = h.now()
	if err := h.journal.WriteRoute(e); err != nil {
		h.log.Printf("route journal: %v", err)
	}
}

func (p *peer) name() string {
	if p.world != "" {
		return p.world
	}
	return p.id.String()
}

// send stamps and queues m for p. It never blocks the hub; a full queue drops the frame.
func (h *Hub) send(p *peer, m protocol.Message) bool {
	stampTimestamp(m, protocol.Timestamp(h.now()))
	b, err := json.Marshal(m)
	if err != nil {
		h.log.Printf("encode %s: %v", m.MsgType(), err)
		return false
	}
	return h.enqueue(p, b)
}

func (h *Hub) enqueue(p *peer, b []byte) bool {
	select {
	case p.out <- b:
		return true
	default:
		h.dropped.Add(1)
		h.log.Printf("outbound queue full for %s (frame dropped)", p.id)
		return false
	}
}

func stampTimestamp(m protocol.Message, ts float64) {
	switch v := m.(type) {
	case *protocol.WelcomeMsg:
		v.Timestamp = ts
	case *protocol.DiscoverResponseMsg:
		v.Timestamp = ts
	case *protocol.HandoffRequestMsg:
		v.Timestamp = ts
	case *protocol.HandoffConfirmMsg:
		if v.Timestamp == 0 {
			v.Timestamp = ts
		}
	case *protocol.RegisterConfirmMsg:
		v.Timestamp = ts
	case *protocol.HandoffRejectedMsg:
		v.Timestamp = ts
	case *protocol.PongMsg:
		v.Timestamp = ts
	case *protocol.ErrorMsg:
		v.Timestamp = ts
	}
}
