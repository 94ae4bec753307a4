// Package relayclient owns a world's single persistent connection to the relay.
//
// Transport goroutines (dial, read loop) never touch simulation state: they decode frames
// and hand Events to the simulation goroutine through Events(). Everything that mutates
// world or handoff bookkeeping happens in Handle, Tick and the Send* methods, which must
// be called from that goroutine.
package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"riftclaw.ai/internal/feedback"
	"riftclaw.ai/internal/passport"
	"riftclaw.ai/internal/protocol"
)

type Options struct {
	Logger   *log.Logger
	Arrivals Arrivals
	Notifier feedback.Notifier
	Journal  Journal
	Now      func() time.Time
}

type Client struct {
	cfg      Config
	log      *log.Logger
	arrivals Arrivals
	notifier feedback.Notifier
	journal  Journal
	now      func() time.Time

	state     atomic.Int32
	connected atomic.Bool

	mu      sync.Mutex
	conn    *websocket.Conn
	gen     uint64
	writeMu sync.Mutex

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once

	malformed atomic.Uint64
	unknown   atomic.Uint64

	// Simulation goroutine only.
	seen      *nonceCache
	pending   map[passport.Key]pendingHandoff
	portals   []protocol.PortalDescriptor
	relayName string
	stats     Stats
}

func New(cfg Config, opts Options) *Client {
	cfg.normalize()
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[relayclient] ", log.LstdFlags|log.Lmicroseconds)
	}
	if opts.Notifier == nil {
		opts.Notifier = feedback.Discard{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{
		cfg:      cfg,
		log:      opts.Logger,
		arrivals: opts.Arrivals,
		notifier: opts.Notifier,
		journal:  opts.Journal,
		now:      opts.Now,
		events:   make(chan Event, cfg.EventBuffer),
		closed:   make(chan struct{}),
		seen:     newNonceCache(cfg.DedupeTTL, cfg.DedupeMax),
		pending:  map[passport.Key]pendingHandoff{},
	}
}

func (c *Client) State() State { return State(c.state.Load()) }

// IsConnected is true only while the handshake flag is set and a live connection exists.
func (c *Client) IsConnected() bool {
	if !c.connected.Load() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Events delivers decoded messages and connection transitions to the simulation goroutine.
func (c *Client) Events() <-chan Event { return c.events }

// Connect starts a dial in the background and returns immediately. It is a no-op unless the
// client is disconnected. Failures are logged and reported as EventConnectFailed.
func (c *Client) Connect(ctx context.Context) {
	select {
	case <-c.closed:
		return
	default:
	}
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return
	}
	go c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) {
	d := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, resp, err := d.DialContext(ctx, c.cfg.URL, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.log.Printf("connect %s: %v", c.cfg.URL, err)
		c.state.Store(int32(StateDisconnected))
		c.emit(Event{Kind: EventConnectFailed, Err: err})
		return
	}

	// Announce before publishing the connection so discover is always the first frame.
	if err := c.writeTo(conn, &protocol.DiscoverMsg{
		Type:      protocol.TypeDiscover,
		AgentID:   c.cfg.AgentID,
		Timestamp: protocol.Timestamp(c.now()),
	}); err != nil {
		c.log.Printf("send discover: %v", err)
		_ = conn.Close()
		c.state.Store(int32(StateDisconnected))
		c.emit(Event{Kind: EventConnectFailed, Err: err})
		return
	}
	if c.cfg.WorldName != "" {
		if err := c.writeTo(conn, &protocol.RegisterWorldMsg{
			Type:        protocol.TypeRegisterWorld,
			WorldName:   c.cfg.WorldName,
			WorldURL:    c.cfg.WorldURL,
			DisplayName: c.cfg.DisplayName,
			Timestamp:   protocol.Timestamp(c.now()),
		}); err != nil {
			c.log.Printf("send register_world: %v", err)
		}
	}

	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		_ = conn.Close()
		c.state.Store(int32(StateDisconnected))
		return
	default:
	}
	c.gen++
	gen := c.gen
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	c.state.Store(int32(StateConnected))
	c.log.Printf("connected to relay %s", c.cfg.URL)

	c.emit(Event{Kind: EventConnected, Gen: gen})
	go c.readLoop(conn, gen)
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.drop(conn, gen, err)
			return
		}
		c.receive(msg, gen)
	}
}

// currentGen is the generation of the most recently published connection.
func (c *Client) currentGen() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// receive decodes one inbound frame. Bad frames are logged and discarded; the connection
// is never affected.
func (c *Client) receive(raw []byte, gen uint64) {
	m, err := protocol.Decode(raw)
	if err != nil {
		var ute *protocol.UnknownTypeError
		if errors.As(err, &ute) {
			c.unknown.Add(1)
			c.log.Printf("warn: dropping unknown message type %q", ute.Type)
			return
		}
		c.malformed.Add(1)
		c.log.Printf("dropping frame: %v", err)
		return
	}
	c.emit(Event{Kind: EventMessage, Msg: m, Gen: gen})
}

func (c *Client) drop(conn *websocket.Conn, gen uint64, cause error) {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
	if !current {
		return
	}
	c.connected.Store(false)
	c.state.Store(int32(StateDisconnected))
	if websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.Printf("disconnected from relay: %v", cause)
	} else {
		c.log.Printf("relay connection error: %v", cause)
	}
	c.emit(Event{Kind: EventDisconnected, Err: cause, Gen: gen})
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

// Disconnect closes the current connection. IsConnected is false once it returns; the
// matching EventDisconnected is delivered through Events.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn, gen := c.conn, c.gen
	c.conn = nil
	c.connected.Store(false)
	c.state.Store(int32(StateDisconnected))
	c.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	_ = conn.Close()
	c.log.Printf("disconnected from relay")
	// The read loop no longer owns conn, so report the close here. Handle may be the caller.
	go c.emit(Event{Kind: EventDisconnected, Err: ErrDisconnected, Gen: gen})
}

// Close tears the client down for good. Pending events are abandoned.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		c.connected.Store(false)
		c.state.Store(int32(StateDisconnected))
		if conn != nil {
			_ = conn.Close()
		}
	})
}

func (c *Client) write(m protocol.Message) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.writeTo(conn, m)
}

func (c *Client) writeTo(conn *websocket.Conn, m protocol.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.MsgType(), err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// Stats is safe to call from the simulation goroutine.
func (c *Client) Stats() Stats {
	s := c.stats
	s.Malformed = c.malformed.Load()
	s.Unknown = c.unknown.Load()
	s.Portals = len(c.portals)
	return s
}

// Portals returns the most recent discover_response listing.
func (c *Client) Portals() []protocol.PortalDescriptor {
	return append([]protocol.PortalDescriptor(nil), c.portals...)
}

// RelayName is the world_name from the last welcome.
func (c *Client) RelayName() string { return c.relayName }

// PendingHandoffs is the number of sent requests still awaiting a confirm.
func (c *Client) PendingHandoffs() int { return len(c.pending) }
