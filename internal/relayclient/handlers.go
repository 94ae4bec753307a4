package relayclient

import (
	"fmt"
	"runtime/debug"
	"time"

	"riftclaw.ai/internal/feedback"
	"riftclaw.ai/internal/passport"
	"riftclaw.ai/internal/protocol"
)

// Handle applies one event on the simulation goroutine. A failing handler is logged and
// contained; it never propagates to the caller or the connection.
func (c *Client) Handle(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Printf("handler panic (dropped): %v\n%s", r, debug.Stack())
		}
	}()
	switch ev.Kind {
	case EventConnected:
		c.log.Printf("relay session open")
	case EventConnectFailed:
		c.log.Printf("relay connect failed: %v", ev.Err)
	case EventDisconnected:
		if gen := c.currentGen(); ev.Gen != gen {
			c.log.Printf("ignoring disconnect of stale connection %d (current %d)", ev.Gen, gen)
			return
		}
		if n := len(c.pending); n > 0 {
			c.log.Printf("abandoning %d outstanding handoff(s) after disconnect", n)
			c.pending = map[passport.Key]pendingHandoff{}
		}
	case EventMessage:
		c.dispatch(ev.Msg)
	}
}

func (c *Client) dispatch(m protocol.Message) {
	switch msg := m.(type) {
	case *protocol.WelcomeMsg:
		c.handleWelcome(msg)
	case *protocol.HandoffConfirmMsg:
		c.handleHandoffConfirm(msg)
	case *protocol.HandoffRequestMsg:
		c.handleHandoffRequest(msg)
	case *protocol.DiscoverResponseMsg:
		c.handleDiscoverResponse(msg)
	case *protocol.HandoffRejectedMsg:
		c.handleHandoffRejected(msg)
	case *protocol.RegisterConfirmMsg:
		c.log.Printf("registered world %s (%s)", msg.WorldName, msg.Status)
	case *protocol.ErrorMsg:
		c.log.Printf("relay error %s: %s", msg.Code, msg.Message)
	case *protocol.PongMsg, *protocol.SyncMsg:
	default:
		c.log.Printf("warn: no handler for %s", m.MsgType())
	}
}

func (c *Client) handleWelcome(m *protocol.WelcomeMsg) {
	c.relayName = m.WorldName
	c.log.Printf("welcome from relay %q version=%s", m.WorldName, m.Version)
}

func (c *Client) handleDiscoverResponse(m *protocol.DiscoverResponseMsg) {
	c.portals = append(c.portals[:0], m.Portals...)
	c.log.Printf("discovered %d portals (%d worlds registered)", len(m.Portals), m.RegisteredWorlds)
}

// handleHandoffRequest runs when this world is the destination. Each (agent_id, nonce) is
// applied at most once and confirmed at most once.
func (c *Client) handleHandoffRequest(m *protocol.HandoffRequestMsg) {
	if m.Passport == nil {
		c.log.Printf("handoff_request without passport (dropped)")
		return
	}
	p := *m.Passport
	key := p.Key()
	if key.AgentID == "" || key.Nonce == "" {
		c.log.Printf("handoff_request passport missing agent_id/nonce (dropped)")
		return
	}
	if c.cfg.RequireSignatures {
		if err := passport.Verify(p); err != nil {
			c.log.Printf("handoff_request %s rejected: %v", key, err)
			c.record(JournalEntry{Direction: DirIn, Event: JournalRejected, PortalID: m.PortalID, Detail: err.Error()}, p)
			return
		}
	}

	now := c.now()
	prev, dup := c.seen.observe(key.String(), now)
	if dup {
		c.stats.Duplicates++
		c.record(JournalEntry{Direction: DirIn, Event: JournalDuplicate, PortalID: m.PortalID}, p)
		if prev.confirmed {
			c.log.Printf("duplicate handoff_request %s ignored", key)
			return
		}
		// The first confirm never left; answer without re-applying.
		c.confirm(m, p, now)
		return
	}

	if c.arrivals != nil {
		if err := c.arrivals.ApplyPassport(p); err != nil {
			c.log.Printf("apply passport %s: %v (continuing)", key, err)
		}
	}
	c.stats.Applied++
	c.record(JournalEntry{Direction: DirIn, Event: JournalApplied, PortalID: m.PortalID}, p)
	c.notifier.Notify(feedback.Notice{
		AgentID: p.AgentID,
		Kind:    feedback.KindArrived,
		Text:    fmt.Sprintf("Welcome %s, arriving from %s", p.AgentName, p.SourceWorld),
	})
	c.confirm(m, p, now)
}

func (c *Client) confirm(m *protocol.HandoffRequestMsg, p passport.Passport, now time.Time) {
	agentID := m.AgentID
	if agentID == "" {
		agentID = p.AgentID
	}
	err := c.write(&protocol.HandoffConfirmMsg{
		Type:      protocol.TypeHandoffConfirm,
		AgentID:   agentID,
		PortalID:  m.PortalID,
		Passport:  &p,
		Timestamp: protocol.Timestamp(now),
	})
	if err != nil {
		c.log.Printf("send handoff_confirm %s: %v", p.Key(), err)
		return
	}
	c.seen.markConfirmed(p.Key().String())
}

// handleHandoffConfirm closes a handoff this world started.
func (c *Client) handleHandoffConfirm(m *protocol.HandoffConfirmMsg) {
	if m.Passport == nil {
		c.log.Printf("handoff_confirm without passport (ignored)")
		return
	}
	key := m.Passport.Key()
	ph, ok := c.pending[key]
	if !ok {
		c.log.Printf("handoff_confirm %s does not match an outstanding request (ignored)", key)
		return
	}
	delete(c.pending, key)
	c.stats.Confirmed++
	c.record(JournalEntry{Direction: DirOut, Event: JournalConfirmed, PortalID: m.PortalID}, *m.Passport)
	c.log.Printf("handoff %s confirmed by %s", key, ph.TargetWorld)
	c.notifier.Notify(feedback.Notice{
		AgentID: ph.AgentID,
		Kind:    feedback.KindConfirmed,
		Text:    fmt.Sprintf("Handoff to %s successful", ph.TargetWorld),
	})
}

func (c *Client) handleHandoffRejected(m *protocol.HandoffRejectedMsg) {
	key := passport.Key{AgentID: m.AgentID, Nonce: m.Nonce}
	ph, ok := c.pending[key]
	if !ok {
		c.log.Printf("handoff rejected: %s %s", m.Reason, m.Details)
		return
	}
	delete(c.pending, key)
	c.fail(key, ph, JournalRejected, fmt.Sprintf("Rift closed: %s", m.Reason))
}

// Tick expires outstanding handoffs that never got a confirm. There is no retry; the user
// sees one failure notice and may trigger again.
func (c *Client) Tick(now time.Time) {
	for key, ph := range c.pending {
		if now.Sub(ph.SentAt) < c.cfg.HandoffTimeout {
			continue
		}
		delete(c.pending, key)
		c.fail(key, ph, JournalTimedOut, fmt.Sprintf("No answer from %s", ph.TargetWorld))
	}
}

func (c *Client) fail(key passport.Key, ph pendingHandoff, ev JournalEvent, text string) {
	c.stats.Failed++
	c.log.Printf("handoff %s failed: %s", key, text)
	c.writeJournal(JournalEntry{
		Direction:   DirOut,
		Event:       ev,
		AgentID:     key.AgentID,
		Nonce:       key.Nonce,
		PortalID:    ph.PortalID,
		TargetWorld: ph.TargetWorld,
		Detail:      text,
	})
	c.notifier.Notify(feedback.Notice{AgentID: ph.AgentID, Kind: feedback.KindFailed, Text: text})
}

func (c *Client) record(e JournalEntry, p passport.Passport) {
	e.AgentID = p.AgentID
	e.Nonce = p.Nonce
	e.SourceWorld = p.SourceWorld
	e.TargetWorld = p.TargetWorld
	c.writeJournal(e)
}

func (c *Client) writeJournal(e JournalEntry) {
	if c.journal == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = c.now()
	}
	if err := c.journal.WriteHandoff(e); err != nil {
		c.log.Printf("journal: %v", err)
	}
}
