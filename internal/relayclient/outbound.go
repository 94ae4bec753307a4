package relayclient

import (
	"fmt"

	"riftclaw.ai/internal/passport"
	"riftclaw.ai/internal/protocol"
)

// SendDiscover announces this world. Connect already sends one discover per session.
func (c *Client) SendDiscover() error {
	return c.write(&protocol.DiscoverMsg{
		Type:      protocol.TypeDiscover,
		AgentID:   c.cfg.AgentID,
		Timestamp: protocol.Timestamp(c.now()),
	})
}

// SendHandoffRequest ships a complete passport to the relay through the configured portal
// and starts waiting for the matching confirm. Simulation goroutine only.
func (c *Client) SendHandoffRequest(p passport.Passport) error {
	return c.SendHandoffRequestFrom(c.cfg.PortalID, p)
}

// SendHandoffRequestFrom is SendHandoffRequest for worlds hosting several portals on one
// connection.
func (c *Client) SendHandoffRequestFrom(portalID string, p passport.Passport) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if portalID == "" {
		portalID = c.cfg.PortalID
	}
	now := c.now()
	err := c.write(&protocol.HandoffRequestMsg{
		Type:      protocol.TypeHandoffRequest,
		AgentID:   p.AgentID,
		PortalID:  portalID,
		Passport:  &p,
		Timestamp: protocol.Timestamp(now),
	})
	if err != nil {
		return fmt.Errorf("send handoff_request: %w", err)
	}
	c.stats.Sent++
	c.pending[p.Key()] = pendingHandoff{AgentID: p.AgentID, PortalID: portalID, TargetWorld: p.TargetWorld, SentAt: now}
	c.record(JournalEntry{Time: now, Direction: DirOut, Event: JournalSent, PortalID: portalID}, p)
	return nil
}

func (c *Client) SendPing() error {
	return c.write(&protocol.PingMsg{Type: protocol.TypePing, Timestamp: protocol.Timestamp(c.now())})
}

// SendSync hands an opaque payload to the relay for fan-out to the other worlds.
func (c *Client) SendSync(payload []byte) error {
	return c.write(&protocol.SyncMsg{
		Type:      protocol.TypeSync,
		WorldName: c.cfg.WorldName,
		Payload:   payload,
		Timestamp: protocol.Timestamp(c.now()),
	})
}
