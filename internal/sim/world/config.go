package world

import (
	"fmt"
	"strings"
	"time"

	"riftclaw.ai/internal/passport"
)

// Vitals are capped the way a survival game caps them.
const (
	MaxHealth = 20
	MaxFood   = 20
)

type WorldConfig struct {
	// Name is the world name used as source_world and registered with the relay.
	Name string
	// Tag prefixes agent ids minted here ("<tag>-<uuid>").
	Tag        string
	TickRateHz int
	Spawn      passport.Position

	// ReconnectEvery throttles Connect polling while the relay is unreachable.
	ReconnectEvery time.Duration

	// Starter items for SpawnAgent when the caller passes none.
	StarterItems []passport.InventoryItem
}

func (c *WorldConfig) normalize() {
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.ReconnectEvery <= 0 {
		c.ReconnectEvery = 5 * time.Second
	}
}

func (c WorldConfig) validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("world: missing name")
	}
	if c.Tag == "" || strings.ContainsAny(c.Tag, "- ") {
		return fmt.Errorf("world %s: tag %q must be non-empty without '-' or spaces", c.Name, c.Tag)
	}
	return nil
}
