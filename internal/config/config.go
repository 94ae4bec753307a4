// Package config loads world.yaml and relay.yaml and applies RIFTCLAW_* environment
// overrides on top.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Vec3 struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

type World struct {
	Name        string `yaml:"name"`
	Tag         string `yaml:"tag"`
	DisplayName string `yaml:"display_name"`
	URL         string `yaml:"url"`
	TickRateHz  int    `yaml:"tick_rate_hz"`
	Spawn       Vec3   `yaml:"spawn"`
	ItemsPath   string `yaml:"items_path"`

	Relay   RelayClient  `yaml:"relay"`
	Storage Storage      `yaml:"storage"`
	Control Control      `yaml:"control"`
	Portals []PortalSpec `yaml:"portals"`
}

type RelayClient struct {
	URL              string        `yaml:"url"`
	AgentID          string        `yaml:"agent_id"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	HandoffTimeout   time.Duration `yaml:"handoff_timeout"`
	DedupeTTL        time.Duration `yaml:"dedupe_ttl"`
	DedupeMax        int           `yaml:"dedupe_max"`

	// ReconnectEvery throttles how often the tick loop polls Connect while disconnected.
	ReconnectEvery    time.Duration `yaml:"reconnect_every"`
	RequireSignatures bool          `yaml:"require_signatures"`
}

type Storage struct {
	DBPath     string `yaml:"db_path"`
	JournalDir string `yaml:"journal_dir"`
	KeyPath    string `yaml:"key_path"`
}

// Control is the world's local HTTP surface. An empty Secret limits it to loopback.
type Control struct {
	Listen string `yaml:"listen"`
	Secret string `yaml:"secret"`
}

type PortalSpec struct {
	ID            string  `yaml:"id"`
	Name          string  `yaml:"name"`
	Target        string  `yaml:"target"`
	Position      Vec3    `yaml:"position"`
	Radius        float64 `yaml:"radius"`
	Reputation    float64 `yaml:"reputation"`
	MemorySummary string  `yaml:"memory_summary"`
}

type Relay struct {
	Listen        string        `yaml:"listen"`
	Path          string        `yaml:"path"`
	Name          string        `yaml:"name"`
	NodeID        int64         `yaml:"node_id"`
	OriginTTL     time.Duration `yaml:"origin_ttl"`
	StatsInterval time.Duration `yaml:"stats_interval"`
	QueueSize     int           `yaml:"queue_size"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
}

// WorldEnv lists the environment overrides honoured by LoadWorld. Unset variables leave
// the file value alone.
type WorldEnv struct {
	Name              string        `env:"RIFTCLAW_WORLD_NAME"`
	URL               string        `env:"RIFTCLAW_WORLD_URL"`
	RelayURL          string        `env:"RIFTCLAW_RELAY_URL"`
	HandoffTimeout    time.Duration `env:"RIFTCLAW_HANDOFF_TIMEOUT"`
	RequireSignatures *bool         `env:"RIFTCLAW_REQUIRE_SIGNATURES"`
	DBPath            string        `env:"RIFTCLAW_DB_PATH"`
	JournalDir        string        `env:"RIFTCLAW_JOURNAL_DIR"`
	KeyPath           string        `env:"RIFTCLAW_SIGNING_KEY"`
	ItemsPath         string        `env:"RIFTCLAW_ITEMS"`
	ControlListen     string        `env:"RIFTCLAW_CONTROL_LISTEN"`
	ControlSecret     string        `env:"RIFTCLAW_CONTROL_SECRET"`
}

type RelayEnv struct {
	Listen string `env:"RIFTCLAW_RELAY_LISTEN"`
	Name   string `env:"RIFTCLAW_RELAY_NAME"`
	NodeID *int64 `env:"RIFTCLAW_RELAY_NODE_ID"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func DefaultWorld() World {
	return World{
		Name:       "minecraft-overworld",
		Tag:        "mc",
		TickRateHz: 20,
		Spawn:      Vec3{X: 0, Y: 64, Z: 0},
		Relay: RelayClient{
			URL:              "ws://localhost:8765",
			HandshakeTimeout: 5 * time.Second,
			HandoffTimeout:   15 * time.Second,
			DedupeTTL:        time.Minute,
			DedupeMax:        4096,
			ReconnectEvery:   5 * time.Second,
		},
		Control: Control{Listen: "127.0.0.1:8081"},
		Portals: []PortalSpec{{
			ID:            "minecraft-rift-portal",
			Name:          "Rift Portal",
			Target:        "lobby",
			Radius:        1.5,
			Reputation:    5,
			MemorySummary: "Crossing from Minecraft to RiftClaw browser world",
		}},
	}
}

func DefaultRelay() Relay {
	return Relay{
		Listen:        ":8765",
		Path:          "/",
		Name:          "RiftClaw Relay",
		NodeID:        1,
		OriginTTL:     2 * time.Minute,
		StatsInterval: time.Minute,
		QueueSize:     64,
		ReadTimeout:   90 * time.Second,
	}
}

func LoadWorld(path string) (World, error) {
	cfg := DefaultWorld()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("world.yaml: %w", err)
		}
	}
	var e WorldEnv
	if err := ParseEnv(&e); err != nil {
		return cfg, err
	}
	cfg.applyEnv(e)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("world.yaml: %w", err)
	}
	return cfg, nil
}

func (c *World) applyEnv(e WorldEnv) {
	// A renamed world must not keep announcing the identity of the old one.
	if name := strings.TrimSpace(e.Name); name != "" && name != c.Name {
		c.Name = name
		c.DisplayName = ""
		c.Relay.AgentID = ""
	}
	setString(&c.URL, e.URL)
	setString(&c.Relay.URL, e.RelayURL)
	setString(&c.Storage.DBPath, e.DBPath)
	setString(&c.Storage.JournalDir, e.JournalDir)
	setString(&c.Storage.KeyPath, e.KeyPath)
	setString(&c.ItemsPath, e.ItemsPath)
	setString(&c.Control.Listen, e.ControlListen)
	setString(&c.Control.Secret, e.ControlSecret)
	if e.HandoffTimeout > 0 {
		c.Relay.HandoffTimeout = e.HandoffTimeout
	}
	if e.RequireSignatures != nil {
		c.Relay.RequireSignatures = *e.RequireSignatures
	}
}

func (c *World) Normalize() {
	if c == nil {
		return
	}
	c.Name = strings.TrimSpace(c.Name)
	c.Tag = strings.TrimSpace(c.Tag)
	if c.DisplayName == "" {
		c.DisplayName = c.Name
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.Relay.AgentID == "" {
		c.Relay.AgentID = c.Name
	}
	if c.Relay.ReconnectEvery <= 0 {
		c.Relay.ReconnectEvery = 5 * time.Second
	}
	for i := range c.Portals {
		p := &c.Portals[i]
		if p.Name == "" {
			p.Name = p.ID
		}
		if p.Radius <= 0 {
			p.Radius = 1
		}
	}
}

func (c World) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if c.Tag == "" {
		return fmt.Errorf("tag must not be empty")
	}
	if strings.ContainsAny(c.Tag, "-| ") {
		return fmt.Errorf("tag %q must not contain '-', '|' or spaces", c.Tag)
	}
	if c.Relay.URL == "" {
		return fmt.Errorf("relay.url must not be empty")
	}
	if c.Relay.HandoffTimeout < 0 || c.Relay.DedupeTTL < 0 || c.Relay.DedupeMax < 0 {
		return fmt.Errorf("relay timeouts and limits must be >= 0")
	}
	seen := map[string]bool{}
	for _, p := range c.Portals {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("portal id must not be empty")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate portal id: %s", p.ID)
		}
		seen[p.ID] = true
		if strings.TrimSpace(p.Target) == "" {
			return fmt.Errorf("portal %s target must not be empty", p.ID)
		}
		if p.Target == c.Name {
			return fmt.Errorf("portal %s targets its own world", p.ID)
		}
		if p.Reputation < 0 {
			return fmt.Errorf("portal %s reputation must be >= 0", p.ID)
		}
	}
	return nil
}

func LoadRelay(path string) (Relay, error) {
	cfg := DefaultRelay()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("relay.yaml: %w", err)
		}
	}
	var e RelayEnv
	if err := ParseEnv(&e); err != nil {
		return cfg, err
	}
	setString(&cfg.Listen, e.Listen)
	setString(&cfg.Name, e.Name)
	if e.NodeID != nil {
		cfg.NodeID = *e.NodeID
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("relay.yaml: %w", err)
	}
	return cfg, nil
}

func (c Relay) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("listen must not be empty")
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path must start with /")
	}
	// snowflake reserves 10 bits for the node.
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("node_id must be in [0, 1023]")
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue_size must be >= 0")
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
