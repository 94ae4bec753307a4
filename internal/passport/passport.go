// Package passport defines the signed snapshot of an agent that travels between worlds
// during a handoff.
package passport

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Position is world-local and advisory only to the destination.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type InventoryItem struct {
	Name     string `json:"name"`
	ItemType string `json:"item"`
	Quantity int    `json:"quantity"`
}

// Passport is immutable once sent. Signature and SignerKey are optional; when present they
// cover every other field.
type Passport struct {
	AgentID       string          `json:"agent_id"`
	AgentName     string          `json:"agent_name"`
	SourceWorld   string          `json:"source_world"`
	TargetWorld   string          `json:"target_world"`
	Position      Position        `json:"position"`
	Inventory     []InventoryItem `json:"inventory"`
	InventoryHash string          `json:"inventory_hash"`
	Health        float64         `json:"health"`
	Food          float64         `json:"food"`
	Timestamp     float64         `json:"timestamp"`
	Nonce         string          `json:"nonce"`
	Reputation    float64         `json:"reputation"`
	MemorySummary string          `json:"memory_summary"`

	Signature string `json:"signature,omitempty"`
	SignerKey string `json:"signer_key,omitempty"`
}

// Key identifies a single handoff attempt.
type Key struct {
	AgentID string
	Nonce   string
}

func (k Key) String() string { return k.AgentID + "|" + k.Nonce }

func (p Passport) Key() Key { return Key{AgentID: p.AgentID, Nonce: p.Nonce} }

var ErrIncomplete = errors.New("passport incomplete")

// Validate reports whether p is fully populated. Partial passports are never sent.
func (p Passport) Validate() error {
	var missing []string
	if strings.TrimSpace(p.AgentID) == "" {
		missing = append(missing, "agent_id")
	}
	if strings.TrimSpace(p.AgentName) == "" {
		missing = append(missing, "agent_name")
	}
	if strings.TrimSpace(p.SourceWorld) == "" {
		missing = append(missing, "source_world")
	}
	if strings.TrimSpace(p.TargetWorld) == "" {
		missing = append(missing, "target_world")
	}
	if p.InventoryHash == "" {
		missing = append(missing, "inventory_hash")
	}
	if p.Timestamp <= 0 {
		missing = append(missing, "timestamp")
	}
	if strings.TrimSpace(p.Nonce) == "" {
		missing = append(missing, "nonce")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(missing, ","))
	}
	if p.Health < 0 || p.Food < 0 {
		return fmt.Errorf("%w: negative vitals", ErrIncomplete)
	}
	for i, it := range p.Inventory {
		if it.Name == "" || it.Quantity < 1 {
			return fmt.Errorf("%w: inventory[%d] invalid", ErrIncomplete, i)
		}
	}
	return nil
}

// AgentID derives the cross-world agent identifier from a stable per-agent UUID.
func AgentID(worldTag string, id uuid.UUID) string {
	return worldTag + "-" + id.String()
}

// ParseAgentID splits "<tag>-<uuid>" back into its parts.
func ParseAgentID(id string) (tag string, u uuid.UUID, err error) {
	i := strings.Index(id, "-")
	if i <= 0 {
		return "", uuid.Nil, fmt.Errorf("agent id %q: missing world tag", id)
	}
	u, err = uuid.Parse(id[i+1:])
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("agent id %q: %w", id, err)
	}
	return id[:i], u, nil
}

// NewNonce returns a short random token scoped to one handoff attempt.
func NewNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// InventoryHash is an advisory fingerprint of an inventory snapshot. Order matters.
func InventoryHash(items []InventoryItem) string {
	if items == nil {
		items = []InventoryItem{}
	}
	b, _ := json.Marshal(items)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// ParseInventory reads the command-line form "Portal Shard:1,Data Crystal:2". A missing or
// unparseable quantity means 1 and leaves the text after the colon in the name.
func ParseInventory(s string) []InventoryItem {
	var out []InventoryItem
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, qty := part, 1
		if i := strings.LastIndex(part, ":"); i > 0 {
			if n, err := strconv.Atoi(strings.TrimSpace(part[i+1:])); err == nil && n > 0 {
				name, qty = strings.TrimSpace(part[:i]), n
			}
		}
		out = append(out, InventoryItem{Name: name, Quantity: qty})
	}
	return out
}

// Timestamp converts t to float seconds since epoch, the wire representation.
func Timestamp(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// Time is the inverse of Timestamp.
func Time(ts float64) time.Time {
	sec := int64(ts)
	return time.Unix(sec, int64((ts-float64(sec))*1e9))
}

// Fields is what a world extracts from its native agent representation. AgentID, when set,
// is reused verbatim so an agent that arrived from another world keeps its identifier.
type Fields struct {
	AgentID   string
	AgentUUID uuid.UUID
	AgentName string
	Position  Position
	Inventory []InventoryItem
	Health    float64
	Food      float64
}

// Adapter translates between passports and a world's native agent state. Implementations
// are called only from the world's simulation goroutine.
type Adapter interface {
	ExtractPassportFields(agentID string) (Fields, error)
	ApplyPassport(p Passport) error
}

// Template carries the per-portal constants stamped into every passport.
type Template struct {
	WorldTag      string
	SourceWorld   string
	TargetWorld   string
	Reputation    float64
	MemorySummary string
}

// Build assembles a complete passport from extracted fields.
func Build(tpl Template, f Fields, now time.Time) Passport {
	inv := append([]InventoryItem{}, f.Inventory...)
	id := f.AgentID
	if id == "" {
		id = AgentID(tpl.WorldTag, f.AgentUUID)
	}
	return Passport{
		AgentID:       id,
		AgentName:     f.AgentName,
		SourceWorld:   tpl.SourceWorld,
		TargetWorld:   tpl.TargetWorld,
		Position:      f.Position,
		Inventory:     inv,
		InventoryHash: InventoryHash(inv),
		Health:        f.Health,
		Food:          f.Food,
		Timestamp:     Timestamp(now),
		Nonce:         NewNonce(),
		Reputation:    tpl.Reputation,
		MemorySummary: tpl.MemorySummary,
	}
}
