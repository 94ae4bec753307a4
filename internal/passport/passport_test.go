package passport

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testFields() Fields {
	return Fields{
		AgentUUID: uuid.MustParse("2f1c7e9a-4b1d-4c8e-9f61-0a2b3c4d5e6f"),
		AgentName: "Steve",
		Position:  Position{X: 1.5, Y: 64, Z: -3},
		Inventory: []InventoryItem{{Name: "Portal Shard", ItemType: "shard", Quantity: 1}},
		Health:    20,
		Food:      18,
	}
}

func testTemplate() Template {
	return Template{WorldTag: "mc", SourceWorld: "minecraft-overworld", TargetWorld: "lobby", Reputation: 5}
}

func TestBuild_FullyPopulated(t *testing.T) {
	now := time.Unix(1700000000, 250_000_000)
	p := Build(testTemplate(), testFields(), now)
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if p.AgentID != "mc-2f1c7e9a-4b1d-4c8e-9f61-0a2b3c4d5e6f" {
		t.Fatalf("agent id: %q", p.AgentID)
	}
	if len(p.Nonce) != 8 {
		t.Fatalf("nonce len: %q", p.Nonce)
	}
	if p.Timestamp != 1700000000.25 {
		t.Fatalf("timestamp: %v", p.Timestamp)
	}
	if p.InventoryHash != InventoryHash(p.Inventory) {
		t.Fatalf("inventory hash mismatch")
	}
}

func TestAgentID_StableAcrossBuilds(t *testing.T) {
	a := Build(testTemplate(), testFields(), time.Now())
	b := Build(testTemplate(), testFields(), time.Now())
	if a.AgentID != b.AgentID {
		t.Fatalf("agent id changed: %s vs %s", a.AgentID, b.AgentID)
	}
	if a.Nonce == b.Nonce {
		t.Fatalf("expected fresh nonce per attempt")
	}
}

func TestInventoryHash_ChangesWithInventory(t *testing.T) {
	a := InventoryHash([]InventoryItem{{Name: "Portal Shard", ItemType: "shard", Quantity: 1}})
	b := InventoryHash([]InventoryItem{{Name: "Portal Shard", ItemType: "shard", Quantity: 2}})
	if a == b {
		t.Fatalf("expected different hashes")
	}
	if InventoryHash(nil) != InventoryHash([]InventoryItem{}) {
		t.Fatalf("nil and empty inventories should hash equally")
	}
}

func TestValidate_RejectsPartial(t *testing.T) {
	p := Build(testTemplate(), testFields(), time.Now())
	p.Nonce = ""
	if err := p.Validate(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}

	p = Build(testTemplate(), testFields(), time.Now())
	p.Inventory[0].Quantity = 0
	if err := p.Validate(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete for zero quantity, got %v", err)
	}

	p = Build(testTemplate(), testFields(), time.Now())
	p.Health = -1
	if err := p.Validate(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete for negative health, got %v", err)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	now := time.Unix(1700000123, 500_000_000)
	got := Time(Timestamp(now))
	if d := got.Sub(now); d > time.Millisecond || d < -time.Millisecond {
		t.Fatalf("round trip drift %v", d)
	}
}

func TestSigner_SignVerify(t *testing.T) {
	s, err := GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	p := Build(testTemplate(), testFields(), time.Now())
	if err := Verify(p); !errors.Is(err, ErrUnsigned) {
		t.Fatalf("expected ErrUnsigned, got %v", err)
	}
	if err := s.Sign(&p); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(p); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	p.Inventory[0].Quantity = 64
	if err := Verify(p); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected tamper detection, got %v", err)
	}
}

func TestLoadOrCreateSigner_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "world.key")
	a, err := LoadOrCreateSigner(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := LoadOrCreateSigner(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if a.PublicKey() != b.PublicKey() {
		t.Fatalf("expected same key after reload")
	}
}

func TestBuild_KeepsArrivedAgentID(t *testing.T) {
	f := testFields()
	f.AgentID = "mc-2f1c7e9a-4b1d-4c8e-9f61-0a2b3c4d5e6f"
	tpl := Template{WorldTag: "lb", SourceWorld: "lobby", TargetWorld: "minecraft-overworld"}
	p := Build(tpl, f, time.Unix(1700000000, 0))
	if p.AgentID != f.AgentID {
		t.Fatalf("arrived agent should keep its id, got %q", p.AgentID)
	}
}

func TestParseAgentID(t *testing.T) {
	id := uuid.MustParse("2f1c7e9a-4b1d-4c8e-9f61-0a2b3c4d5e6f")
	tag, got, err := ParseAgentID(AgentID("mc", id))
	if err != nil || tag != "mc" || got != id {
		t.Fatalf("ParseAgentID: %q %v %v", tag, got, err)
	}
	for _, bad := range []string{"", "mc", "-2f1c7e9a-4b1d-4c8e-9f61-0a2b3c4d5e6f", "mc-notauuid"} {
		if _, _, err := ParseAgentID(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestParseInventory(t *testing.T) {
	got := ParseInventory("Portal Shard:2, Data Crystal ,Bad:x,,Star Fragment:0")
	if len(got) != 4 {
		t.Fatalf("want 4 items, got %+v", got)
	}
	if got[0].Name != "Portal Shard" || got[0].Quantity != 2 {
		t.Fatalf("item 0: %+v", got[0])
	}
	if got[1].Name != "Data Crystal" || got[1].Quantity != 1 {
		t.Fatalf("item 1: %+v", got[1])
	}
	if got[2].Name != "Bad:x" || got[3].Name != "Star Fragment:0" || got[3].Quantity != 1 {
		t.Fatalf("bad quantities should stay in the name: %+v", got[2:])
	}
	if ParseInventory("") != nil {
		t.Fatalf("empty input should yield nil")
	}
}
