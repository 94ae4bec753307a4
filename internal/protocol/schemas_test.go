package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"riftclaw.ai/internal/passport"
	"riftclaw.ai/internal/protocol"
)

func TestSchemas_ValidateEncodedMessages(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, m protocol.Message) {
		t.Helper()
		b, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("marshal %s: %v", m.MsgType(), err)
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			t.Fatalf("unmarshal %s: %v", m.MsgType(), err)
		}
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate %s: %v", m.MsgType(), err)
		}
	}

	now := time.Unix(1700000000, 0)
	pp := passport.Build(passport.Template{
		WorldTag:      "mc",
		SourceWorld:   "minecraft-overworld",
		TargetWorld:   "lobby",
		Reputation:    5,
		MemorySummary: "Crossing from Minecraft",
	}, passport.Fields{
		AgentUUID: uuid.New(),
		AgentName: "Steve",
		Inventory: []passport.InventoryItem{{Name: "Portal Shard", ItemType: "shard", Quantity: 1}},
		Health:    20,
		Food:      20,
	}, now)

	validate(compile("discover.schema.json"), &protocol.DiscoverMsg{
		Type: protocol.TypeDiscover, AgentID: "mc-world", Timestamp: protocol.Timestamp(now),
	})
	validate(compile("welcome.schema.json"), &protocol.WelcomeMsg{
		Type: protocol.TypeWelcome, WorldName: "RiftClaw Relay", Version: protocol.Version,
		Capabilities: []string{"portals", "relay"}, RelayID: "1", Timestamp: protocol.Timestamp(now),
	})
	validate(compile("discover_response.schema.json"), &protocol.DiscoverResponseMsg{
		Type: protocol.TypeDiscoverResponse,
		Portals: []protocol.PortalDescriptor{
			{PortalID: "portal_lobby_01", Name: "Lobby Gateway", DestinationWorld: "lobby"},
		},
		RegisteredWorlds: 2,
		Timestamp:        protocol.Timestamp(now),
	})
	validate(compile("handoff_request.schema.json"), &protocol.HandoffRequestMsg{
		Type: protocol.TypeHandoffRequest, AgentID: pp.AgentID, PortalID: "minecraft-rift-portal",
		Passport: &pp, Timestamp: protocol.Timestamp(now),
	})
	validate(compile("handoff_confirm.schema.json"), &protocol.HandoffConfirmMsg{
		Type: protocol.TypeHandoffConfirm, AgentID: pp.AgentID, PortalID: "minecraft-rift-portal",
		Passport: &pp, Timestamp: protocol.Timestamp(now),
	})
}

func TestSchemas_RejectZeroQuantity(t *testing.T) {
	s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", "passport.schema.json"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	var v any
	_ = json.Unmarshal([]byte(`{
	  "agent_id":"mc-1","agent_name":"a","source_world":"s","target_world":"t",
	  "position":{"x":0,"y":0,"z":0},
	  "inventory":[{"name":"Portal Shard","item":"shard","quantity":0}],
	  "inventory_hash":"h","health":1,"food":1,"timestamp":1,"nonce":"n",
	  "reputation":1,"memory_summary":""
	}`), &v)
	if err := s.Validate(v); err == nil {
		t.Fatalf("expected zero quantity to be rejected")
	}
}
