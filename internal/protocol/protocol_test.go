package protocol

import (
	"errors"
	"testing"
)

func TestDecode_Variants(t *testing.T) {
	m, err := Decode([]byte(`{"type":"welcome","world_name":"RiftClaw Relay","version":"0.2.0","timestamp":1}`))
	if err != nil {
		t.Fatalf("decode welcome: %v", err)
	}
	w, ok := m.(*WelcomeMsg)
	if !ok || w.WorldName != "RiftClaw Relay" {
		t.Fatalf("unexpected welcome: %#v", m)
	}

	m, err = Decode([]byte(`{"type":"handoff_request","agent_id":"mc-1","portal_id":"p","timestamp":1}`))
	if err != nil {
		t.Fatalf("decode handoff_request: %v", err)
	}
	if req := m.(*HandoffRequestMsg); req.Passport != nil {
		t.Fatalf("expected absent passport to decode as nil")
	}

	m, err = Decode([]byte(`{"type":"discover_response","portals":[{"portal_id":"portal_lobby_01","name":"Lobby","destination_world":"lobby"}],"registered_worlds":1}`))
	if err != nil {
		t.Fatalf("decode discover_response: %v", err)
	}
	if dr := m.(*DiscoverResponseMsg); len(dr.Portals) != 1 || dr.Portals[0].DestinationWorld != "lobby" {
		t.Fatalf("unexpected portals: %#v", dr.Portals)
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`[1,2,3]`,
		`null`,
		`{"agent_id":"x"}`,
		`{"type":""}`,
		`{"type":"handoff_request","passport":"oops"}`,
	} {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", raw, err)
		}
	}
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"teleport_now"}`))
	var ute *UnknownTypeError
	if !errors.As(err, &ute) || ute.Type != "teleport_now" {
		t.Fatalf("expected UnknownTypeError, got %v", err)
	}
}
