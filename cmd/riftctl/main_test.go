package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"riftclaw.ai/internal/persistence/portalstore"
	"riftclaw.ai/internal/relay"
	"riftclaw.ai/internal/relayclient"
	"riftclaw.ai/internal/sim/world"
	"riftclaw.ai/internal/transport/control"
	"riftclaw.ai/internal/transport/ws"
)

func startRelay(t *testing.T) string {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	h, err := relay.NewHub(relay.Config{NodeID: 4}, logger)
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = h.Run(ctx) }()
	srv := httptest.NewServer(ws.NewServer(h, logger).Handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDiscover_PrintsRelayListing(t *testing.T) {
	url := startRelay(t)
	var out bytes.Buffer
	if err := cmdDiscover([]string{"-relay", url, "-timeout", "3s"}, &out); err != nil {
		t.Fatalf("discover: %v", err)
	}
	var got struct {
		Relay   string            `json:"relay"`
		Portals []json.RawMessage `json:"portals"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if got.Relay != "RiftClaw Relay" || len(got.Portals) != 0 {
		t.Fatalf("unexpected listing %+v", got)
	}
}

func TestHandoff_UnknownDestinationFails(t *testing.T) {
	url := startRelay(t)
	var out bytes.Buffer
	err := cmdHandoff([]string{"-relay", url, "-to", "nowhere", "-timeout", "3s"}, &out)
	if err == nil || !strings.Contains(err.Error(), "handoff failed") {
		t.Fatalf("want handoff failure, got %v (%s)", err, out.String())
	}
	if !strings.Contains(out.String(), "FAILED") {
		t.Fatalf("failure notice should be printed: %s", out.String())
	}
}

func TestHandoff_NeedsDestination(t *testing.T) {
	if err := cmdHandoff([]string{"-relay", "ws://127.0.0.1:1"}, io.Discard); err == nil {
		t.Fatalf("expected an error without -portal or -to")
	}
}

func TestHistory_ReadsSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.sqlite")
	store, err := portalstore.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	_ = store.WriteHandoff(relayclient.JournalEntry{
		Time:      time.Unix(1700000000, 0),
		Direction: relayclient.DirOut,
		Event:     relayclient.JournalSent,
		AgentID:   "mc-1",
		Nonce:     "abcd1234",
	})
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var out bytes.Buffer
	if err := cmdHistory([]string{"-db", path, "-agent", "mc-1"}, &out); err != nil {
		t.Fatalf("history: %v", err)
	}
	var e relayclient.JournalEntry
	if err := json.Unmarshal(out.Bytes(), &e); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if e.Event != relayclient.JournalSent || e.Nonce != "abcd1234" {
		t.Fatalf("entry %+v", e)
	}
}

func TestEnter_SignsControlRequests(t *testing.T) {
	w, err := world.New(world.WorldConfig{Name: "lobby", Tag: "lb"}, world.Options{})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = w.Run(ctx) }()
	srv := httptest.NewServer(control.NewServer(w, []byte("s3cret"), nil).Handler())
	t.Cleanup(srv.Close)

	err = cmdEnter([]string{"-world", srv.URL, "-agent", "lb-x", "-portal", "p1", "-secret", "wrong"}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("wrong secret: expected 401, got %v", err)
	}

	// A correctly signed request gets past auth and reaches the world.
	var out bytes.Buffer
	err = cmdEnter([]string{"-world", srv.URL, "-agent", "lb-x", "-portal", "p1", "-secret", "s3cret"}, &out)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("unknown agent: expected 404, got %v", err)
	}
	if !strings.Contains(out.String(), "agent not found") {
		t.Fatalf("body %q", out.String())
	}
}

func TestEnter_NeedsAgentAndPortal(t *testing.T) {
	if err := cmdEnter([]string{"-agent", "lb-x"}, io.Discard); err == nil {
		t.Fatalf("expected an error without -portal")
	}
}
