package ws

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"riftclaw.ai/internal/protocol"
	"riftclaw.ai/internal/relay"
)

func startRelay(t *testing.T) string {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	h, err := relay.NewHub(relay.Config{NodeID: 2}, logger)
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = h.Run(ctx) }()

	srv := httptest.NewServer(NewServer(h, logger).Handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	m, err := protocol.Decode(b)
	if err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return m
}

func write(t *testing.T, conn *websocket.Conn, s string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(s)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestServer_WelcomeFirstThenDiscover(t *testing.T) {
	conn := dial(t, startRelay(t))
	if m := read(t, conn); m.MsgType() != protocol.TypeWelcome {
		t.Fatalf("first frame should be welcome, got %s", m.MsgType())
	}
	write(t, conn, `{"type":"discover","agent_id":"minecraft-client","timestamp":1}`)
	resp, ok := read(t, conn).(*protocol.DiscoverResponseMsg)
	if !ok || resp.RegisteredWorlds != 0 || len(resp.Portals) != 0 {
		t.Fatalf("discover_response: %#v", resp)
	}
}

func TestServer_BadFramesKeepConnection(t *testing.T) {
	conn := dial(t, startRelay(t))
	_ = read(t, conn)

	write(t, conn, `not json at all`)
	write(t, conn, `{"agent_id":"missing-type"}`)
	write(t, conn, `{"type":"warp"}`)
	e, ok := read(t, conn).(*protocol.ErrorMsg)
	if !ok || e.Code != protocol.ErrUnknownType {
		t.Fatalf("expected unknown type error, got %#v", e)
	}
	write(t, conn, `{"type":"ping"}`)
	if m := read(t, conn); m.MsgType() != protocol.TypePong {
		t.Fatalf("connection should still be usable, got %s", m.MsgType())
	}
}

func TestServer_RoutesHandoffBetweenWorlds(t *testing.T) {
	url := startRelay(t)
	mc := dial(t, url)
	lobby := dial(t, url)
	_ = read(t, mc)
	_ = read(t, lobby)

	write(t, mc, `{"type":"register_world","world_name":"minecraft-overworld"}`)
	_ = read(t, mc)
	write(t, lobby, `{"type":"register_world","world_name":"lobby","world_url":"https://lobby.example"}`)
	_ = read(t, lobby)

	write(t, mc, `{"type":"handoff_request","agent_id":"mc-1","portal_id":"minecraft-rift-portal","timestamp":1,`+
		`"passport":{"agent_id":"mc-1","agent_name":"a1","source_world":"minecraft-overworld","target_world":"lobby",`+
		`"position":{"x":0,"y":64,"z":0},"inventory":[],"inventory_hash":"00","health":20,"food":20,"timestamp":1,"nonce":"abcd1234"}}`)
	req, ok := read(t, lobby).(*protocol.HandoffRequestMsg)
	if !ok || req.Passport == nil || req.Passport.Nonce != "abcd1234" {
		t.Fatalf("forwarded request: %#v", req)
	}
	write(t, lobby, `{"type":"handoff_confirm","agent_id":"mc-1","portal_id":"minecraft-rift-portal","timestamp":2,`+
		`"passport":{"agent_id":"mc-1","target_world":"lobby","nonce":"abcd1234"}}`)
	conf, ok := read(t, mc).(*protocol.HandoffConfirmMsg)
	if !ok || conf.Passport == nil || conf.Passport.AgentID != "mc-1" || conf.TargetURL != "https://lobby.example" {
		t.Fatalf("routed confirm: %#v", conf)
	}
}
