package log

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"riftclaw.ai/internal/relay"
	"riftclaw.ai/internal/relayclient"
)

func TestHandoffLogger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewHandoffLogger(dir)
	now := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	l.w.now = func() time.Time { return now }

	for _, ev := range []relayclient.JournalEvent{relayclient.JournalSent, relayclient.JournalConfirmed} {
		if err := l.WriteHandoff(relayclient.JournalEntry{Time: now, Direction: relayclient.DirOut, Event: ev, AgentID: "mc-1", Nonce: "abcd1234"}); err != nil {
			t.Fatalf("WriteHandoff: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := Files(filepath.Join(dir, "handoffs"), "handoffs")
	if err != nil || len(files) != 1 {
		t.Fatalf("files: %v err=%v", files, err)
	}
	var got []relayclient.JournalEntry
	if err := ReadJSONL(files[0], func(line []byte) error {
		var e relayclient.JournalEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if len(got) != 2 || got[0].Event != relayclient.JournalSent || got[1].Event != relayclient.JournalConfirmed {
		t.Fatalf("entries: %+v", got)
	}
}

func TestRouteLogger_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	l := NewRouteLogger(dir)
	now := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return now }
	if err := l.WriteRoute(relay.RouteEntry{Time: now, Event: relay.RouteForwarded, AgentID: "mc-1", Nonce: "n1", From: "a", To: "b"}); err != nil {
		t.Fatalf("WriteRoute: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := l.WriteRoute(relay.RouteEntry{Time: now, Event: relay.RouteConfirmed, AgentID: "mc-1", Nonce: "n1", From: "b", To: "a"}); err != nil {
		t.Fatalf("WriteRoute: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	files, err := Files(filepath.Join(dir, "routes"), "routes")
	if err != nil || len(files) != 2 {
		t.Fatalf("expected two hourly files, got %v err=%v", files, err)
	}
	n := 0
	for _, f := range files {
		if err := ReadJSONL(f, func([]byte) error { n++; return nil }); err != nil {
			t.Fatalf("ReadJSONL %s: %v", f, err)
		}
	}
	if n != 2 {
		t.Fatalf("lines = %d, want 2", n)
	}
}
