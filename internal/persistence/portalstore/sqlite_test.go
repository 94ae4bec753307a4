package portalstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"riftclaw.ai/internal/relayclient"
	"riftclaw.ai/internal/sim/catalogs"
)

func TestStore_LastHandoffSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.sqlite")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if _, ok, err := s.LastHandoff("minecraft-rift-portal"); err != nil || ok {
		t.Fatalf("fresh store: ok=%v err=%v", ok, err)
	}
	first := time.UnixMilli(1_700_000_000_123)
	if err := s.SaveLastHandoff("minecraft-rift-portal", first); err != nil {
		t.Fatalf("SaveLastHandoff: %v", err)
	}
	second := first.Add(6 * time.Second)
	if err := s.SaveLastHandoff("minecraft-rift-portal", second); err != nil {
		t.Fatalf("SaveLastHandoff: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, ok, err := s.LastHandoff("minecraft-rift-portal")
	if err != nil || !ok {
		t.Fatalf("LastHandoff: ok=%v err=%v", ok, err)
	}
	if !got.Equal(second) {
		t.Fatalf("last_handoff_time = %v, want %v", got, second)
	}
}

func TestStore_JournalRowsFlushedOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.sqlite")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	now := time.UnixMilli(1_700_000_000_000)
	for i, ev := range []relayclient.JournalEvent{relayclient.JournalSent, relayclient.JournalConfirmed} {
		_ = s.WriteHandoff(relayclient.JournalEntry{
			Time:        now.Add(time.Duration(i) * time.Second),
			Direction:   relayclient.DirOut,
			Event:       ev,
			AgentID:     "mc-1",
			Nonce:       "abcd1234",
			PortalID:    "minecraft-rift-portal",
			TargetWorld: "lobby",
		})
	}
	_ = s.WriteHandoff(relayclient.JournalEntry{Time: now, Direction: relayclient.DirIn, Event: relayclient.JournalApplied, AgentID: "lb-2", Nonce: "ffff0000"})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.WriteHandoff(relayclient.JournalEntry{AgentID: "late"}); err != nil {
		t.Fatalf("write after close should be a silent no-op: %v", err)
	}

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	rows, err := s.Handoffs(context.Background(), "mc-1", 10)
	if err != nil {
		t.Fatalf("Handoffs: %v", err)
	}
	if len(rows) != 2 || rows[0].Event != relayclient.JournalConfirmed || rows[1].Event != relayclient.JournalSent {
		t.Fatalf("rows: %+v", rows)
	}
	if rows[1].TargetWorld != "lobby" || !rows[1].Time.Equal(now) {
		t.Fatalf("row fields: %+v", rows[1])
	}
	all, err := s.Handoffs(context.Background(), "", 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("all rows: %d err=%v", len(all), err)
	}
}

func TestStore_QueueDropStats(t *testing.T) {
	s := &Store{ch: make(chan relayclient.JournalEntry, 1)}
	_ = s.WriteHandoff(relayclient.JournalEntry{AgentID: "a"})
	_ = s.WriteHandoff(relayclient.JournalEntry{AgentID: "b"})
	st := s.Stats()
	if st.DropTotal != 1 {
		t.Fatalf("DropTotal=%d want=1", st.DropTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestStore_ItemMapDigest(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "world.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()
	if d, err := s.ItemMapDigest(); err != nil || d != "" {
		t.Fatalf("empty digest: %q err=%v", d, err)
	}
	m := catalogs.DefaultItems()
	if err := s.UpsertItemMap(m); err != nil {
		t.Fatalf("UpsertItemMap: %v", err)
	}
	if d, err := s.ItemMapDigest(); err != nil || d != m.Digest {
		t.Fatalf("digest %q want %q err=%v", d, m.Digest, err)
	}
}
