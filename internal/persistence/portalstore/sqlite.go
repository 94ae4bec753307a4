// Package portalstore keeps durable world-side handoff state in SQLite: each portal's
// last_handoff_time and an append-only journal of handoff events.
package portalstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"riftclaw.ai/internal/relayclient"
	"riftclaw.ai/internal/sim/catalogs"
)

type Store struct {
	db *sql.DB

	ch   chan relayclient.JournalEntry
	wg   sync.WaitGroup
	once sync.Once

	closed    atomic.Bool
	dropTotal atomic.Uint64
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropTotal     uint64 `json:"drop_total"`
}

func OpenSQLite(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db: db,
		ch: make(chan relayclient.JournalEntry, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS portals (
			portal_id TEXT PRIMARY KEY,
			last_handoff_ms INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS handoffs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			time_ms INTEGER NOT NULL,
			direction TEXT NOT NULL,
			event TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			nonce TEXT NOT NULL,
			portal_id TEXT,
			source_world TEXT,
			target_world TEXT,
			detail TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_handoffs_agent ON handoffs(agent_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_handoffs_key ON handoffs(agent_id, nonce);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// SaveLastHandoff is synchronous: a portal's cooldown must survive a crash right after
// it fires.
func (s *Store) SaveLastHandoff(portalID string, last time.Time) error {
	if s == nil || s.closed.Load() {
		return errors.New("portalstore closed")
	}
	_, err := s.db.Exec(
		`INSERT INTO portals(portal_id,last_handoff_ms,updated_at) VALUES(?,?,?)
		 ON CONFLICT(portal_id) DO UPDATE SET last_handoff_ms=excluded.last_handoff_ms, updated_at=excluded.updated_at`,
		portalID, last.UnixMilli(), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// LastHandoff returns the persisted last_handoff_time, or ok=false if the portal never fired.
func (s *Store) LastHandoff(portalID string) (last time.Time, ok bool, err error) {
	var ms int64
	err = s.db.QueryRow(`SELECT last_handoff_ms FROM portals WHERE portal_id=?`, portalID).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

// WriteHandoff queues one journal row. It never blocks the simulation; rows are dropped
// and counted when the writer falls behind.
func (s *Store) WriteHandoff(e relayclient.JournalEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- e:
	default:
		s.dropTotal.Add(1)
	}
	return nil
}

func (s *Store) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropTotal:     s.dropTotal.Load(),
	}
}

// Handoffs returns journal rows for agentID, newest first. An empty agentID lists all.
func (s *Store) Handoffs(ctx context.Context, agentID string, limit int) ([]relayclient.JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT raw_json FROM handoffs ORDER BY seq DESC LIMIT ?`
	args := []any{limit}
	if agentID != "" {
		q = `SELECT raw_json FROM handoffs WHERE agent_id=? ORDER BY seq DESC LIMIT ?`
		args = []any{agentID, limit}
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []relayclient.JournalEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e relayclient.JournalEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("handoffs row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertItemMap records the item mapping in force so journal rows can be interpreted later.
func (s *Store) UpsertItemMap(m *catalogs.ItemMap) error {
	if s == nil || m == nil {
		return nil
	}
	b, err := json.Marshal(m.ByName)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		"items", m.Digest, string(b), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// ItemMapDigest returns the digest of the last recorded item map.
func (s *Store) ItemMapDigest() (string, error) {
	var d string
	err := s.db.QueryRow(`SELECT digest FROM catalogs WHERE name='items'`).Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return d, err
}

// loop drains the journal queue in batches, one transaction per batch.
func (s *Store) loop() {
	ctx := context.Background()
	const batchMax = 256
	batch := make([]relayclient.JournalEntry, 0, batchMax)
	for e := range s.ch {
		batch = append(batch[:0], e)
	drain:
		for len(batch) < batchMax {
			select {
			case e, ok := <-s.ch:
				if !ok {
					break drain
				}
				batch = append(batch, e)
			default:
				break drain
			}
		}
		_ = s.flush(ctx, batch)
	}
}

func (s *Store) flush(ctx context.Context, batch []relayclient.JournalEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO handoffs(time_ms,direction,event,agent_id,nonce,portal_id,source_world,target_world,detail,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range batch {
		raw, _ := json.Marshal(e)
		if _, err := stmt.ExecContext(ctx,
			e.Time.UnixMilli(),
			string(e.Direction),
			string(e.Event),
			e.AgentID,
			e.Nonce,
			e.PortalID,
			e.SourceWorld,
			e.TargetWorld,
			e.Detail,
			string(raw),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}
