package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"statusfeed/internal/domain"
	"statusfeed/internal/store"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	tenant_id TEXT NOT NULL,
	collection TEXT NOT NULL,
	rkey TEXT NOT NULL,
	author_id TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at_utc TEXT NOT NULL,
	indexed_at_utc_ns INTEGER NOT NULL,
	provenance TEXT NOT NULL CHECK (provenance IN ('optimistic','confirmed')),
	PRIMARY KEY (tenant_id, collection, rkey)
);

CREATE INDEX IF NOT EXISTS idx_records_indexed_at ON records(indexed_at_utc_ns DESC);

CREATE TABLE IF NOT EXISTS stream_cursor (
	source TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	updated_at_utc_ns INTEGER NOT NULL
);
`

// Store is the durable materialized view backed by a single sqlite database.
// Writes are serialized so the merge policy always runs against the current
// committed row.
type Store struct {
	db *sql.DB

	// serializes read-merge-write cycles across goroutines
	writeMu sync.Mutex
}

func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir store dir: %w", err)
		}
	}
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Upsert(ctx context.Context, rec domain.Record) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	existing, ok, err := getTx(ctx, tx, rec.Key)
	if err != nil {
		return err
	}
	var prior *domain.Record
	if ok {
		prior = &existing
	}
	merged := store.Merge(prior, rec)

	_, err = tx.ExecContext(ctx, `
INSERT INTO records(tenant_id, collection, rkey, author_id, status, created_at_utc, indexed_at_utc_ns, provenance)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(tenant_id, collection, rkey)
DO UPDATE SET author_id=excluded.author_id, status=excluded.status,
	created_at_utc=excluded.created_at_utc, indexed_at_utc_ns=excluded.indexed_at_utc_ns,
	provenance=excluded.provenance`,
		merged.Key.TenantID, merged.Key.Collection, merged.Key.RKey,
		merged.AuthorID, merged.Status,
		merged.CreatedAt.UTC().Format(time.RFC3339Nano),
		merged.IndexedAt.UTC().UnixNano(),
		string(merged.Provenance))
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, key domain.RecordKey) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
DELETE FROM records WHERE tenant_id=? AND collection=? AND rkey=?`,
		key.TenantID, key.Collection, key.RKey)
	return err
}

func (s *Store) Get(ctx context.Context, key domain.RecordKey) (domain.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT tenant_id, collection, rkey, author_id, status, created_at_utc, indexed_at_utc_ns, provenance
FROM records WHERE tenant_id=? AND collection=? AND rkey=?`,
		key.TenantID, key.Collection, key.RKey)
	return scanRecord(row)
}

func (s *Store) List(ctx context.Context, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT tenant_id, collection, rkey, author_id, status, created_at_utc, indexed_at_utc_ns, provenance
FROM records ORDER BY indexed_at_utc_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		rec, _, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Cursor(ctx context.Context, source string) (int64, bool, error) {
	var pos int64
	err := s.db.QueryRowContext(ctx, `SELECT position FROM stream_cursor WHERE source=?`, source).Scan(&pos)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return pos, true, nil
}

func (s *Store) SetCursor(ctx context.Context, source string, position int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO stream_cursor(source, position, updated_at_utc_ns) VALUES(?, ?, ?)
ON CONFLICT(source) DO UPDATE SET position=excluded.position, updated_at_utc_ns=excluded.updated_at_utc_ns`,
		source, position, time.Now().UTC().UnixNano())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.Record, bool, error) {
	var rec domain.Record
	var createdAt string
	var indexedNs int64
	var prov string
	err := row.Scan(&rec.Key.TenantID, &rec.Key.Collection, &rec.Key.RKey,
		&rec.AuthorID, &rec.Status, &createdAt, &indexedNs, &prov)
	if err == sql.ErrNoRows {
		return domain.Record{}, false, nil
	}
	if err != nil {
		return domain.Record{}, false, err
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return domain.Record{}, false, fmt.Errorf("parse created_at_utc: %w", err)
	}
	rec.CreatedAt = ts
	rec.IndexedAt = time.Unix(0, indexedNs).UTC()
	rec.Provenance = domain.Provenance(prov)
	return rec, true, nil
}

func getTx(ctx context.Context, tx *sql.Tx, key domain.RecordKey) (domain.Record, bool, error) {
	row := tx.QueryRowContext(ctx, `
SELECT tenant_id, collection, rkey, author_id, status, created_at_utc, indexed_at_utc_ns, provenance
FROM records WHERE tenant_id=? AND collection=? AND rkey=?`,
		key.TenantID, key.Collection, key.RKey)
	return scanRecord(row)
}

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}
