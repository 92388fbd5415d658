// Package sqlite stores scan records in a local SQLite file, the on-device
// option when no database server is available.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	domain "github.com/bryanwahyu/qr-biometric/internal/domain/scans"
)

const schema = `
CREATE TABLE IF NOT EXISTS scan_records (
  id           TEXT    NOT NULL PRIMARY KEY,
  content      TEXT    NOT NULL,
  content_type TEXT    NOT NULL,
  captured_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scan_records_captured_at ON scan_records (captured_at);`

// Open opens (or creates) the database at path and ensures the schema.
// Use ":memory:" for an ephemeral store.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return db, nil
}

// RecordRepository keeps captured_at as Unix nanoseconds so ordering is a
// plain integer comparison.
type RecordRepository struct {
	db *sql.DB
}

func NewRecordRepository(db *sql.DB) *RecordRepository { return &RecordRepository{db: db} }

func (r *RecordRepository) Save(ctx context.Context, s *domain.ScanRecord) error {
	const q = `
INSERT INTO scan_records (id, content, content_type, captured_at)
VALUES (?,?,?,?)
ON CONFLICT (id) DO NOTHING;`
	if _, err := r.db.ExecContext(ctx, q, string(s.ID), s.Content, string(s.ContentType), s.CapturedAt.UnixNano()); err != nil {
		return domain.Storage("save", err)
	}
	return nil
}

func (r *RecordRepository) List(ctx context.Context) ([]*domain.ScanRecord, error) {
	const q = `
SELECT id, content, content_type, captured_at
FROM scan_records
ORDER BY captured_at DESC, id DESC;`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, domain.Storage("list", err)
	}
	defer rows.Close()

	var out []*domain.ScanRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, domain.Storage("list", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storage("list", err)
	}
	return out, nil
}

func (r *RecordRepository) Get(ctx context.Context, id domain.RecordID) (*domain.ScanRecord, error) {
	const q = `SELECT id, content, content_type, captured_at FROM scan_records WHERE id=? LIMIT 1;`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, domain.Storage("get", err)
	}
	return rec, nil
}

func (r *RecordRepository) Delete(ctx context.Context, id domain.RecordID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scan_records WHERE id=?;`, string(id))
	if err != nil {
		return domain.Storage("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Storage("delete", err)
	}
	if n == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.ScanRecord, error) {
	var (
		rec domain.ScanRecord
		id  string
		typ string
		ns  int64
	)
	if err := row.Scan(&id, &rec.Content, &typ, &ns); err != nil {
		return nil, err
	}
	rec.ID = domain.RecordID(id)
	rec.ContentType = domain.ContentType(typ)
	rec.CapturedAt = time.Unix(0, ns).UTC()
	return &rec, nil
}
