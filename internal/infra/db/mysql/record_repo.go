package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/bryanwahyu/qr-biometric/internal/domain/scans"
)

type RecordRepository struct {
	db *sql.DB
}

func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Save insert ScanRecord. Records are immutable, so saving an existing id
// again leaves the stored row untouched.
func (r *RecordRepository) Save(ctx context.Context, s *domain.ScanRecord) error {
	const q = `
INSERT INTO scan_records (id, content, content_type, captured_at)
VALUES (?,?,?,?)
ON DUPLICATE KEY UPDATE id=id;`
	if _, err := r.db.ExecContext(ctx, q, s.ID, s.Content, s.ContentType, s.CapturedAt.UTC()); err != nil {
		return domain.Storage("save", err)
	}
	return nil
}

// List semua record, terbaru dulu
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
			return nil, domain.Storage("list", fmt.Errorf("scanning row: %w", err))
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storage("list", err)
	}
	return out, nil
}

// Get by ID
func (r *RecordRepository) Get(ctx context.Context, id domain.RecordID) (*domain.ScanRecord, error) {
	const q = `
SELECT id, content, content_type, captured_at
FROM scan_records
WHERE id=? LIMIT 1;`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, domain.Storage("get", err)
	}
	return rec, nil
}

func (r *RecordRepository) Delete(ctx context.Context, id domain.RecordID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scan_records WHERE id=?;`, id)
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
