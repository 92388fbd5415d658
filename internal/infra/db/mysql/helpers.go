package mysql

import (
	"database/sql"
	"errors"

	domain "github.com/bryanwahyu/qr-biometric/internal/domain/scans"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.ScanRecord, error) {
	var r domain.ScanRecord
	if err := row.Scan(&r.ID, &r.Content, &r.ContentType, &r.CapturedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, err
	}
	r.CapturedAt = r.CapturedAt.UTC()
	return &r, nil
}
