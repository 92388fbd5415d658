package scans

import (
	"time"
	"unicode/utf8"
)

// ID tipe untuk ScanRecord
type RecordID string

// ContentType enum
type ContentType string

const (
	ContentURL     ContentType = "url"
	ContentWifi    ContentType = "wifi"
	ContentContact ContentType = "contact"
	ContentPhone   ContentType = "phone"
	ContentEmail   ContentType = "email"
	ContentSMS     ContentType = "sms"
	ContentText    ContentType = "text"
)

// MaxContentLength is counted in Unicode scalars, not bytes.
const MaxContentLength = 2048

// Valid reports whether t is one of the known content types.
func (t ContentType) Valid() bool {
	switch t {
	case ContentURL, ContentWifi, ContentContact, ContentPhone, ContentEmail, ContentSMS, ContentText:
		return true
	}
	return false
}

// Aggregate Root: ScanRecord. Immutable once created; an update is a delete
// followed by a new record.
type ScanRecord struct {
	ID          RecordID    `json:"id"`
	Content     string      `json:"content"`
	CapturedAt  time.Time   `json:"captured_at"`
	ContentType ContentType `json:"content_type"`
}

// NewRecord classifies and validates raw before building a record. It is the
// only constructor the lifecycle controller uses, so every stored record has
// passed validation for its type.
func NewRecord(id RecordID, raw string, capturedAt time.Time) (*ScanRecord, error) {
	t := Classify(raw)
	if err := Validate(raw, t); err != nil {
		return nil, err
	}
	return &ScanRecord{
		ID:          id,
		Content:     raw,
		CapturedAt:  capturedAt.UTC(),
		ContentType: t,
	}, nil
}

// Length returns the content length in Unicode scalars.
func (r *ScanRecord) Length() int {
	return utf8.RuneCountInString(r.Content)
}
