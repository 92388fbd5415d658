package scans

import (
	"crypto/sha256"
	"sync"
	"time"

	domain "github.com/bryanwahyu/qr-biometric/internal/domain/scans"
)

// Deduper remembers recently saved content so a byte-identical capture
// inside Window is not persisted twice. A zero Window disables it and every
// capture becomes a new record.
type Deduper struct {
	Window time.Duration

	mu     sync.Mutex
	recent map[[32]byte]*domain.ScanRecord
}

// NewDeduper creates a deduper for window.
func NewDeduper(window time.Duration) *Deduper {
	return &Deduper{Window: window, recent: make(map[[32]byte]*domain.ScanRecord)}
}

func (d *Deduper) enabled() bool { return d != nil && d.Window > 0 }

// Lookup returns the record previously saved for content if it was captured
// within the window ending at now.
func (d *Deduper) Lookup(content string, now time.Time) (*domain.ScanRecord, bool) {
	if !d.enabled() {
		return nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.evict(now)
	rec, ok := d.recent[sha256.Sum256([]byte(content))]
	return rec, ok
}

// Remember records rec as recently saved.
func (d *Deduper) Remember(rec *domain.ScanRecord) {
	if !d.enabled() || rec == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recent[sha256.Sum256([]byte(rec.Content))] = rec
}

// Forget drops any entry pointing at id, used after an explicit delete.
func (d *Deduper) Forget(id domain.RecordID) {
	if !d.enabled() {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, rec := range d.recent {
		if rec.ID == id {
			delete(d.recent, k)
		}
	}
}

func (d *Deduper) evict(now time.Time) {
	for k, rec := range d.recent {
		if now.Sub(rec.CapturedAt) > d.Window {
			delete(d.recent, k)
		}
	}
}
