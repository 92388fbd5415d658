package scans

import "context"

// Repository port (Record Store Gateway). Every call is individually atomic;
// failures are reported wrapped as StorageError.
type Repository interface {
	Save(ctx context.Context, r *ScanRecord) error
	// List returns all records ordered by CapturedAt descending.
	List(ctx context.Context) ([]*ScanRecord, error)
	Delete(ctx context.Context, id RecordID) error
	// Get returns ErrRecordNotFound when id is unknown.
	Get(ctx context.Context, id RecordID) (*ScanRecord, error)
}

// CaptureSource port (interface untuk kamera / decoder). Open starts a new
// capture sequence; each received string is one decoded symbol. The channel
// is closed when ctx is cancelled or the device stops. Open may be called
// again after the previous sequence ended.
type CaptureSource interface {
	Open(ctx context.Context) (<-chan string, error)
}
