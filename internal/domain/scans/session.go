package scans

import "errors"

// Phase of the scan lifecycle
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseStarting   Phase = "starting"
	PhaseScanning   Phase = "scanning"
	PhaseProcessing Phase = "processing"
	PhaseSuccess    Phase = "success"
	PhaseFailed     Phase = "failed"
)

// Active reports whether a capture attempt is underway.
func (p Phase) Active() bool {
	return p == PhaseStarting || p == PhaseScanning || p == PhaseProcessing
}

// Terminal reports whether p is an outcome awaiting reset or a new start.
func (p Phase) Terminal() bool {
	return p == PhaseSuccess || p == PhaseFailed
}

// Session is the ephemeral view of one capture attempt. It is never
// persisted.
type Session struct {
	Generation uint64      `json:"generation"`
	Phase      Phase       `json:"phase"`
	LastError  error       `json:"-"`
	Record     *ScanRecord `json:"record,omitempty"`
}

// ErrorKind renders LastError as a stable string for clients.
func (s Session) ErrorKind() string {
	if s.LastError == nil {
		return ""
	}
	if k := ValidationKindOf(s.LastError); k != "" {
		return string(k)
	}
	switch {
	case errors.Is(s.LastError, ErrCaptureNotAuthorized):
		return "not_authorized"
	case errors.Is(s.LastError, ErrCaptureSetupFailed):
		return "setup_failed"
	case errors.Is(s.LastError, ErrScanningFailed):
		return "scanning_failed"
	case errors.Is(s.LastError, ErrStorage):
		return "storage_error"
	}
	return "unknown"
}

// Event is emitted on every phase transition.
type Event struct {
	Session
	Duplicate bool `json:"duplicate,omitempty"`
}
