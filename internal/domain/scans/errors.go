package scans

import (
	"errors"
	"fmt"
)

// ValidationKind enumerates the specific grammar violations.
type ValidationKind string

const (
	InvalidFormat     ValidationKind = "invalid_format"
	InvalidCharacters ValidationKind = "invalid_characters"
	InvalidURL        ValidationKind = "invalid_url"
	InvalidWifiConfig ValidationKind = "invalid_wifi_config"
	InvalidContact    ValidationKind = "invalid_contact"
	InvalidPhone      ValidationKind = "invalid_phone"
	InvalidEmail      ValidationKind = "invalid_email"
	InvalidSMS        ValidationKind = "invalid_sms"
)

// ValidationError is returned by Validate. Compare with errors.As, or with
// errors.Is against another ValidationError of the same kind.
type ValidationError struct {
	Kind   ValidationKind
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "validation failed: " + string(e.Kind)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Kind, e.Detail)
}

func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Kind == e.Kind
}

func invalid(kind ValidationKind, detail string) error {
	return &ValidationError{Kind: kind, Detail: detail}
}

// ValidationKindOf extracts the kind from err, or "" if err is not a
// validation failure.
func ValidationKindOf(err error) ValidationKind {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return ""
}

// ErrStorage marks every Record Store Gateway failure.
var ErrStorage = errors.New("storage error")

// ErrRecordNotFound is returned by gateways when an id has no record.
var ErrRecordNotFound = errors.New("scan record not found")

// StorageError wraps a gateway failure with the operation that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// Storage wraps err as a StorageError unless it is nil or already one.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Capture errors
var (
	ErrCaptureSetupFailed   = errors.New("capture setup failed")
	ErrCaptureNotAuthorized = errors.New("capture not authorized")
	ErrScanningFailed       = errors.New("scanning failed")
)
