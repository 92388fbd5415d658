package auth

import "time"

// Phase of the authentication lifecycle
type Phase string

const (
	PhaseLocked            Phase = "locked"
	PhaseCheckingBiometric Phase = "checking_biometric"
	PhaseAwaitingPin       Phase = "awaiting_pin"
	PhaseSettingUpPin      Phase = "setting_up_pin"
	PhaseAuthenticated     Phase = "authenticated"
)

// BiometricKind reported by the device
type BiometricKind string

const (
	BiometricNone        BiometricKind = "none"
	BiometricFingerprint BiometricKind = "fingerprint"
	BiometricFace        BiometricKind = "face"
)

// ParseBiometricKind maps config/bridge strings to a kind; unknown values
// map to BiometricNone.
func ParseBiometricKind(s string) BiometricKind {
	switch BiometricKind(s) {
	case BiometricFingerprint, BiometricFace:
		return BiometricKind(s)
	}
	return BiometricNone
}

// Session is the ephemeral state owned by the authentication controller.
type Session struct {
	Phase         Phase         `json:"phase"`
	BiometricKind BiometricKind `json:"biometric_kind"`
	PendingPin    string        `json:"-"`
	FailureStreak int           `json:"failure_streak"`
	LockedUntil   time.Time     `json:"locked_until,omitempty"`
	LastError     error         `json:"-"`
}

// Authenticated is the capability check used to gate scanning.
func (s Session) Authenticated() bool { return s.Phase == PhaseAuthenticated }

// Event is emitted on every auth phase transition. PendingPin is never
// included.
type Event struct {
	Phase         Phase         `json:"phase"`
	BiometricKind BiometricKind `json:"biometric_kind"`
	FailureStreak int           `json:"failure_streak"`
	Error         string        `json:"error,omitempty"`
}

// EventOf builds the outbound event for s.
func EventOf(s Session) Event {
	return Event{
		Phase:         s.Phase,
		BiometricKind: s.BiometricKind,
		FailureStreak: s.FailureStreak,
		Error:         ErrorKind(s.LastError),
	}
}
