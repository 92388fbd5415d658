// Package biometric adapts a device-side biometric prompt to the auth port.
// The device runs the prompt and reports the outcome over the bridge. An
// outcome is only accepted while an Attempt is waiting for it.
package biometric

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domain "github.com/bryanwahyu/qr-biometric/internal/domain/auth"
)

// Outcome reported by the device for one biometric prompt.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeFailed       Outcome = "failed"
	OutcomeCancel       Outcome = "cancel"
	OutcomeNotAvailable Outcome = "not_available"
	OutcomeNotEnrolled  Outcome = "not_enrolled"
	OutcomeLockout      Outcome = "lockout"
)

var (
	// ErrUnknownOutcome is returned by ParseOutcome for unrecognised outcomes.
	ErrUnknownOutcome = errors.New("unknown biometric outcome")
	// ErrNoPendingAttempt is returned by Report when no prompt is waiting
	// or the waiting prompt already has its outcome.
	ErrNoPendingAttempt = errors.New("no biometric prompt pending")
)

// ParseOutcome validates a device supplied outcome string.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(s); o {
	case OutcomeSuccess, OutcomeFailed, OutcomeCancel, OutcomeNotAvailable, OutcomeNotEnrolled, OutcomeLockout:
		return o, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOutcome, s)
}

// Bridge implements the auth Biometric port.
type Bridge struct {
	timeout time.Duration

	mu        sync.RWMutex
	available bool
	kind      domain.BiometricKind

	// waiting is owned by the running Attempt; nil when none is pending.
	waiting chan Outcome
}

// NewBridge creates a bridge for a device with the given biometric kind.
// BiometricNone means no hardware; timeout bounds each Attempt.
func NewBridge(kind domain.BiometricKind, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Bridge{
		timeout:   timeout,
		available: kind != domain.BiometricNone,
		kind:      kind,
	}
}

// SetAvailable updates availability, e.g. after the user disables biometrics.
func (b *Bridge) SetAvailable(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.available = v && b.kind != domain.BiometricNone
}

func (b *Bridge) Available(context.Context) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.available
}

func (b *Bridge) Kind() domain.BiometricKind {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.available {
		return domain.BiometricNone
	}
	return b.kind
}

type outcomeKey struct{}

// WithOutcome attaches an outcome the caller already holds, so the next
// Attempt made with ctx resolves immediately instead of waiting for Report.
func WithOutcome(ctx context.Context, o Outcome) context.Context {
	return context.WithValue(ctx, outcomeKey{}, o)
}

// Pending reports whether an Attempt is waiting for an outcome.
func (b *Bridge) Pending() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.waiting != nil
}

// Report hands the device's outcome to the waiting Attempt. Outcomes that
// arrive with no prompt pending, after a timeout or as a second answer to
// the same prompt, are rejected with ErrNoPendingAttempt.
func (b *Bridge) Report(o Outcome) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.waiting == nil {
		return ErrNoPendingAttempt
	}
	b.waiting <- o
	b.waiting = nil
	return nil
}

// Attempt waits for a reported outcome, the attempt timeout or ctx.
func (b *Bridge) Attempt(ctx context.Context, _ string) (bool, error) {
	if !b.Available(ctx) {
		return false, domain.NewBiometricError(domain.BiometricNotAvailable)
	}
	if o, ok := ctx.Value(outcomeKey{}).(Outcome); ok {
		return outcomeResult(o)
	}

	ch := make(chan Outcome, 1)
	b.mu.Lock()
	b.waiting = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		if b.waiting == ch {
			b.waiting = nil
		}
		b.mu.Unlock()
	}()

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case o := <-ch:
		return outcomeResult(o)
	case <-timer.C:
		return false, domain.NewBiometricError(domain.BiometricUnknown)
	case <-ctx.Done():
		return false, domain.NewBiometricError(domain.BiometricUnknown)
	}
}

func outcomeResult(o Outcome) (bool, error) {
	switch o {
	case OutcomeSuccess:
		return true, nil
	case OutcomeFailed, OutcomeCancel:
		return false, domain.NewBiometricError(domain.BiometricAuthenticationFailed)
	case OutcomeNotAvailable:
		return false, domain.NewBiometricError(domain.BiometricNotAvailable)
	case OutcomeNotEnrolled:
		return false, domain.NewBiometricError(domain.BiometricNotEnrolled)
	case OutcomeLockout:
		return false, domain.NewBiometricError(domain.BiometricLockout)
	}
	return false, domain.NewBiometricError(domain.BiometricUnknown)
}
