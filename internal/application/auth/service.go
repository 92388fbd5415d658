package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/bryanwahyu/qr-biometric/internal/application"
	"github.com/bryanwahyu/qr-biometric/internal/application/events"
	domain "github.com/bryanwahyu/qr-biometric/internal/domain/auth"
)

// Policy holds the tunables of the authentication lifecycle.
type Policy struct {
	// MaxPinFailures locks the controller once FailureStreak reaches it after
	// a PIN mismatch. Zero disables lockout.
	MaxPinFailures  int
	LockoutCooldown time.Duration
	MinPinLength    int
	MaxPinLength    int
	BiometricReason string
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxPinFailures:  5,
		LockoutCooldown: 30 * time.Second,
		MinPinLength:    4,
		MaxPinLength:    8,
		BiometricReason: "Authentication required",
	}
}

// Recorder receives auth outcomes for metrics.
type Recorder interface {
	AuthOutcome(outcome string)
}

type noopRecorder struct{}

func (noopRecorder) AuthOutcome(string) {}

// Option configures a Service.
type Option func(*Service)

func WithPolicy(p Policy) Option { return func(s *Service) { s.policy = p } }

func WithClock(c application.Clock) Option { return func(s *Service) { s.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func WithRecorder(r Recorder) Option { return func(s *Service) { s.metrics = r } }

// Service is the authentication lifecycle controller:
//
//	Locked -> CheckingBiometric -> Authenticated | AwaitingPin
//	AwaitingPin -> Authenticated | AwaitingPin | SettingUpPin | Locked
//	SettingUpPin -> Authenticated
//
// Collaborator calls run outside mu; epoch is bumped by SignOut so results
// that arrive after a sign-out are dropped.
type Service struct {
	biometric domain.Biometric
	creds     domain.CredentialStore
	hasher    domain.PinHasher
	policy    Policy
	clock     application.Clock
	log       *zap.Logger
	metrics   Recorder

	mu      sync.Mutex
	session domain.Session
	epoch   uint64
	hub     *events.Hub[domain.Event]
}

// NewService wires an auth controller starting in Locked.
func NewService(bio domain.Biometric, creds domain.CredentialStore, hasher domain.PinHasher, opts ...Option) *Service {
	s := &Service{
		biometric: bio,
		creds:     creds,
		hasher:    hasher,
		policy:    DefaultPolicy(),
		clock:     application.SystemClock{},
		log:       zap.NewNop(),
		metrics:   noopRecorder{},
		session:   domain.Session{Phase: domain.PhaseLocked, BiometricKind: domain.BiometricNone},
		hub:       events.NewHub[domain.Event](0),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Authenticated is the capability check read by the scan controller.
func (s *Service) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Authenticated()
}

// Session returns a snapshot of the auth session.
func (s *Service) Session() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Subscribe streams every auth transition from now on.
func (s *Service) Subscribe() (<-chan domain.Event, func()) {
	return s.hub.Subscribe()
}

// Close releases subscribers.
func (s *Service) Close() { s.hub.Close() }

// Authenticate tries biometrics when available. Any biometric failure lands
// in AwaitingPin; it is reported through Session.LastError, not as an error.
func (s *Service) Authenticate(ctx context.Context) (domain.Session, error) {
	s.mu.Lock()
	switch s.session.Phase {
	case domain.PhaseAuthenticated:
		snap := s.session
		s.mu.Unlock()
		return snap, nil
	case domain.PhaseCheckingBiometric:
		snap := s.session
		s.mu.Unlock()
		return snap, domain.ErrAuthInProgress
	case domain.PhaseSettingUpPin:
		snap := s.session
		s.mu.Unlock()
		return snap, domain.TransitionError("authenticate", snap.Phase)
	}
	if s.lockedOutLocked() {
		snap := s.session
		s.mu.Unlock()
		return snap, domain.ErrTooManyAttempts
	}
	epoch := s.epoch
	next := s.session
	next.Phase = domain.PhaseCheckingBiometric
	next.LastError = nil
	s.setLocked(next)
	s.mu.Unlock()

	if s.biometric == nil || !s.biometric.Available(ctx) {
		return s.commit("authenticate", epoch, domain.PhaseCheckingBiometric, func(ss *domain.Session) {
			ss.Phase = domain.PhaseAwaitingPin
			ss.BiometricKind = domain.BiometricNone
		})
	}

	kind := s.biometric.Kind()
	ok, err := s.biometric.Attempt(ctx, s.policy.BiometricReason)
	if err == nil && !ok {
		err = domain.NewBiometricError(domain.BiometricAuthenticationFailed)
	}
	if err != nil {
		var be *domain.BiometricError
		if !errors.As(err, &be) {
			err = fmt.Errorf("%w: %v", domain.NewBiometricError(domain.BiometricUnknown), err)
		}
		s.log.Info("biometric attempt failed, falling back to pin", zap.Error(err))
		s.metrics.AuthOutcome("biometric_failed")
		return s.commit("authenticate", epoch, domain.PhaseCheckingBiometric, func(ss *domain.Session) {
			ss.Phase = domain.PhaseAwaitingPin
			ss.BiometricKind = kind
			ss.FailureStreak++
			ss.LastError = err
		})
	}

	s.metrics.AuthOutcome("biometric_success")
	return s.commit("authenticate", epoch, domain.PhaseCheckingBiometric, func(ss *domain.Session) {
		ss.Phase = domain.PhaseAuthenticated
		ss.BiometricKind = kind
		s.resetFailuresLocked(ss)
	})
}

// SubmitPin verifies pin against the stored credential. With nothing
// enrolled the controller moves to SettingUpPin and keeps pin as the
// proposed credential.
func (s *Service) SubmitPin(ctx context.Context, pin string) (domain.Session, error) {
	s.mu.Lock()
	if s.lockedOutLocked() {
		snap := s.session
		s.mu.Unlock()
		return snap, domain.ErrTooManyAttempts
	}
	if s.session.Phase != domain.PhaseAwaitingPin {
		snap := s.session
		s.mu.Unlock()
		return snap, domain.TransitionError("submit pin", snap.Phase)
	}
	epoch := s.epoch
	s.session.PendingPin = pin
	s.mu.Unlock()

	stored, err := s.creds.Get(ctx)
	if errors.Is(err, domain.ErrCredentialNotFound) {
		s.log.Info("no pin enrolled, switching to setup")
		return s.commit("submit pin", epoch, domain.PhaseAwaitingPin, func(ss *domain.Session) {
			ss.Phase = domain.PhaseSettingUpPin
			ss.LastError = nil
		})
	}
	var match bool
	if err == nil {
		match, err = s.hasher.Verify(pin, stored)
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrCredentialStoreFailure, err)
		s.log.Error("pin verification failed", zap.Error(err))
		snap, _ := s.commit("submit pin", epoch, domain.PhaseAwaitingPin, func(ss *domain.Session) {
			ss.PendingPin = ""
			ss.LastError = err
		})
		return snap, err
	}

	if match {
		snap, err := s.commit("submit pin", epoch, domain.PhaseAwaitingPin, func(ss *domain.Session) {
			ss.Phase = domain.PhaseAuthenticated
			s.resetFailuresLocked(ss)
		})
		if err == nil {
			s.metrics.AuthOutcome("pin_success")
		}
		return snap, err
	}

	var result error = domain.ErrIncorrectPin
	snap, err := s.commit("submit pin", epoch, domain.PhaseAwaitingPin, func(ss *domain.Session) {
		ss.PendingPin = ""
		ss.FailureStreak++
		ss.LastError = domain.ErrIncorrectPin
		if s.policy.MaxPinFailures > 0 && ss.FailureStreak >= s.policy.MaxPinFailures {
			ss.Phase = domain.PhaseLocked
			ss.LockedUntil = s.clock.Now().Add(s.policy.LockoutCooldown)
			ss.LastError = domain.ErrTooManyAttempts
			result = domain.ErrTooManyAttempts
		}
	})
	if err != nil {
		return snap, err
	}
	if errors.Is(result, domain.ErrTooManyAttempts) {
		s.metrics.AuthOutcome("locked_out")
		s.log.Warn("pin lockout engaged", zap.Int("failure_streak", snap.FailureStreak), zap.Time("locked_until", snap.LockedUntil))
	} else {
		s.metrics.AuthOutcome("pin_incorrect")
	}
	return snap, result
}

// SetupPin enrols pin (or the pending PIN when pin is empty) and
// authenticates.
func (s *Service) SetupPin(ctx context.Context, pin string) (domain.Session, error) {
	s.mu.Lock()
	if s.session.Phase != domain.PhaseSettingUpPin {
		snap := s.session
		s.mu.Unlock()
		return snap, domain.TransitionError("setup pin", snap.Phase)
	}
	if pin == "" {
		pin = s.session.PendingPin
	}
	if err := s.checkPinFormat(pin); err != nil {
		s.session.LastError = err
		snap := s.session
		s.hub.Publish(domain.EventOf(snap))
		s.mu.Unlock()
		return snap, err
	}
	epoch := s.epoch
	s.mu.Unlock()

	credential, err := s.hasher.Hash(pin)
	if err == nil {
		err = s.creds.Set(ctx, credential)
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrCredentialStoreFailure, err)
		s.log.Error("pin enrolment failed", zap.Error(err))
		snap, _ := s.commit("setup pin", epoch, domain.PhaseSettingUpPin, func(ss *domain.Session) {
			ss.LastError = err
		})
		return snap, err
	}

	s.log.Info("pin enrolled")
	snap, err := s.commit("setup pin", epoch, domain.PhaseSettingUpPin, func(ss *domain.Session) {
		ss.Phase = domain.PhaseAuthenticated
		s.resetFailuresLocked(ss)
	})
	if err == nil {
		s.metrics.AuthOutcome("pin_setup")
	}
	return snap, err
}

// ClearPin removes the enrolled credential. The next PIN verification goes
// through setup again.
func (s *Service) ClearPin(ctx context.Context) error {
	if !s.Authenticated() {
		return domain.ErrNotAuthenticated
	}
	if err := s.creds.Delete(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCredentialStoreFailure, err)
	}
	s.log.Info("pin cleared")
	return nil
}

// SignOut forces Locked from any phase and clears the pending PIN and the
// failure streak. An active lockout deadline is kept.
func (s *Service) SignOut() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.setLocked(domain.Session{
		Phase:         domain.PhaseLocked,
		BiometricKind: s.session.BiometricKind,
		LockedUntil:   s.session.LockedUntil,
	})
	return s.session
}

// commit applies mutate if the session is still in phase from and no
// sign-out happened since epoch was read. A stale result leaves the session
// alone and reports a transition error for op.
func (s *Service) commit(op string, epoch uint64, from domain.Phase, mutate func(*domain.Session)) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.session.Phase != from {
		s.log.Debug("stale auth result ignored", zap.String("op", op), zap.String("phase", string(s.session.Phase)))
		return s.session, domain.TransitionError(op, s.session.Phase)
	}
	next := s.session
	mutate(&next)
	s.setLocked(next)
	return next, nil
}

func (s *Service) setLocked(next domain.Session) {
	prev := s.session.Phase
	s.session = next
	if prev != next.Phase {
		s.log.Debug("auth transition", zap.String("from", string(prev)), zap.String("to", string(next.Phase)))
	}
	s.hub.Publish(domain.EventOf(next))
}

func (s *Service) resetFailuresLocked(ss *domain.Session) {
	ss.FailureStreak = 0
	ss.PendingPin = ""
	ss.LockedUntil = time.Time{}
	ss.LastError = nil
}

func (s *Service) lockedOutLocked() bool {
	return !s.session.LockedUntil.IsZero() && s.clock.Now().Before(s.session.LockedUntil)
}

func (s *Service) checkPinFormat(pin string) error {
	n := len(pin)
	if n < s.policy.MinPinLength || (s.policy.MaxPinLength > 0 && n > s.policy.MaxPinLength) {
		return fmt.Errorf("%w: length must be %d-%d", domain.ErrInvalidPin, s.policy.MinPinLength, s.policy.MaxPinLength)
	}
	for _, r := range pin {
		if !unicode.IsDigit(r) || r > unicode.MaxASCII {
			return fmt.Errorf("%w: digits only", domain.ErrInvalidPin)
		}
	}
	return nil
}
