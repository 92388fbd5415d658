package scans

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/qr-biometric/internal/application"
	"github.com/bryanwahyu/qr-biometric/internal/application/events"
	authdomain "github.com/bryanwahyu/qr-biometric/internal/domain/auth"
	domain "github.com/bryanwahyu/qr-biometric/internal/domain/scans"
)

// AuthGate is the read-only capability check against the auth controller.
type AuthGate interface {
	Authenticated() bool
}

// Recorder receives scan outcomes for metrics.
type Recorder interface {
	ScanOutcome(outcome string)
}

// Outcome labels passed to Recorder
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded"
	OutcomeDuplicate = "duplicate"
)

type noopRecorder struct{}

func (noopRecorder) ScanOutcome(string) {}

// Option configures a Service.
type Option func(*Service)

func WithClock(c application.Clock) Option { return func(s *Service) { s.clock = c } }

func WithDeduper(d *Deduper) Option { return func(s *Service) { s.dedup = d } }

func WithRecorder(r Recorder) Option { return func(s *Service) { s.metrics = r } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithIDGenerator replaces the uuid based record id source.
func WithIDGenerator(f func() domain.RecordID) Option { return func(s *Service) { s.newID = f } }

// Service is the scan lifecycle controller:
//
//	Idle -> Starting -> Scanning -> Processing -> Success | Failed
//
// Transitions happen under mu. Only one raw scan is processed at a time per
// controller: inflight holds the generation of the session currently in
// Processing (0 when none) and is taken with compare-and-swap, so frames that
// arrive meanwhile are dropped instead of queued. Every start/stop bumps the
// session generation; completions carrying an older generation are ignored.
type Service struct {
	repo    domain.Repository
	capture domain.CaptureSource
	gate    AuthGate
	clock   application.Clock
	dedup   *Deduper
	metrics Recorder
	log     *zap.Logger
	newID   func() domain.RecordID

	mu      sync.Mutex
	session domain.Session
	cancel  context.CancelFunc

	inflight atomic.Uint64
	wg       sync.WaitGroup
	hub      *events.Hub[domain.Event]
}

// NewService wires a scan controller.
func NewService(repo domain.Repository, capture domain.CaptureSource, gate AuthGate, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		capture: capture,
		gate:    gate,
		clock:   application.SystemClock{},
		metrics: noopRecorder{},
		log:     zap.NewNop(),
		newID:   func() domain.RecordID { return domain.RecordID(uuid.NewString()) },
		session: domain.Session{Phase: domain.PhaseIdle},
		hub:     events.NewHub[domain.Event](0),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Session returns a snapshot of the current scan session.
func (s *Service) Session() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Subscribe streams every phase transition from now on.
func (s *Service) Subscribe() (<-chan domain.Event, func()) {
	return s.hub.Subscribe()
}

// StartScanning opens the capture source. It fails fast with
// ErrNotAuthenticated while the auth controller is not authenticated and is a
// no-op while a capture attempt is already active.
func (s *Service) StartScanning(ctx context.Context) error {
	if !s.authorized() {
		return authdomain.ErrNotAuthenticated
	}

	s.mu.Lock()
	if s.session.Phase.Active() {
		s.mu.Unlock()
		return nil
	}
	if s.session.Phase.Terminal() {
		s.setLocked(domain.Session{Generation: s.session.Generation, Phase: domain.PhaseIdle}, false)
	}
	gen := s.session.Generation + 1
	captureCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.inflight.Store(0)
	s.setLocked(domain.Session{Generation: gen, Phase: domain.PhaseStarting}, false)
	s.mu.Unlock()

	frames, err := s.capture.Open(captureCtx)
	if err != nil {
		cancel()
		err = captureFailure(err)
		s.log.Warn("capture setup failed", zap.Uint64("generation", gen), zap.Error(err))
		s.transition(gen, domain.PhaseStarting, domain.Session{Generation: gen, Phase: domain.PhaseFailed, LastError: err}, false)
		s.metrics.ScanOutcome(OutcomeFailed)
		return err
	}

	if !s.transition(gen, domain.PhaseStarting, domain.Session{Generation: gen, Phase: domain.PhaseScanning}, false) {
		// stopped while the device was opening
		cancel()
		return nil
	}

	s.wg.Add(1)
	go s.consume(captureCtx, gen, frames)
	return nil
}

// StopScanning returns to Idle from any phase. Stopping an idle controller
// is a no-op. An in-flight save is not aborted; its result is discarded.
func (s *Service) StopScanning() {
	s.toIdle("stop")
}

// Reset clears a Success/Failed outcome (or stops an active attempt) and
// returns to Idle.
func (s *Service) Reset() {
	s.toIdle("reset")
}

// Close stops scanning, waits for background work and closes subscribers.
func (s *Service) Close() {
	s.toIdle("close")
	s.wg.Wait()
	s.hub.Close()
}

// Records returns every persisted record, newest first.
func (s *Service) Records(ctx context.Context) ([]*domain.ScanRecord, error) {
	if !s.authorized() {
		return nil, authdomain.ErrNotAuthenticated
	}
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, domain.Storage("list", err)
	}
	return list, nil
}

// Record ambil 1 record by id
func (s *Service) Record(ctx context.Context, id domain.RecordID) (*domain.ScanRecord, error) {
	if !s.authorized() {
		return nil, authdomain.ErrNotAuthenticated
	}
	rec, err := s.repo.Get(ctx, id)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, domain.Storage("get", err)
	}
	return rec, nil
}

// DeleteRecord is the only way a record is ever destroyed.
func (s *Service) DeleteRecord(ctx context.Context, id domain.RecordID) error {
	if !s.authorized() {
		return authdomain.ErrNotAuthenticated
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return err
		}
		return domain.Storage("delete", err)
	}
	s.dedup.Forget(id)
	s.log.Info("scan record deleted", zap.String("id", string(id)))
	return nil
}

func (s *Service) authorized() bool {
	return s.gate != nil && s.gate.Authenticated()
}

func (s *Service) consume(ctx context.Context, gen uint64, frames <-chan string) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-frames:
			if !ok {
				s.captureEnded(gen)
				return
			}
			s.intake(gen, raw)
		}
	}
}

// intake admits raw into Processing if nothing else is in flight for this
// session; otherwise the frame is dropped.
func (s *Service) intake(gen uint64, raw string) {
	if !s.inflight.CompareAndSwap(0, gen) {
		s.metrics.ScanOutcome(OutcomeDiscarded)
		return
	}
	if !s.transition(gen, domain.PhaseScanning, domain.Session{Generation: gen, Phase: domain.PhaseProcessing}, false) {
		s.inflight.CompareAndSwap(gen, 0)
		s.metrics.ScanOutcome(OutcomeDiscarded)
		return
	}
	s.wg.Add(1)
	go s.process(gen, raw)
}

func (s *Service) process(gen uint64, raw string) {
	defer s.wg.Done()
	defer s.inflight.CompareAndSwap(gen, 0)

	ctx := context.Background()
	now := s.clock.Now()

	rec, err := domain.NewRecord(s.newID(), raw, now)
	if err != nil {
		s.log.Debug("scan rejected",
			zap.Uint64("generation", gen),
			zap.String("kind", string(domain.ValidationKindOf(err))),
			zap.Int("length", len(raw)))
		s.complete(gen, nil, err, false)
		return
	}

	if prev, ok := s.dedup.Lookup(raw, now); ok {
		s.complete(gen, prev, nil, true)
		return
	}

	// tunggu sampai tersimpan, tidak fire-and-forget
	if err := s.repo.Save(ctx, rec); err != nil {
		err = domain.Storage("save", err)
		s.log.Error("scan record save failed", zap.Uint64("generation", gen), zap.Error(err))
		s.complete(gen, nil, err, false)
		return
	}
	s.dedup.Remember(rec)
	s.complete(gen, rec, nil, false)
}

func (s *Service) complete(gen uint64, rec *domain.ScanRecord, err error, duplicate bool) {
	next := domain.Session{Generation: gen, Phase: domain.PhaseSuccess, Record: rec}
	outcome := OutcomeSuccess
	if err != nil {
		next = domain.Session{Generation: gen, Phase: domain.PhaseFailed, LastError: err}
		outcome = OutcomeFailed
	} else if duplicate {
		outcome = OutcomeDuplicate
	}

	if !s.transition(gen, domain.PhaseProcessing, next, duplicate) {
		s.log.Debug("stale scan completion ignored", zap.Uint64("generation", gen))
		return
	}
	s.releaseCapture(gen)
	s.metrics.ScanOutcome(outcome)
	if rec != nil {
		s.log.Info("scan processed",
			zap.Uint64("generation", gen),
			zap.String("id", string(rec.ID)),
			zap.String("content_type", string(rec.ContentType)),
			zap.Bool("duplicate", duplicate))
	}
}

func (s *Service) captureEnded(gen uint64) {
	ended := domain.Session{Generation: gen, Phase: domain.PhaseFailed, LastError: domain.ErrScanningFailed}
	if s.transition(gen, domain.PhaseScanning, ended, false) {
		s.log.Warn("capture sequence ended while scanning", zap.Uint64("generation", gen))
		s.releaseCapture(gen)
		s.metrics.ScanOutcome(OutcomeFailed)
	}
}

func (s *Service) releaseCapture(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.Generation == gen && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Service) toIdle(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.Phase == domain.PhaseIdle {
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.inflight.Store(0)
	s.log.Debug("scan session to idle", zap.String("reason", reason), zap.Uint64("generation", s.session.Generation))
	s.setLocked(domain.Session{Generation: s.session.Generation + 1, Phase: domain.PhaseIdle}, false)
}

// transition moves to next only if the session is still generation gen in
// phase from. It reports whether the move happened.
func (s *Service) transition(gen uint64, from domain.Phase, next domain.Session, duplicate bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.Generation != gen || s.session.Phase != from {
		return false
	}
	s.setLocked(next, duplicate)
	return true
}

func (s *Service) setLocked(next domain.Session, duplicate bool) {
	s.session = next
	s.hub.Publish(domain.Event{Session: next, Duplicate: duplicate})
}

func captureFailure(err error) error {
	if errors.Is(err, domain.ErrCaptureNotAuthorized) || errors.Is(err, domain.ErrCaptureSetupFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrCaptureSetupFailed, err)
}
