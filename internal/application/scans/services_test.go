package scans

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/qr-biometric/internal/application"
	authdomain "github.com/bryanwahyu/qr-biometric/internal/domain/auth"
	domain "github.com/bryanwahyu/qr-biometric/internal/domain/scans"
)

// --- fakes ---

type fakeRepo struct {
	mu      sync.Mutex
	records map[domain.RecordID]*domain.ScanRecord
	saves   int
	saveErr error
	gate    chan struct{} // when set, Save waits for it
	entered chan struct{} // signalled when Save starts
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: map[domain.RecordID]*domain.ScanRecord{}}
}

func (r *fakeRepo) Save(ctx context.Context, rec *domain.ScanRecord) error {
	if r.entered != nil {
		r.entered <- struct{}{}
	}
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.saveErr != nil {
		return r.saveErr
	}
	r.records[rec.ID] = rec
	return nil
}

func (r *fakeRepo) List(ctx context.Context) ([]*domain.ScanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.ScanRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CapturedAt.After(out[j].CapturedAt) })
	return out, nil
}

func (r *fakeRepo) Delete(ctx context.Context, id domain.RecordID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return domain.ErrRecordNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *fakeRepo) Get(ctx context.Context, id domain.RecordID) (*domain.ScanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return rec, nil
}

func (r *fakeRepo) count() (records, saves int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records), r.saves
}

// fakeCapture hands out an unbuffered channel per Open, so a send in a test
// returns only once the controller has received the frame.
type fakeCapture struct {
	mu    sync.Mutex
	ch    chan string
	ctx   context.Context
	opens int
}

func (c *fakeCapture) Open(ctx context.Context) (<-chan string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	c.ch = make(chan string)
	c.ctx = ctx
	return c.ch, nil
}

func (c *fakeCapture) send(t *testing.T, raw string) {
	t.Helper()
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	select {
	case ch <- raw:
	case <-time.After(2 * time.Second):
		t.Fatalf("controller did not receive frame %q", raw)
	}
}

func (c *fakeCapture) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	close(c.ch)
}

func (c *fakeCapture) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

type mockCapture struct{ mock.Mock }

func (m *mockCapture) Open(ctx context.Context) (<-chan string, error) {
	args := m.Called(ctx)
	ch, _ := args.Get(0).(<-chan string)
	return ch, args.Error(1)
}

type gate struct{ ok atomic.Bool }

func (g *gate) Authenticated() bool { return g.ok.Load() }

func openGate() *gate {
	g := &gate{}
	g.ok.Store(true)
	return g
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) ScanOutcome(o string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[o]++
}

func (r *countingRecorder) get(o string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[o]
}

func steppingClock() application.Clock {
	var n atomic.Int64
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	return application.ClockFunc(func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Millisecond)
	})
}

func sequentialIDs() func() domain.RecordID {
	var n atomic.Int64
	return func() domain.RecordID { return domain.RecordID(fmt.Sprintf("rec-%d", n.Add(1))) }
}

func newTestService(repo domain.Repository, capture domain.CaptureSource, g AuthGate, opts ...Option) *Service {
	base := []Option{WithClock(steppingClock()), WithIDGenerator(sequentialIDs())}
	return NewService(repo, capture, g, append(base, opts...)...)
}

func waitPhase(t *testing.T, s *Service, want domain.Phase) domain.Session {
	t.Helper()
	require.Eventually(t, func() bool { return s.Session().Phase == want }, 2*time.Second, 5*time.Millisecond,
		"expected phase %s", want)
	return s.Session()
}

// --- tests ---

func TestStartScanning_RequiresAuthentication(t *testing.T) {
	capture := &mockCapture{}
	svc := newTestService(newFakeRepo(), capture, &gate{})
	defer svc.Close()

	err := svc.StartScanning(context.Background())
	assert.ErrorIs(t, err, authdomain.ErrNotAuthenticated)
	assert.Equal(t, domain.PhaseIdle, svc.Session().Phase)
	capture.AssertNotCalled(t, "Open", mock.Anything)

	noGate := newTestService(newFakeRepo(), capture, nil)
	defer noGate.Close()
	assert.ErrorIs(t, noGate.StartScanning(context.Background()), authdomain.ErrNotAuthenticated)
}

func TestStopScanning_IdleIsNoop(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeCapture{}, openGate())
	defer svc.Close()
	events, cancel := svc.Subscribe()
	defer cancel()

	before := svc.Session()
	svc.StopScanning()
	svc.StopScanning()

	assert.Equal(t, before, svc.Session())
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestScan_HappyPath(t *testing.T) {
	repo := newFakeRepo()
	capture := &fakeCapture{}
	rec := &countingRecorder{}
	svc := newTestService(repo, capture, openGate(), WithRecorder(rec))
	defer svc.Close()
	events, cancel := svc.Subscribe()
	defer cancel()

	require.NoError(t, svc.StartScanning(context.Background()))
	assert.Equal(t, domain.PhaseScanning, svc.Session().Phase)

	capture.send(t, "https://example.com")
	s := waitPhase(t, svc, domain.PhaseSuccess)

	require.NotNil(t, s.Record)
	assert.Equal(t, domain.ContentURL, s.Record.ContentType)
	assert.Equal(t, "https://example.com", s.Record.Content)
	stored, err := repo.Get(context.Background(), s.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Record, stored)
	assert.Equal(t, 1, rec.get(OutcomeSuccess))

	// capture released after the outcome
	require.Eventually(t, func() bool { return capture.context().Err() != nil }, time.Second, 5*time.Millisecond)

	var phases []domain.Phase
	for len(phases) < 4 {
		select {
		case ev := <-events:
			phases = append(phases, ev.Phase)
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", phases)
		}
	}
	assert.Equal(t, []domain.Phase{domain.PhaseStarting, domain.PhaseScanning, domain.PhaseProcessing, domain.PhaseSuccess}, phases)
}

func TestScan_SingleFlightDiscardsFramesWhileProcessing(t *testing.T) {
	repo := newFakeRepo()
	repo.gate = make(chan struct{})
	repo.entered = make(chan struct{}, 1)
	capture := &fakeCapture{}
	rec := &countingRecorder{}
	svc := newTestService(repo, capture, openGate(), WithRecorder(rec))
	defer svc.Close()

	require.NoError(t, svc.StartScanning(context.Background()))
	capture.send(t, "https://example.com")
	<-repo.entered
	assert.Equal(t, domain.PhaseProcessing, svc.Session().Phase)

	// same QR seen on following frames
	capture.send(t, "https://example.com")
	capture.send(t, "https://example.com")
	capture.send(t, "https://example.org")

	close(repo.gate)
	waitPhase(t, svc, domain.PhaseSuccess)
	svc.Close()

	records, saves := repo.count()
	assert.Equal(t, 1, records)
	assert.Equal(t, 1, saves)
	assert.GreaterOrEqual(t, rec.get(OutcomeDiscarded), 2)
	assert.Equal(t, 1, rec.get(OutcomeSuccess))
}

func TestScan_ValidationFailure(t *testing.T) {
	repo := newFakeRepo()
	capture := &fakeCapture{}
	svc := newTestService(repo, capture, openGate())
	defer svc.Close()

	require.NoError(t, svc.StartScanning(context.Background()))
	capture.send(t, "tel:12345")
	s := waitPhase(t, svc, domain.PhaseFailed)

	assert.Equal(t, domain.InvalidPhone, domain.ValidationKindOf(s.LastError))
	assert.Equal(t, "invalid_phone", s.ErrorKind())
	assert.Nil(t, s.Record)
	_, saves := repo.count()
	assert.Zero(t, saves)
}

func TestScan_StorageFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.saveErr = errors.New("disk full")
	capture := &fakeCapture{}
	svc := newTestService(repo, capture, openGate())
	defer svc.Close()

	require.NoError(t, svc.StartScanning(context.Background()))
	capture.send(t, "hello world")
	s := waitPhase(t, svc, domain.PhaseFailed)

	assert.ErrorIs(t, s.LastError, domain.ErrStorage)
	assert.Equal(t, "storage_error", s.ErrorKind())

	// retry after reset works once storage recovers
	repo.mu.Lock()
	repo.saveErr = nil
	repo.mu.Unlock()
	require.NoError(t, svc.StartScanning(context.Background()))
	capture.send(t, "hello world")
	waitPhase(t, svc, domain.PhaseSuccess)
}

func TestScan_SetupFailure(t *testing.T) {
	testCases := []struct {
		name    string
		openErr error
		want    error
	}{
		{"permission denied", domain.ErrCaptureNotAuthorized, domain.ErrCaptureNotAuthorized},
		{"device missing", errors.New("no such device"), domain.ErrCaptureSetupFailed},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			capture := &mockCapture{}
			capture.On("Open", mock.Anything).Return(nil, tc.openErr).Once()
			svc := newTestService(newFakeRepo(), capture, openGate())
			defer svc.Close()

			err := svc.StartScanning(context.Background())
			assert.ErrorIs(t, err, tc.want)
			s := svc.Session()
			assert.Equal(t, domain.PhaseFailed, s.Phase)
			assert.ErrorIs(t, s.LastError, tc.want)
			capture.AssertExpectations(t)
		})
	}
}

func TestScan_StaleCompletionAfterStopIsIgnored(t *testing.T) {
	repo := newFakeRepo()
	repo.gate = make(chan struct{})
	repo.entered = make(chan struct{}, 1)
	capture := &fakeCapture{}
	svc := newTestService(repo, capture, openGate())

	require.NoError(t, svc.StartScanning(context.Background()))
	capture.send(t, "https://example.com")
	<-repo.entered

	svc.StopScanning()
	stopped := svc.Session()
	assert.Equal(t, domain.PhaseIdle, stopped.Phase)

	close(repo.gate)
	svc.Close() // waits for the in-flight save

	assert.Equal(t, stopped, svc.Session())
	records, _ := repo.count()
	assert.Equal(t, 1, records, "the save itself is not aborted")
}

func TestScan_CaptureEndsWhileScanning(t *testing.T) {
	capture := &fakeCapture{}
	svc := newTestService(newFakeRepo(), capture, openGate())
	defer svc.Close()

	require.NoError(t, svc.StartScanning(context.Background()))
	capture.end()
	s := waitPhase(t, svc, domain.PhaseFailed)
	assert.ErrorIs(t, s.LastError, domain.ErrScanningFailed)
}

func TestScan_RestartAndReset(t *testing.T) {
	capture := &fakeCapture{}
	svc := newTestService(newFakeRepo(), capture, openGate())
	defer svc.Close()

	require.NoError(t, svc.StartScanning(context.Background()))
	// starting while active is a no-op
	require.NoError(t, svc.StartScanning(context.Background()))
	assert.Equal(t, 1, capture.opens)

	capture.send(t, "hello")
	first := waitPhase(t, svc, domain.PhaseSuccess)

	// a new start from Success clears the outcome
	require.NoError(t, svc.StartScanning(context.Background()))
	second := svc.Session()
	assert.Equal(t, domain.PhaseScanning, second.Phase)
	assert.Greater(t, second.Generation, first.Generation)
	assert.Nil(t, second.Record)

	capture.send(t, "world")
	waitPhase(t, svc, domain.PhaseSuccess)
	svc.Reset()
	assert.Equal(t, domain.PhaseIdle, svc.Session().Phase)
}

func TestScan_DedupWithinWindow(t *testing.T) {
	repo := newFakeRepo()
	capture := &fakeCapture{}
	rec := &countingRecorder{}
	svc := newTestService(repo, capture, openGate(), WithDeduper(NewDeduper(time.Minute)), WithRecorder(rec))
	defer svc.Close()
	events, cancel := svc.Subscribe()
	defer cancel()

	require.NoError(t, svc.StartScanning(context.Background()))
	capture.send(t, "https://example.com")
	first := waitPhase(t, svc, domain.PhaseSuccess)

	require.NoError(t, svc.StartScanning(context.Background()))
	capture.send(t, "https://example.com")
	second := waitPhase(t, svc, domain.PhaseSuccess)

	assert.Equal(t, first.Record.ID, second.Record.ID)
	records, saves := repo.count()
	assert.Equal(t, 1, records)
	assert.Equal(t, 1, saves)
	assert.Equal(t, 1, rec.get(OutcomeDuplicate))

	var dup bool
	for !dup {
		select {
		case ev := <-events:
			dup = ev.Duplicate && ev.Phase == domain.PhaseSuccess
		case <-time.After(time.Second):
			t.Fatal("no duplicate event")
		}
	}
}

func TestRecords_QueryAndDelete(t *testing.T) {
	repo := newFakeRepo()
	capture := &fakeCapture{}
	g := openGate()
	svc := newTestService(repo, capture, g)
	defer svc.Close()

	for _, raw := range []string{"first", "second"} {
		require.NoError(t, svc.StartScanning(context.Background()))
		capture.send(t, raw)
		waitPhase(t, svc, domain.PhaseSuccess)
	}

	list, err := svc.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Content, "newest first")

	got, err := svc.Record(context.Background(), list[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Content)

	require.NoError(t, svc.DeleteRecord(context.Background(), list[1].ID))
	assert.ErrorIs(t, svc.DeleteRecord(context.Background(), list[1].ID), domain.ErrRecordNotFound)
	_, err = svc.Record(context.Background(), list[1].ID)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	g.ok.Store(false)
	_, err = svc.Records(context.Background())
	assert.ErrorIs(t, err, authdomain.ErrNotAuthenticated)
	assert.ErrorIs(t, svc.DeleteRecord(context.Background(), list[0].ID), authdomain.ErrNotAuthenticated)
}
