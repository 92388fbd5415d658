// Package capture holds capture collaborators that turn decoded QR symbols
// into a stream of raw strings.
package capture

import (
	"context"
	"errors"
	"sync"
)

// ErrNotOpen is returned by Push when no capture sequence is running.
var ErrNotOpen = errors.New("capture feed not open")

// ErrBackpressure is returned by Push when the buffer is full and the frame
// was dropped.
var ErrBackpressure = errors.New("capture feed full, frame dropped")

const defaultFeedBuffer = 16

// Feed is a push driven capture source. A device bridge pushes decoded
// strings; the scan controller consumes them through Open. Each Open starts
// a fresh sequence, ending the previous one.
type Feed struct {
	buffer int

	mu  sync.Mutex
	ch  chan string
	seq uint64
}

// NewFeed creates a feed; buffer <= 0 uses the default.
func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = defaultFeedBuffer
	}
	return &Feed{buffer: buffer}
}

// Open implements scans.CaptureSource.
func (f *Feed) Open(ctx context.Context) (<-chan string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ch != nil {
		close(f.ch)
	}
	f.seq++
	seq := f.seq
	ch := make(chan string, f.buffer)
	f.ch = ch

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.seq == seq && f.ch != nil {
			close(f.ch)
			f.ch = nil
		}
	}()
	return ch, nil
}

// Push delivers one decoded symbol without blocking.
func (f *Feed) Push(raw string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ch == nil {
		return ErrNotOpen
	}
	select {
	case f.ch <- raw:
		return nil
	default:
		return ErrBackpressure
	}
}

// IsOpen reports whether a capture sequence is currently running.
func (f *Feed) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ch != nil
}
