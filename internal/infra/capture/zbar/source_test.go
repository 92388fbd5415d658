package zbar

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/qr-biometric/internal/domain/scans"
)

func TestParseLine(t *testing.T) {
	testCases := []struct {
		line string
		want string
		ok   bool
	}{
		{"QR-Code:https://example.com", "https://example.com", true},
		{"https://example.com\r", "https://example.com", true},
		{"WIFI:S:Home;T:WPA;;", "WIFI:S:Home;T:WPA;;", true},
		{"", "", false},
		{"QR-Code:", "", false},
		{"   ", "", false},
	}
	for _, tc := range testCases {
		got, ok := parseLine(tc.line)
		assert.Equal(t, tc.ok, ok, tc.line)
		assert.Equal(t, tc.want, got, tc.line)
	}
}

func TestSource_OpenStreamsDecodedLines(t *testing.T) {
	s := New(Config{Device: "-"}, nil)
	s.command = func(ctx context.Context) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", `printf 'QR-Code:https://example.com\n\nhello world\n'`)
	}

	frames, err := s.Open(context.Background())
	require.NoError(t, err)

	var got []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case raw, ok := <-frames:
			if !ok {
				assert.Equal(t, []string{"https://example.com", "hello world"}, got)
				return
			}
			got = append(got, raw)
		case <-timeout:
			t.Fatalf("stream did not end, got %v", got)
		}
	}
}

func TestSource_CancelStopsProcess(t *testing.T) {
	s := New(Config{Device: "-"}, nil)
	s.command = func(ctx context.Context) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", "exec sleep 30")
	}
	ctx, cancel := context.WithCancel(context.Background())
	frames, err := s.Open(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-frames:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestSource_SetupErrors(t *testing.T) {
	missing := New(Config{Device: filepath.Join(t.TempDir(), "video9")}, nil)
	_, err := missing.Open(context.Background())
	assert.ErrorIs(t, err, domain.ErrCaptureSetupFailed)

	noBinary := New(Config{Device: "-", Binary: filepath.Join(t.TempDir(), "zbarcam")}, nil)
	_, err = noBinary.Open(context.Background())
	assert.ErrorIs(t, err, domain.ErrCaptureSetupFailed)
}

func TestSource_Check(t *testing.T) {
	ok := New(Config{Device: "-"}, nil)
	assert.NoError(t, ok.Check(context.Background()))

	missing := New(Config{Device: filepath.Join(t.TempDir(), "video9")}, nil)
	assert.ErrorIs(t, missing.Check(context.Background()), domain.ErrCaptureSetupFailed)
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{}, nil)
	assert.Equal(t, ModeLocal, s.cfg.Mode)
	assert.Equal(t, "/dev/video0", s.cfg.Device)
	assert.Equal(t, "zbarcam", s.cfg.Binary)

	d := New(Config{Mode: ModeDocker, Image: "zbar:latest", Device: "/dev/video2"}, nil)
	cmd := d.buildCommand(context.Background())
	assert.Contains(t, cmd.Args, "--device")
	assert.Contains(t, cmd.Args, "zbar:latest")
	assert.Equal(t, "/dev/video2", cmd.Args[len(cmd.Args)-1])
}
