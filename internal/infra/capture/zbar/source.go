// Package zbar reads QR codes from a video device through zbarcam, either
// installed locally or run inside a container.
package zbar

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	domain "github.com/bryanwahyu/qr-biometric/internal/domain/scans"
)

// Mode selects how zbarcam is launched.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeDocker Mode = "docker"
)

// Config for the zbar capture source.
type Config struct {
	Mode   Mode
	Device string
	Binary string // zbarcam path in local mode
	Image  string // container image in docker mode
}

// Source implements scans.CaptureSource on top of a zbarcam process. Each
// Open starts a new process; it is killed when the context ends.
type Source struct {
	cfg Config
	log *zap.Logger

	// command builds the process; replaced in tests.
	command func(ctx context.Context) *exec.Cmd
}

// New creates a zbar capture source.
func New(cfg Config, log *zap.Logger) *Source {
	if cfg.Device == "" {
		cfg.Device = "/dev/video0"
	}
	if cfg.Binary == "" {
		cfg.Binary = "zbarcam"
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeLocal
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Source{cfg: cfg, log: log}
	s.command = s.buildCommand
	return s
}

func (s *Source) buildCommand(ctx context.Context) *exec.Cmd {
	switch s.cfg.Mode {
	case ModeDocker:
		// device di-pass ke container
		return exec.CommandContext(ctx, "docker", "run", "--rm", "-i",
			"--device", s.cfg.Device,
			s.cfg.Image,
			"zbarcam", "--raw", "--nodisplay", "-Sdisable", "-Sqrcode.enable", s.cfg.Device,
		)
	default:
		return exec.CommandContext(ctx, s.cfg.Binary,
			"--raw", "--nodisplay", "-Sdisable", "-Sqrcode.enable", s.cfg.Device,
		)
	}
}

// Open checks the device, starts zbarcam and streams one string per
// decoded symbol.
func (s *Source) Open(ctx context.Context) (<-chan string, error) {
	if err := s.checkDevice(); err != nil {
		return nil, err
	}

	cmd := s.command(ctx)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCaptureSetupFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, classifyStartError(err)
	}
	s.log.Info("zbar capture started", zap.String("device", s.cfg.Device), zap.String("mode", string(s.cfg.Mode)))

	out := make(chan string)
	go func() {
		defer close(out)
		s.pump(ctx, stdout, out)
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			s.log.Warn("zbarcam exited", zap.Error(err))
		}
	}()
	return out, nil
}

func (s *Source) pump(ctx context.Context, r io.Reader, out chan<- string) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 64*1024)
	for sc.Scan() {
		raw, ok := parseLine(sc.Text())
		if !ok {
			continue
		}
		select {
		case out <- raw:
		case <-ctx.Done():
			return
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		s.log.Warn("zbarcam output read failed", zap.Error(err))
	}
}

// parseLine accepts both --raw output and the default "QR-Code:<data>"
// format.
func parseLine(line string) (string, bool) {
	line = strings.TrimRight(line, "\r")
	line = strings.TrimPrefix(line, "QR-Code:")
	if strings.TrimSpace(line) == "" {
		return "", false
	}
	return line, true
}

// Check reports whether the capture device can be opened.
func (s *Source) Check(context.Context) error { return s.checkDevice() }

func (s *Source) checkDevice() error {
	if s.cfg.Device == "-" {
		return nil
	}
	f, err := os.Open(s.cfg.Device)
	switch {
	case err == nil:
		return f.Close()
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %s", domain.ErrCaptureNotAuthorized, s.cfg.Device)
	default:
		return fmt.Errorf("%w: %v", domain.ErrCaptureSetupFailed, err)
	}
}

func classifyStartError(err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %v", domain.ErrCaptureNotAuthorized, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrCaptureSetupFailed, err)
}
