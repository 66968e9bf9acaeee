package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

const execStopGrace = 3 * time.Second

// ExecDevice captures audio by running an external recorder (ffmpeg, arecord,
// sox, ...) that writes an encoded stream to stdout.
type ExecDevice struct {
	cmd        []string
	chunkBytes int
	logger     *slog.Logger
}

func NewExecDevice(command string, chunkBytes int, logger *slog.Logger) (*ExecDevice, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	if chunkBytes <= 0 {
		chunkBytes = 4096
	}
	return &ExecDevice{cmd: args, chunkBytes: chunkBytes, logger: logger.With(slog.String("component", "exec-capture"))}, nil
}

func (d *ExecDevice) Open(ctx context.Context) (Stream, error) {
	base := d.cmd[0]
	if _, err := exec.LookPath(base); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, base, err)
	}

	// The recorder outlives the request that started it; it is stopped by Close.
	command := exec.CommandContext(context.WithoutCancel(ctx), base, d.cmd[1:]...)
	stdout, err := command.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	var stderr bytes.Buffer
	command.Stderr = &stderr

	if err := command.Start(); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s := &execStream{
		cmd:    command,
		stdout: stdout,
		stderr: &stderr,
		chunks: make(chan []byte, 16),
		done:   make(chan struct{}),
		logger: d.logger,
	}
	go s.read(d.chunkBytes)
	return s, nil
}

type execStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	chunks chan []byte
	done   chan struct{}
	logger *slog.Logger

	once     sync.Once
	closeErr error
}

func (s *execStream) Chunks() <-chan []byte { return s.chunks }

func (s *execStream) read(chunkBytes int) {
	defer close(s.done)
	defer close(s.chunks)
	buf := make([]byte, chunkBytes)
	for {
		n, err := s.stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.chunks <- chunk
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.logger.Warn("capture read failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (s *execStream) Close() error {
	s.once.Do(func() {
		// Interrupt lets the recorder flush and finalize its container.
		if s.cmd.Process != nil {
			if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
				_ = s.cmd.Process.Kill()
			}
		}
		select {
		case <-s.done:
		case <-time.After(execStopGrace):
			_ = s.cmd.Process.Kill()
			<-s.done
		}
		err := s.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			s.closeErr = err
			return
		}
		if msg := strings.TrimSpace(s.stderr.String()); msg != "" && err != nil {
			s.logger.Debug("capture command exited", slog.String("stderr", msg))
		}
	})
	return s.closeErr
}
