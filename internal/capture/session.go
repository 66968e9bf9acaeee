package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-coach/internal/audio"
)

// Status is the lifecycle state of a recording session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRecording Status = "recording"
	StatusStopped   Status = "stopped"
)

// ErrAlreadyStarted is returned by Start on a session that left Idle.
var ErrAlreadyStarted = errors.New("recording session already started")

// Session accumulates fragments from one capture stream and finalizes them
// into a single artifact. A Session records at most once.
type Session struct {
	device   Device
	name     string
	mimeType string
	logger   *slog.Logger

	mu      sync.Mutex
	status  Status
	opening bool
	chunks  [][]byte
	stream  Stream
	pumped  chan struct{}
}

// NewSession builds an idle session. Empty name or mimeType fall back to the
// conventional recording defaults.
func NewSession(device Device, name, mimeType string, logger *slog.Logger) *Session {
	if name == "" {
		name = audio.DefaultRecordingName
	}
	if mimeType == "" {
		mimeType = audio.DefaultRecordingMime
	}
	return &Session{
		device:   device,
		name:     name,
		mimeType: mimeType,
		logger:   logger.With(slog.String("component", "capture")),
		status:   StatusIdle,
	}
}

// Start opens the device and begins buffering. On failure the session stays
// Idle and the error wraps ErrPermissionDenied or ErrDeviceUnavailable.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusIdle || s.opening {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.opening = true
	s.mu.Unlock()

	// Open may block on a permission prompt; Status and Buffered stay readable.
	stream, err := s.device.Open(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.opening = false
	if err != nil {
		if !errors.Is(err, ErrPermissionDenied) && !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		return err
	}

	s.stream = stream
	s.status = StatusRecording
	s.pumped = make(chan struct{})
	go s.pump(stream, s.pumped)
	s.logger.Debug("recording started")
	return nil
}

func (s *Session) pump(stream Stream, done chan<- struct{}) {
	defer close(done)
	for chunk := range stream.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		s.mu.Lock()
		if s.status == StatusRecording {
			s.chunks = append(s.chunks, chunk)
		}
		s.mu.Unlock()
	}
}

// Stop closes the stream, waits for trailing fragments and returns the
// concatenated artifact. It reports false when the session was not recording.
func (s *Session) Stop() (audio.Artifact, bool) {
	s.mu.Lock()
	if s.status != StatusRecording || s.stream == nil {
		s.mu.Unlock()
		return audio.Artifact{}, false
	}
	stream, pumped := s.stream, s.pumped
	s.stream = nil
	s.mu.Unlock()

	// Close flushes the final fragment before the channel closes, so the pump
	// must finish before the buffer is drained.
	if err := stream.Close(); err != nil {
		s.logger.Warn("capture stream close failed", slog.String("error", err.Error()))
	}
	<-pumped

	s.mu.Lock()
	defer s.mu.Unlock()
	chunks := s.chunks
	s.chunks = nil
	s.status = StatusStopped

	artifact := audio.Artifact{
		Data:     bytes.Join(chunks, nil),
		MimeType: s.mimeType,
		Name:     s.name,
	}
	s.logger.Debug("recording stopped", slog.Int("chunks", len(chunks)), slog.Int("bytes", artifact.Size()))
	return artifact, true
}

// Abandon releases the stream without producing an artifact. It is used on
// teardown and is a no-op unless the session is recording.
func (s *Session) Abandon() {
	s.mu.Lock()
	if s.status != StatusRecording || s.stream == nil {
		s.mu.Unlock()
		return
	}
	stream, pumped := s.stream, s.pumped
	s.stream = nil
	s.status = StatusStopped
	s.chunks = nil
	s.mu.Unlock()

	if err := stream.Close(); err != nil {
		s.logger.Warn("capture stream close failed", slog.String("error", err.Error()))
	}
	<-pumped
	s.logger.Debug("recording abandoned")
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Buffered returns the number of fragments held so far.
func (s *Session) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}
