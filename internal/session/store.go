// Package session holds the single state record a presentation layer
// observes and the action entry points that advance it.
//
// Actions are sequenced through the Store: capture and file selection feed
// the input resolver, Submit drives the primary analysis, and only a
// successful Submit schedules the background recommendation fetch. Every
// mutation produces a new Snapshot delivered to observers in order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-coach/internal/analysis"
	"github.com/loqalabs/loqa-coach/internal/audio"
	"github.com/loqalabs/loqa-coach/internal/capture"
	"github.com/loqalabs/loqa-coach/internal/input"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// SubmissionStatus is the submission axis of the state machine.
type SubmissionStatus string

const (
	SubmissionIdle       SubmissionStatus = "idle"
	SubmissionSubmitting SubmissionStatus = "submitting"
	SubmissionSucceeded  SubmissionStatus = "succeeded"
	SubmissionFailed     SubmissionStatus = "failed"
)

// ErrSubmissionInProgress is returned by Submit while a submission is running.
var ErrSubmissionInProgress = errors.New("submission already in progress")

// ErrClosed is returned by actions after Close.
var ErrClosed = errors.New("session closed")

// AlertKind classifies user-facing failures.
type AlertKind string

const (
	AlertCapture    AlertKind = "capture"
	AlertNoInput    AlertKind = "no_input"
	AlertSubmission AlertKind = "submission"
	AlertInput      AlertKind = "input"
)

const (
	msgCapture    = "Microphone access denied or not available."
	msgNoInput    = "Please record or upload an audio file first."
	msgSubmission = "Failed to process audio. Check the backend and try again."
	msgInput      = "Could not prepare the audio for preview."
)

// Alert is a user-facing notification attached to the snapshot that raised it.
type Alert struct {
	Kind    AlertKind `json:"kind"`
	Message string    `json:"message"`
}

// Snapshot is a consistent view of the session.
type Snapshot struct {
	Version    uint64           `json:"version"`
	Recording  capture.Status   `json:"recording"`
	UserID     string           `json:"user_id"`
	Preview    *input.Preview   `json:"preview,omitempty"`
	Submission SubmissionStatus `json:"submission"`
	Loading    bool             `json:"loading"`
	Result     *analysis.Result `json:"result,omitempty"`
	Alert      *Alert           `json:"alert,omitempty"`
}

// Submitter runs the primary analysis request.
type Submitter interface {
	Submit(ctx context.Context, pending *input.Pending, userID string) (analysis.Result, error)
}

// Augmenter fetches and merges the lesson recommendation.
type Augmenter interface {
	FetchAndMerge(ctx context.Context, userID string, current analysis.Result) (analysis.Result, error)
}

// Options wires a Store.
type Options struct {
	Device        capture.Device
	RecordingName string
	RecordingMime string
	Resolver      *input.Resolver
	Submitter     Submitter
	Augmenter     Augmenter
	UserID        string
	Logger        *slog.Logger
	Meter         metric.Meter
}

// Store owns the session state.
type Store struct {
	device        capture.Device
	recordingName string
	recordingMime string
	resolver      *input.Resolver
	submitter     Submitter
	augmenter     Augmenter
	logger        *slog.Logger
	metrics       *metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// actionMu serializes capture and file actions.
	actionMu sync.Mutex

	mu         sync.Mutex
	rec        *capture.Session
	recording  capture.Status
	userID     string
	submission SubmissionStatus
	result     *analysis.Result
	alert      *Alert
	generation uint64
	version    uint64
	closed     bool
	observers  map[int]func(Snapshot)
	nextObs    int

	// emitMu keeps observer delivery in mutation order.
	emitMu sync.Mutex
}

// New builds a Store. Background recommendation fetches inherit values from
// parent but stop only when the Store is closed.
func New(parent context.Context, opts Options) *Store {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		device:        opts.Device,
		recordingName: opts.RecordingName,
		recordingMime: opts.RecordingMime,
		resolver:      opts.Resolver,
		submitter:     opts.Submitter,
		augmenter:     opts.Augmenter,
		logger:        logger.With(slog.String("component", "session")),
		ctx:           ctx,
		cancel:        cancel,
		recording:     capture.StatusIdle,
		userID:        opts.UserID,
		submission:    SubmissionIdle,
		observers:     make(map[int]func(Snapshot)),
	}
	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter("github.com/loqalabs/loqa-coach/session")
	}
	s.metrics = newMetrics(meter, s, s.logger)
	return s
}

// Subscribe registers fn for every future snapshot and returns a function
// that removes it. fn runs synchronously after each mutation and must not
// call back into the Store.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Pending returns the input a Submit would send, or nil.
func (s *Store) Pending() *input.Pending {
	return s.resolver.Current()
}

// StartCapture opens the microphone and begins a new recording. A failure
// raises a capture alert and leaves the recording state unchanged.
func (s *Store) StartCapture(ctx context.Context) error {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.rec != nil {
		s.mu.Unlock()
		return capture.ErrAlreadyStarted
	}
	s.mu.Unlock()

	rec := capture.NewSession(s.device, s.recordingName, s.recordingMime, s.logger)
	if err := rec.Start(ctx); err != nil {
		s.metrics.recording("start_failed")
		s.logger.Warn("capture start failed", slog.String("error", err.Error()))
		s.mu.Lock()
		s.alert = &Alert{Kind: AlertCapture, Message: msgCapture}
		s.publishAndUnlock()
		return err
	}

	s.mu.Lock()
	s.rec = rec
	s.recording = capture.StatusRecording
	s.result = nil
	s.alert = nil
	s.publishAndUnlock()
	s.logger.Info("recording started")
	return nil
}

// StopCapture finalizes the active recording into the pending input. It is a
// no-op when nothing is recording.
func (s *Store) StopCapture() (*input.Pending, error) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()
	if rec == nil {
		return nil, nil
	}

	artifact, ok := rec.Stop()
	s.mu.Lock()
	s.rec = nil
	s.recording = rec.Status()
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	s.metrics.recording("completed")

	pending, err := s.resolver.FromRecording(artifact)
	s.mu.Lock()
	if err != nil {
		s.alert = &Alert{Kind: AlertInput, Message: msgInput}
		s.publishAndUnlock()
		s.logger.Warn("failed to install recording", slog.String("error", err.Error()))
		return nil, err
	}
	s.alert = nil
	s.publishAndUnlock()
	s.logger.Info("recording stopped", slog.Int("bytes", artifact.Size()))
	return pending, nil
}

// SelectFile installs a user-selected file as the pending input. A nil file
// is a cancelled selection and changes nothing.
func (s *Store) SelectFile(file *audio.File) (*input.Pending, error) {
	if file == nil {
		return s.resolver.Current(), nil
	}
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	pending, err := s.resolver.FromFileSelection(file)
	s.mu.Lock()
	if err != nil {
		s.alert = &Alert{Kind: AlertInput, Message: msgInput}
		s.publishAndUnlock()
		s.logger.Warn("failed to install selected file", slog.String("error", err.Error()))
		return nil, err
	}
	s.result = nil
	s.alert = nil
	s.publishAndUnlock()
	s.logger.Info("file selected", slog.String("name", pending.Artifact.Name), slog.Int("bytes", pending.Artifact.Size()))
	return pending, nil
}

// SetUserID changes the identity used by the next submission.
func (s *Store) SetUserID(id string) {
	s.mu.Lock()
	if s.closed || s.userID == id {
		s.mu.Unlock()
		return
	}
	s.userID = id
	s.publishAndUnlock()
}

// Submit sends the pending input for analysis and returns the primary result.
// The recommendation is fetched afterwards in the background and merged into
// the snapshot; it never affects the returned error.
func (s *Store) Submit(ctx context.Context) (analysis.Result, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return analysis.Result{}, ErrClosed
	}
	if s.submission == SubmissionSubmitting {
		s.mu.Unlock()
		return analysis.Result{}, ErrSubmissionInProgress
	}
	pending := s.resolver.Current()
	if pending == nil {
		s.alert = &Alert{Kind: AlertNoInput, Message: msgNoInput}
		s.publishAndUnlock()
		return analysis.Result{}, analysis.ErrNoInputSelected
	}
	userID := s.userID
	s.generation++
	gen := s.generation
	s.submission = SubmissionSubmitting
	s.result = nil
	s.alert = nil
	s.publishAndUnlock()

	start := time.Now()
	result, err := s.submitter.Submit(ctx, pending, userID)
	elapsed := time.Since(start)

	s.mu.Lock()
	if s.closed {
		// Observers are detached once Close has published its final snapshot.
		s.mu.Unlock()
		return analysis.Result{}, ErrClosed
	}
	if err != nil {
		s.submission = SubmissionFailed
		s.result = nil
		s.alert = &Alert{Kind: AlertSubmission, Message: msgSubmission}
		s.publishAndUnlock()
		s.metrics.submission("failed", elapsed)
		if !errors.Is(err, analysis.ErrSubmissionFailed) {
			err = fmt.Errorf("%w: %w", analysis.ErrSubmissionFailed, err)
		}
		return analysis.Result{}, err
	}
	s.submission = SubmissionSucceeded
	s.result = &result
	if s.augmenter != nil {
		s.wg.Add(1)
	}
	s.publishAndUnlock()
	s.metrics.submission("succeeded", elapsed)

	if s.augmenter != nil {
		go s.augment(gen, userID, result)
	}
	return result, nil
}

func (s *Store) augment(gen uint64, userID string, primary analysis.Result) {
	defer s.wg.Done()

	merged, err := s.augmenter.FetchAndMerge(s.ctx, userID, primary)
	if err != nil {
		s.metrics.augmentation("failed")
		s.logger.Warn("recommendation fetch failed", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	if s.generation != gen || s.submission != SubmissionSucceeded || s.result == nil {
		s.mu.Unlock()
		s.metrics.augmentation("stale")
		s.logger.Debug("dropping recommendation for superseded result")
		return
	}
	next := s.result.WithRecommendation(merged.Recommendation)
	s.result = &next
	s.publishAndUnlock()
	s.metrics.augmentation("merged")
}

// Wait blocks until background recommendation fetches have finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

// Close abandons any active recording, cancels background work and releases
// the preview handle.
func (s *Store) Close() {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	rec := s.rec
	s.rec = nil
	s.mu.Unlock()

	if rec != nil {
		rec.Abandon()
	}
	s.cancel()
	s.wg.Wait()
	s.resolver.Close()
	s.metrics.close()

	s.mu.Lock()
	if rec != nil {
		s.recording = rec.Status()
	}
	s.publishAndUnlock()
}

func (s *Store) viewLocked() Snapshot {
	snap := Snapshot{
		Version:    s.version,
		Recording:  s.recording,
		UserID:     s.userID,
		Submission: s.submission,
		Loading:    s.submission == SubmissionSubmitting,
		Alert:      s.alert,
	}
	if p := s.resolver.Current(); p != nil {
		preview := p.Preview
		snap.Preview = &preview
	}
	if s.result != nil {
		r := *s.result
		snap.Result = &r
	}
	return snap
}

// publishAndUnlock bumps the version, releases mu and delivers the snapshot.
// It must be called with mu held.
func (s *Store) publishAndUnlock() {
	s.version++
	snap := s.viewLocked()
	observers := make([]func(Snapshot), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()
	for _, fn := range observers {
		fn(snap)
	}
}
