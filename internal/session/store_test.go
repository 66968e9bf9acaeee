package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-coach/internal/analysis"
	"github.com/loqalabs/loqa-coach/internal/audio"
	"github.com/loqalabs/loqa-coach/internal/backend"
	"github.com/loqalabs/loqa-coach/internal/capture"
	"github.com/loqalabs/loqa-coach/internal/input"
	"github.com/loqalabs/loqa-coach/internal/recommend"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeBackend serves both endpoints with swappable handlers.
type fakeBackend struct {
	srv          *httptest.Server
	processCalls atomic.Int32
	recoCalls    atomic.Int32

	mu        sync.Mutex
	process   http.HandlerFunc
	recommend http.HandlerFunc
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		process, reco := fb.process, fb.recommend
		fb.mu.Unlock()
		switch r.URL.Path {
		case "/process-audio":
			fb.processCalls.Add(1)
			process(w, r)
		case "/recommend-lesson":
			fb.recoCalls.Add(1)
			reco(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(fb.srv.Close)
	fb.setProcess(respond(http.StatusOK, `{"original_text":"hi","grammar_score":8}`))
	fb.setRecommend(respond(http.StatusOK, `{"recommendation":"Practice past tense"}`))
	return fb
}

func (fb *fakeBackend) setProcess(h http.HandlerFunc) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.process = h
}

func (fb *fakeBackend) setRecommend(h http.HandlerFunc) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.recommend = h
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

type fixture struct {
	store     *Store
	backend   *fakeBackend
	device    *capture.FakeDevice
	previewer *input.MemoryPreviewer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, context.Background())
}

func newFixtureOn(t *testing.T, parent context.Context) *fixture {
	t.Helper()
	fb := newFakeBackend(t)
	client := backend.NewClient(fb.srv.URL, nil)
	previewer := input.NewMemoryPreviewer()
	device := &capture.FakeDevice{Chunks: [][]byte{[]byte("chunk-1|"), []byte("chunk-2|"), []byte("chunk-3")}}
	logger := newLogger()
	store := New(parent, Options{
		Device:    device,
		Resolver:  input.NewResolver(previewer, logger),
		Submitter: analysis.NewPipeline(client, 2*time.Second, logger),
		Augmenter: recommend.NewAugmenter(client, 2*time.Second, logger),
		UserID:    "kinjal01",
		Logger:    logger,
	})
	t.Cleanup(store.Close)
	return &fixture{store: store, backend: fb, device: device, previewer: previewer}
}

func (f *fixture) selectFile(t *testing.T) {
	t.Helper()
	if _, err := f.store.SelectFile(&audio.File{Name: "lesson.webm", MimeType: "audio/webm", Data: []byte("audio")}); err != nil {
		t.Fatalf("select file: %v", err)
	}
}

func TestSubmitWithoutInputRaisesAlert(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Submit(context.Background())
	if !errors.Is(err, analysis.ErrNoInputSelected) {
		t.Fatalf("expected ErrNoInputSelected, got %v", err)
	}
	if f.backend.processCalls.Load() != 0 {
		t.Fatal("expected no network call")
	}
	snap := f.store.Snapshot()
	if snap.Alert == nil || snap.Alert.Kind != AlertNoInput {
		t.Fatalf("expected no-input alert, got %+v", snap.Alert)
	}
	if snap.Submission != SubmissionIdle || snap.Loading {
		t.Fatalf("expected idle submission, got %s", snap.Submission)
	}
}

func TestPrimaryFailureThenResubmit(t *testing.T) {
	f := newFixture(t)
	f.selectFile(t)
	f.backend.setProcess(respond(http.StatusServiceUnavailable, "busy"))

	_, err := f.store.Submit(context.Background())
	if !errors.Is(err, analysis.ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
	snap := f.store.Snapshot()
	if snap.Submission != SubmissionFailed || snap.Result != nil || snap.Loading {
		t.Fatalf("expected failed submission without result, got %+v", snap)
	}
	if snap.Alert == nil || snap.Alert.Kind != AlertSubmission {
		t.Fatalf("expected submission alert, got %+v", snap.Alert)
	}
	f.store.Wait()
	if f.backend.recoCalls.Load() != 0 {
		t.Fatal("expected no recommendation fetch after a failed submission")
	}

	f.backend.setProcess(respond(http.StatusOK, `{"original_text":"hi","grammar_score":8}`))
	if _, err := f.store.Submit(context.Background()); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	f.store.Wait()
	snap = f.store.Snapshot()
	if snap.Submission != SubmissionSucceeded || snap.Result == nil || snap.Alert != nil {
		t.Fatalf("expected success after resubmit, got %+v", snap)
	}
}

func TestRecommendationFailureKeepsPrimaryResult(t *testing.T) {
	f := newFixture(t)
	f.selectFile(t)
	f.backend.setRecommend(respond(http.StatusInternalServerError, "boom"))

	if _, err := f.store.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.store.Wait()

	snap := f.store.Snapshot()
	if snap.Submission != SubmissionSucceeded || snap.Alert != nil {
		t.Fatalf("expected silent augmentation failure, got %+v", snap)
	}
	if snap.Result == nil {
		t.Fatal("expected primary result kept")
	}
	if snap.Result.OriginalText.String() != "hi" {
		t.Fatalf("unexpected original text %q", snap.Result.OriginalText.String())
	}
	if g, ok := snap.Result.GrammarScore.Float(); !ok || g != 8 {
		t.Fatalf("unexpected grammar score %v", g)
	}
	if snap.Result.Recommendation.Available() {
		t.Fatal("expected recommendation absent")
	}
	if f.backend.recoCalls.Load() != 1 {
		t.Fatalf("expected one recommendation call, got %d", f.backend.recoCalls.Load())
	}
}

func TestRecommendationMergedWithoutTouchingAnalysis(t *testing.T) {
	f := newFixture(t)
	f.selectFile(t)

	primary, err := f.store.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.store.Wait()

	snap := f.store.Snapshot()
	if snap.Result == nil {
		t.Fatal("expected result")
	}
	if snap.Result.Recommendation.String() != "Practice past tense" {
		t.Fatalf("unexpected recommendation %q", snap.Result.Recommendation.String())
	}
	if snap.Result.WithRecommendation(analysis.Value{}) != primary {
		t.Fatalf("expected analysis fields unchanged: %+v vs %+v", snap.Result, primary)
	}
}

func TestUserIDCapturedAtSubmit(t *testing.T) {
	f := newFixture(t)
	f.selectFile(t)

	var processUser, recoUser atomic.Value
	entered := make(chan struct{})
	release := make(chan struct{})
	f.backend.setProcess(func(w http.ResponseWriter, r *http.Request) {
		processUser.Store(r.FormValue("user_id"))
		close(entered)
		<-release
		_, _ = w.Write([]byte(`{"original_text":"hi"}`))
	})
	f.backend.setRecommend(func(w http.ResponseWriter, r *http.Request) {
		recoUser.Store(r.URL.Query().Get("user_id"))
		_, _ = w.Write([]byte(`{"recommendation":"ok"}`))
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.store.Submit(context.Background())
		done <- err
	}()
	<-entered
	if snap := f.store.Snapshot(); !snap.Loading || snap.Submission != SubmissionSubmitting {
		t.Fatalf("expected loading while submitting, got %+v", snap)
	}
	if _, err := f.store.Submit(context.Background()); !errors.Is(err, ErrSubmissionInProgress) {
		t.Fatalf("expected ErrSubmissionInProgress, got %v", err)
	}
	f.store.SetUserID("someone-else")
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.store.Wait()

	if got := processUser.Load(); got != "kinjal01" {
		t.Fatalf("expected submit-time user on primary call, got %v", got)
	}
	if got := recoUser.Load(); got != "kinjal01" {
		t.Fatalf("expected submit-time user on recommendation call, got %v", got)
	}
	if f.store.Snapshot().UserID != "someone-else" {
		t.Fatal("expected new user id for the next submission")
	}
}

func TestStaleRecommendationIsDropped(t *testing.T) {
	f := newFixture(t)
	f.selectFile(t)

	release := make(chan struct{})
	var calls atomic.Int32
	f.backend.setRecommend(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			<-release
			_, _ = w.Write([]byte(`{"recommendation":"old"}`))
			return
		}
		_, _ = w.Write([]byte(`{"recommendation":"new"}`))
	})

	if _, err := f.store.Submit(context.Background()); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("first recommendation call never arrived")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := f.store.Submit(context.Background()); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	for calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("second recommendation call never arrived")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	f.store.Wait()

	snap := f.store.Snapshot()
	if snap.Result == nil || snap.Result.Recommendation.String() != "new" {
		t.Fatalf("expected latest recommendation, got %+v", snap.Result)
	}
}

func TestCaptureFeedsPendingInput(t *testing.T) {
	f := newFixture(t)

	if err := f.store.StartCapture(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if f.store.Snapshot().Recording != capture.StatusRecording {
		t.Fatal("expected recording status")
	}
	pending, err := f.store.StopCapture()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	want := []byte("chunk-1|chunk-2|chunk-3")
	if !bytes.Equal(pending.Artifact.Data, want) {
		t.Fatalf("unexpected payload %q", pending.Artifact.Data)
	}
	if pending.Artifact.Name != "recording.webm" {
		t.Fatalf("unexpected name %s", pending.Artifact.Name)
	}
	snap := f.store.Snapshot()
	if snap.Recording != capture.StatusStopped || snap.Preview == nil || snap.Preview.URI != pending.Preview.URI {
		t.Fatalf("unexpected snapshot after stop: %+v", snap)
	}

	if again, err := f.store.StopCapture(); again != nil || err != nil {
		t.Fatalf("expected stop while stopped to be a no-op, got %v %v", again, err)
	}

	if err := f.store.StartCapture(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if _, err := f.store.StopCapture(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	f.selectFile(t)
	if f.previewer.Live() != 1 {
		t.Fatalf("expected one live preview after re-recording and re-selecting, got %d", f.previewer.Live())
	}
	if f.device.Released() != 2 {
		t.Fatalf("expected both capture streams released, got %d", f.device.Released())
	}
}

func TestStartCaptureFailureRaisesAlert(t *testing.T) {
	f := newFixture(t)
	f.device.OpenErr = capture.ErrPermissionDenied

	err := f.store.StartCapture(context.Background())
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	snap := f.store.Snapshot()
	if snap.Recording != capture.StatusIdle {
		t.Fatalf("expected idle recording, got %s", snap.Recording)
	}
	if snap.Alert == nil || snap.Alert.Kind != AlertCapture {
		t.Fatalf("expected capture alert, got %+v", snap.Alert)
	}
}

func TestNewInputClearsPreviousResult(t *testing.T) {
	f := newFixture(t)
	f.selectFile(t)
	if _, err := f.store.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.store.Wait()
	if f.store.Snapshot().Result == nil {
		t.Fatal("expected result")
	}

	if _, err := f.store.SelectFile(nil); err != nil {
		t.Fatalf("cancelled selection: %v", err)
	}
	if f.store.Snapshot().Result == nil {
		t.Fatal("expected cancelled selection to keep the result")
	}

	f.selectFile(t)
	if f.store.Snapshot().Result != nil {
		t.Fatal("expected new selection to clear the result")
	}
}

func TestObserversSeeOrderedSnapshots(t *testing.T) {
	f := newFixture(t)
	var (
		mu    sync.Mutex
		snaps []Snapshot
	)
	cancel := f.store.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snaps = append(snaps, s)
	})
	defer cancel()

	f.selectFile(t)
	if _, err := f.store.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.store.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(snaps) < 4 {
		t.Fatalf("expected select, submitting, succeeded and merge snapshots, got %d", len(snaps))
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i].Version <= snaps[i-1].Version {
			t.Fatalf("versions not increasing: %d then %d", snaps[i-1].Version, snaps[i].Version)
		}
	}
	if !snaps[1].Loading || snaps[1].Submission != SubmissionSubmitting {
		t.Fatalf("expected submitting snapshot, got %+v", snaps[1])
	}
	last := snaps[len(snaps)-1]
	if last.Loading || last.Result == nil || !last.Result.Recommendation.Available() {
		t.Fatalf("expected final merged snapshot, got %+v", last)
	}
}

func TestCloseReleasesResources(t *testing.T) {
	f := newFixture(t)
	f.selectFile(t)
	if err := f.store.StartCapture(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.store.Close()

	if f.device.Released() != 1 {
		t.Fatalf("expected capture stream released, got %d", f.device.Released())
	}
	if f.previewer.Live() != 0 {
		t.Fatalf("expected previews released, got %d", f.previewer.Live())
	}
	if _, err := f.store.Submit(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRecommendationSurvivesParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	f := newFixtureOn(t, parent)
	f.selectFile(t)
	cancel()

	if _, err := f.store.Submit(context.WithoutCancel(parent)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.store.Wait()

	if f.backend.recoCalls.Load() != 1 {
		t.Fatalf("expected one recommendation call, got %d", f.backend.recoCalls.Load())
	}
	snap := f.store.Snapshot()
	if snap.Result == nil || snap.Result.Recommendation.String() != "Practice past tense" {
		t.Fatalf("expected merged recommendation, got %+v", snap.Result)
	}
}

func TestSubmitFinishingAfterCloseIsNotPublished(t *testing.T) {
	f := newFixture(t)
	f.selectFile(t)
	release := make(chan struct{})
	f.backend.setProcess(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write([]byte(`{"original_text":"late"}`))
	})

	var delivered atomic.Int32
	f.store.Subscribe(func(Snapshot) { delivered.Add(1) })

	done := make(chan error, 1)
	go func() {
		_, err := f.store.Submit(context.Background())
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !f.store.Snapshot().Loading {
		if time.Now().After(deadline) {
			t.Fatal("submission never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.store.Close()
	afterClose := delivered.Load()
	close(release)

	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	f.store.Wait()
	if got := delivered.Load(); got != afterClose {
		t.Fatalf("expected no snapshots after close, got %d more", got-afterClose)
	}
	if f.backend.recoCalls.Load() != 0 {
		t.Fatal("expected no recommendation fetch after close")
	}
}
