package recommend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loqalabs/loqa-coach/internal/analysis"
	"github.com/loqalabs/loqa-coach/internal/backend"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func primary(t *testing.T) analysis.Result {
	t.Helper()
	obj, err := analysis.DecodeObject([]byte(`{"original_text":"hi","corrected_text":"Hi!","pronunciation_score":7,"grammar_score":8}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return analysis.ParseResult(obj)
}

func serve(t *testing.T, status int, body string) *backend.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user_id") != "kinjal01" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return backend.NewClient(srv.URL, nil)
}

func TestFetchAndMergeAddsRecommendationOnly(t *testing.T) {
	a := NewAugmenter(serve(t, http.StatusOK, `{"recommendation":"Practice past tense"}`), time.Second, newLogger())
	before := primary(t)
	after, err := a.FetchAndMerge(context.Background(), "kinjal01", before)
	if err != nil {
		t.Fatalf("fetch and merge: %v", err)
	}
	if after.Recommendation.String() != "Practice past tense" {
		t.Fatalf("unexpected recommendation %q", after.Recommendation.String())
	}
	if after.WithRecommendation(analysis.Value{}) != before {
		t.Fatalf("expected analysis fields untouched: before=%+v after=%+v", before, after)
	}
	if before.Recommendation.Available() {
		t.Fatal("expected input result not mutated")
	}
}

func TestFetchAndMergeMessageFallback(t *testing.T) {
	a := NewAugmenter(serve(t, http.StatusOK, `{"message":"Review articles"}`), time.Second, newLogger())
	after, err := a.FetchAndMerge(context.Background(), "kinjal01", primary(t))
	if err != nil {
		t.Fatalf("fetch and merge: %v", err)
	}
	if after.Recommendation.String() != "Review articles" {
		t.Fatalf("unexpected recommendation %q", after.Recommendation.String())
	}
}

func TestFetchAndMergeFailuresKeepResult(t *testing.T) {
	cases := map[string]*backend.Client{
		"server error": serve(t, http.StatusInternalServerError, `boom`),
		"not found":    serve(t, http.StatusNotFound, ``),
		"empty body":   serve(t, http.StatusOK, ``),
	}
	for name, client := range cases {
		t.Run(name, func(t *testing.T) {
			a := NewAugmenter(client, time.Second, newLogger())
			before := primary(t)
			after, err := a.FetchAndMerge(context.Background(), "kinjal01", before)
			if !errors.Is(err, ErrAugmentationFailed) {
				t.Fatalf("expected ErrAugmentationFailed, got %v", err)
			}
			if after != before {
				t.Fatalf("expected result unchanged, got %+v", after)
			}
		})
	}
}

func TestFetchAndMergeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	a := NewAugmenter(backend.NewClient(srv.URL, nil), 20*time.Millisecond, newLogger())
	_, err := a.FetchAndMerge(context.Background(), "kinjal01", primary(t))
	if !errors.Is(err, ErrAugmentationFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout failure, got %v", err)
	}
}
