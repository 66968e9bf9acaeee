package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-coach/internal/analysis"
	"github.com/loqalabs/loqa-coach/internal/backend"
	"github.com/loqalabs/loqa-coach/internal/capture"
	"github.com/loqalabs/loqa-coach/internal/config"
	"github.com/loqalabs/loqa-coach/internal/input"
	"github.com/loqalabs/loqa-coach/internal/recommend"
	"github.com/loqalabs/loqa-coach/internal/session"
	"go.opentelemetry.io/otel"
)

// NewStore assembles a session store from configuration.
func NewStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*session.Store, error) {
	device, err := newDevice(cfg.Capture, logger)
	if err != nil {
		return nil, err
	}
	previewer, err := newPreviewer(cfg.Preview)
	if err != nil {
		return nil, err
	}

	client := backend.NewClient(cfg.Backend.BaseURL, &http.Client{})
	pipeline := analysis.NewPipeline(client, time.Duration(cfg.Backend.SubmitTimeoutMS)*time.Millisecond, logger)
	augmenter := recommend.NewAugmenter(client, time.Duration(cfg.Backend.RecommendTimeoutMS)*time.Millisecond, logger)

	store := session.New(ctx, session.Options{
		Device:        device,
		RecordingName: cfg.Capture.FileName,
		RecordingMime: cfg.Capture.MimeType,
		Resolver:      input.NewResolver(previewer, logger),
		Submitter:     pipeline,
		Augmenter:     augmenter,
		UserID:        cfg.User.DefaultID,
		Logger:        logger,
		Meter:         otel.Meter("github.com/loqalabs/loqa-coach/session"),
	})
	return store, nil
}

func newDevice(cfg config.CaptureConfig, logger *slog.Logger) (capture.Device, error) {
	switch cfg.Mode {
	case "", "mock":
		return capture.NewMockDevice(cfg.ChunkBytes, time.Duration(cfg.FrameIntervalMS)*time.Millisecond), nil
	case "exec":
		return capture.NewExecDevice(cfg.Command, cfg.ChunkBytes, logger)
	default:
		return nil, fmt.Errorf("unsupported capture mode %q", cfg.Mode)
	}
}

func newPreviewer(cfg config.PreviewConfig) (input.Previewer, error) {
	switch cfg.Mode {
	case "", "file":
		return input.NewFilePreviewer(cfg.Directory)
	case "memory":
		return input.NewMemoryPreviewer(), nil
	default:
		return nil, fmt.Errorf("unsupported preview mode %q", cfg.Mode)
	}
}
