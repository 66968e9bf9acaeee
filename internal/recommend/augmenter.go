package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-coach/internal/analysis"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultTimeout = 30 * time.Second

// ErrAugmentationFailed wraps every recommendation failure. It is never shown
// to the user.
var ErrAugmentationFailed = errors.New("recommendation fetch failed")

// Fetcher performs the secondary recommendation request.
type Fetcher interface {
	RecommendLesson(ctx context.Context, userID string) ([]byte, error)
}

// Augmenter adds a best-effort lesson recommendation to an existing result.
type Augmenter struct {
	fetcher Fetcher
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

func NewAugmenter(fetcher Fetcher, timeout time.Duration, logger *slog.Logger) *Augmenter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Augmenter{
		fetcher: fetcher,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "recommend")),
		tracer:  otel.Tracer("github.com/loqalabs/loqa-coach/internal/recommend"),
	}
}

// FetchAndMerge returns current plus the fetched recommendation. On failure
// it returns current unchanged together with an ErrAugmentationFailed error.
func (a *Augmenter) FetchAndMerge(ctx context.Context, userID string, current analysis.Result) (analysis.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	ctx, span := a.tracer.Start(ctx, "recommend.fetch")
	defer span.End()

	body, err := a.fetcher.RecommendLesson(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recommend-lesson failed")
		return current, fmt.Errorf("%w: %w", ErrAugmentationFailed, err)
	}
	rec := analysis.ResolveRecommendation(body)
	if !rec.Available() {
		span.SetStatus(codes.Error, "empty recommendation")
		return current, fmt.Errorf("%w: empty response body", ErrAugmentationFailed)
	}
	a.logger.Debug("recommendation fetched", slog.Int("bytes", len(body)))
	return current.WithRecommendation(rec), nil
}
