package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-coach/internal/audio"
	"github.com/loqalabs/loqa-coach/internal/input"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSubmitTimeout bounds the primary analysis request.
const DefaultSubmitTimeout = 240 * time.Second

var (
	// ErrNoInputSelected is returned by Submit when nothing is pending.
	ErrNoInputSelected = errors.New("no audio input selected")
	// ErrSubmissionFailed wraps every primary request failure.
	ErrSubmissionFailed = errors.New("submission failed")
)

// Processor performs the primary analysis request.
type Processor interface {
	ProcessAudio(ctx context.Context, artifact audio.Artifact, userID string) ([]byte, error)
}

// Pipeline packages a pending input with the user identity, sends it for
// analysis and resolves the response into a Result.
type Pipeline struct {
	processor Processor
	timeout   time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer
}

func NewPipeline(processor Processor, timeout time.Duration, logger *slog.Logger) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultSubmitTimeout
	}
	return &Pipeline{
		processor: processor,
		timeout:   timeout,
		logger:    logger.With(slog.String("component", "submission")),
		tracer:    otel.Tracer("github.com/loqalabs/loqa-coach/internal/analysis"),
	}
}

// Submit runs the primary request. Caller cancellation does not abort an
// in-flight request; only the pipeline timeout does.
func (p *Pipeline) Submit(ctx context.Context, pending *input.Pending, userID string) (Result, error) {
	if pending == nil {
		return Result{}, ErrNoInputSelected
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	ctx, span := p.tracer.Start(ctx, "analysis.submit", trace.WithAttributes(
		attribute.String("audio.name", pending.Artifact.Name),
		attribute.String("audio.mime_type", pending.Artifact.MimeType),
		attribute.Int("audio.bytes", pending.Artifact.Size()),
	))
	defer span.End()

	start := time.Now()
	body, err := p.processor.ProcessAudio(ctx, pending.Artifact, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "process-audio failed")
		p.logger.Warn("primary analysis request failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
		return Result{}, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}

	obj, err := DecodeObject(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed response")
		p.logger.Warn("primary analysis response malformed", slog.String("error", err.Error()))
		return Result{}, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}

	result := ParseResult(obj)
	for name, v := range map[string]Value{
		"original_text":       result.OriginalText,
		"corrected_text":      result.CorrectedText,
		"pronunciation_score": result.PronunciationScore,
		"grammar_score":       result.GrammarScore,
	} {
		if !v.Available() {
			p.logger.Debug("analysis field unavailable", slog.String("field", name))
		}
	}
	p.logger.Info("analysis complete", slog.Duration("latency", time.Since(start)))
	return result, nil
}
