package input

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-coach/internal/audio"
)

// Pending is the single audio input waiting to be submitted.
type Pending struct {
	Artifact audio.Artifact
	Preview  Preview
}

// Resolver normalizes recordings and file selections into one Pending input.
// Installing a new input releases the previous preview handle first.
type Resolver struct {
	previewer Previewer
	logger    *slog.Logger

	mu      sync.Mutex
	current *Pending
}

func NewResolver(previewer Previewer, logger *slog.Logger) *Resolver {
	return &Resolver{
		previewer: previewer,
		logger:    logger.With(slog.String("component", "input")),
	}
}

// FromRecording installs a finished capture as the pending input.
func (r *Resolver) FromRecording(artifact audio.Artifact) (*Pending, error) {
	return r.install(artifact)
}

// FromFileSelection installs a user-selected file. A nil file (cancelled
// picker) leaves the current input untouched and returns it.
func (r *Resolver) FromFileSelection(file *audio.File) (*Pending, error) {
	if file == nil {
		return r.Current(), nil
	}
	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = mimetype.Detect(file.Data).String()
	}
	if !audio.IsAudio(mimeType) {
		r.logger.Warn("selected file does not look like audio",
			slog.String("name", file.Name), slog.String("mime_type", mimeType))
	}
	name := file.Name
	if name == "" {
		name = "upload"
		if m := mimetype.Lookup(mimeType); m != nil {
			name += m.Extension()
		}
	}
	return r.install(audio.Artifact{
		Data:     append([]byte(nil), file.Data...),
		MimeType: mimeType,
		Name:     name,
	})
}

func (r *Resolver) install(artifact audio.Artifact) (*Pending, error) {
	preview, err := r.previewer.Create(artifact)
	if err != nil {
		return nil, fmt.Errorf("create preview: %w", err)
	}
	if d, ok := probeDuration(artifact); ok {
		preview.Duration = d
	}
	next := &Pending{Artifact: artifact, Preview: preview}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked()
	r.current = next
	r.logger.Debug("pending input replaced",
		slog.String("name", artifact.Name),
		slog.String("preview", preview.URI),
		slog.Int("bytes", artifact.Size()))
	return next, nil
}

// Current returns the live pending input, or nil.
func (r *Resolver) Current() *Pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Close releases the live preview handle.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked()
}

func (r *Resolver) releaseLocked() {
	if r.current == nil {
		return
	}
	if err := r.previewer.Release(r.current.Preview); err != nil {
		r.logger.Warn("failed to release preview", slog.String("error", err.Error()))
	}
	r.current = nil
}

func probeDuration(artifact audio.Artifact) (time.Duration, bool) {
	if !mimetype.Detect(artifact.Data).Is("audio/wav") {
		return 0, false
	}
	dec := wav.NewDecoder(bytes.NewReader(artifact.Data))
	if !dec.IsValidFile() {
		return 0, false
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, false
	}
	return d, true
}

// LoadFile reads a file from disk as a selection.
func LoadFile(path string) (*audio.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}
	return &audio.File{
		Name:     filepath.Base(path),
		MimeType: mimetype.Detect(data).String(),
		Data:     data,
	}, nil
}
