package input

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-coach/internal/audio"
)

// Preview is a playback handle for a pending artifact.
type Preview struct {
	URI      string        `json:"uri"`
	MimeType string        `json:"mime_type"`
	Size     int           `json:"size"`
	Duration time.Duration `json:"-"`
}

type previewJSON struct {
	URI        string `json:"uri"`
	MimeType   string `json:"mime_type"`
	Size       int    `json:"size"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// MarshalJSON reports Duration in whole milliseconds as duration_ms.
func (p Preview) MarshalJSON() ([]byte, error) {
	return json.Marshal(previewJSON{
		URI:        p.URI,
		MimeType:   p.MimeType,
		Size:       p.Size,
		DurationMS: p.Duration.Milliseconds(),
	})
}

func (p *Preview) UnmarshalJSON(data []byte) error {
	var raw previewJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Preview{
		URI:      raw.URI,
		MimeType: raw.MimeType,
		Size:     raw.Size,
		Duration: time.Duration(raw.DurationMS) * time.Millisecond,
	}
	return nil
}

// Previewer creates and releases playback handles.
type Previewer interface {
	Create(artifact audio.Artifact) (Preview, error)
	Release(p Preview) error
}

// FilePreviewer writes each artifact to its own file under dir.
type FilePreviewer struct {
	dir string
}

func NewFilePreviewer(dir string) (*FilePreviewer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create preview dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve preview dir: %w", err)
	}
	return &FilePreviewer{dir: abs}, nil
}

func (f *FilePreviewer) Create(artifact audio.Artifact) (Preview, error) {
	name := uuid.NewString() + "-" + sanitizeName(artifact.Name)
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, artifact.Data, 0o600); err != nil {
		return Preview{}, fmt.Errorf("write preview: %w", err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return Preview{URI: u.String(), MimeType: artifact.MimeType, Size: artifact.Size()}, nil
}

func (f *FilePreviewer) Release(p Preview) error {
	path, err := f.Path(p)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove preview: %w", err)
	}
	return nil
}

// Path maps a preview URI back to a file inside the preview directory.
func (f *FilePreviewer) Path(p Preview) (string, error) {
	u, err := url.Parse(p.URI)
	if err != nil || u.Scheme != "file" {
		return "", fmt.Errorf("not a file preview: %q", p.URI)
	}
	path := filepath.FromSlash(u.Path)
	if filepath.Dir(path) != f.dir {
		return "", fmt.Errorf("preview %q outside %s", p.URI, f.dir)
	}
	return path, nil
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "audio"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}

// MemoryPreviewer keeps artifacts in memory behind mem:// handles.
type MemoryPreviewer struct {
	mu   sync.Mutex
	live map[string]audio.Artifact
}

func NewMemoryPreviewer() *MemoryPreviewer {
	return &MemoryPreviewer{live: make(map[string]audio.Artifact)}
}

func (m *MemoryPreviewer) Create(artifact audio.Artifact) (Preview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uri := "mem://" + uuid.NewString()
	m.live[uri] = artifact
	return Preview{URI: uri, MimeType: artifact.MimeType, Size: artifact.Size()}, nil
}

func (m *MemoryPreviewer) Release(p Preview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live[p.URI]; !ok {
		return fmt.Errorf("unknown preview %q", p.URI)
	}
	delete(m.live, p.URI)
	return nil
}

// Live returns the number of unreleased handles.
func (m *MemoryPreviewer) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Lookup returns the artifact behind a live handle.
func (m *MemoryPreviewer) Lookup(uri string) (audio.Artifact, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.live[uri]
	return a, ok
}
