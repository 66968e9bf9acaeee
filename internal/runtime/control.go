package runtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-coach/internal/analysis"
	"github.com/loqalabs/loqa-coach/internal/audio"
	"github.com/loqalabs/loqa-coach/internal/capture"
	"github.com/loqalabs/loqa-coach/internal/session"
)

const maxUploadBytes = 64 << 20

// Control exposes the session store's actions over HTTP.
type Control struct {
	store  *session.Store
	logger *slog.Logger
}

func NewControl(store *session.Store, logger *slog.Logger) *Control {
	return &Control{store: store, logger: logger.With(slog.String("component", "control"))}
}

func (c *Control) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/session", c.handleSession)
	mux.HandleFunc("POST /v1/capture/start", c.handleCaptureStart)
	mux.HandleFunc("POST /v1/capture/stop", c.handleCaptureStop)
	mux.HandleFunc("POST /v1/input", c.handleInput)
	mux.HandleFunc("PUT /v1/user", c.handleUser)
	mux.HandleFunc("POST /v1/submit", c.handleSubmit)
	mux.HandleFunc("GET /v1/preview", c.handlePreview)
}

func (c *Control) handleSession(w http.ResponseWriter, _ *http.Request) {
	c.writeSnapshot(w, http.StatusOK)
}

func (c *Control) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	err := c.store.StartCapture(r.Context())
	switch {
	case err == nil:
		c.writeSnapshot(w, http.StatusOK)
	case errors.Is(err, capture.ErrAlreadyStarted):
		c.writeError(w, http.StatusConflict, err)
	case errors.Is(err, capture.ErrPermissionDenied):
		c.writeError(w, http.StatusForbidden, err)
	default:
		c.writeError(w, http.StatusServiceUnavailable, err)
	}
}

func (c *Control) handleCaptureStop(w http.ResponseWriter, _ *http.Request) {
	if _, err := c.store.StopCapture(); err != nil {
		c.writeError(w, http.StatusInternalServerError, err)
		return
	}
	c.writeSnapshot(w, http.StatusOK)
}

func (c *Control) handleInput(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		// A cancelled picker submits no file part.
		_, _ = c.store.SelectFile(nil)
		c.writeSnapshot(w, http.StatusOK)
		return
	}
	if err != nil {
		c.writeError(w, http.StatusBadRequest, err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.writeError(w, http.StatusBadRequest, err)
		return
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "application/octet-stream" {
		mimeType = ""
	}
	if _, err := c.store.SelectFile(&audio.File{Name: header.Filename, MimeType: mimeType, Data: data}); err != nil {
		c.writeError(w, http.StatusInternalServerError, err)
		return
	}
	c.writeSnapshot(w, http.StatusOK)
}

type userRequest struct {
	UserID string `json:"user_id"`
}

func (c *Control) handleUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		c.writeError(w, http.StatusBadRequest, err)
		return
	}
	c.store.SetUserID(strings.TrimSpace(req.UserID))
	c.writeSnapshot(w, http.StatusOK)
}

func (c *Control) handleSubmit(w http.ResponseWriter, r *http.Request) {
	_, err := c.store.Submit(r.Context())
	switch {
	case err == nil:
		c.writeSnapshot(w, http.StatusOK)
	case errors.Is(err, analysis.ErrNoInputSelected):
		c.writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, session.ErrSubmissionInProgress):
		c.writeError(w, http.StatusConflict, err)
	case errors.Is(err, session.ErrClosed):
		c.writeError(w, http.StatusServiceUnavailable, err)
	default:
		c.writeError(w, http.StatusBadGateway, err)
	}
}

func (c *Control) handlePreview(w http.ResponseWriter, r *http.Request) {
	pending := c.store.Pending()
	if pending == nil {
		http.Error(w, "no pending input", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", pending.Artifact.MimeType)
	http.ServeContent(w, r, pending.Artifact.Name, time.Time{}, bytes.NewReader(pending.Artifact.Data))
}

type errorResponse struct {
	Error   string            `json:"error"`
	Session *session.Snapshot `json:"session"`
}

func (c *Control) writeSnapshot(w http.ResponseWriter, status int) {
	writeJSON(w, status, c.store.Snapshot())
}

func (c *Control) writeError(w http.ResponseWriter, status int, err error) {
	c.logger.Debug("control request failed", slog.Int("status", status), slog.String("error", err.Error()))
	snap := c.store.Snapshot()
	writeJSON(w, status, errorResponse{Error: err.Error(), Session: &snap})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
