package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/loqalabs/loqa-coach/internal/audio"
)

const (
	processAudioPath    = "/process-audio"
	recommendLessonPath = "/recommend-lesson"

	FieldFile   = "file"
	FieldUserID = "user_id"

	maxResponseBytes = 4 << 20
)

// StatusError reports a non-2xx backend response.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.Code, e.Body)
}

// Client talks to the remote analysis service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for baseURL. Timeouts are applied per call by the
// caller's context; httpClient may be nil.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// ProcessAudio uploads the artifact for transcription, correction and scoring
// and returns the raw response body.
func (c *Client) ProcessAudio(ctx context.Context, artifact audio.Artifact, userID string) ([]byte, error) {
	body, contentType, err := encodeUpload(artifact, userID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+processAudioPath, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	return c.do(req, processAudioPath)
}

// RecommendLesson fetches the lesson recommendation for userID.
func (c *Client) RecommendLesson(ctx context.Context, userID string) ([]byte, error) {
	q := url.Values{}
	q.Set(FieldUserID, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+recommendLessonPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, recommendLessonPath)
}

func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: truncate(strings.TrimSpace(string(data)), 256)}
	}
	return data, nil
}

func encodeUpload(artifact audio.Artifact, userID string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	name := artifact.Name
	if name == "" {
		name = audio.DefaultRecordingName
	}
	mimeType := artifact.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FieldFile, escapeQuotes(name)))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(artifact.Data); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	if err := writer.WriteField(FieldUserID, userID); err != nil {
		return nil, "", fmt.Errorf("write user_id field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
