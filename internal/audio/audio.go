package audio

import "strings"

const (
	DefaultRecordingName = "recording.webm"
	DefaultRecordingMime = "audio/webm"
)

// Artifact is a finished audio payload ready for preview or submission.
type Artifact struct {
	Data     []byte
	MimeType string
	Name     string
}

// Size returns the payload length in bytes.
func (a Artifact) Size() int {
	return len(a.Data)
}

// Empty reports whether the artifact carries no audio bytes.
func (a Artifact) Empty() bool {
	return len(a.Data) == 0
}

// File is a raw user file selection as handed over by the presentation layer.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// IsAudio reports whether the MIME type names an audio container. WebM and
// Ogg are accepted under their video/* and application/* spellings too since
// sniffers cannot tell audio-only files apart.
func IsAudio(mimeType string) bool {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	switch {
	case strings.HasPrefix(base, "audio/"):
		return true
	case base == "video/webm", base == "application/ogg", base == "video/ogg":
		return true
	}
	return false
}
