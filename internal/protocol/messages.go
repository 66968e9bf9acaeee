package protocol

import (
	"encoding/json"
	"time"
)

// SessionState is a session snapshot broadcast to observers on the bus.
type SessionState struct {
	RuntimeName string          `json:"runtime_name"`
	Version     uint64          `json:"version"`
	Timestamp   time.Time       `json:"timestamp"`
	Snapshot    json.RawMessage `json:"snapshot"`
}

// SessionAlert carries a user-facing failure notification.
type SessionAlert struct {
	RuntimeName string    `json:"runtime_name"`
	Version     uint64    `json:"version"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	SubjectSessionState = "session.state"
	SubjectSessionAlert = "session.alert"
)

// Subject joins a configured prefix and a subject suffix.
func Subject(prefix, suffix string) string {
	if prefix == "" {
		return suffix
	}
	return prefix + "." + suffix
}
