package bus

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-coach/internal/protocol"
	"github.com/loqalabs/loqa-coach/internal/session"
)

// Publisher fans session snapshots out on the bus.
type Publisher struct {
	client      *Client
	runtimeName string
	stateSubj   string
	alertSubj   string
	lastAlert   *session.Alert
}

func NewPublisher(client *Client, runtimeName, subjectPrefix string) *Publisher {
	return &Publisher{
		client:      client,
		runtimeName: runtimeName,
		stateSubj:   protocol.Subject(subjectPrefix, protocol.SubjectSessionState),
		alertSubj:   protocol.Subject(subjectPrefix, protocol.SubjectSessionAlert),
	}
}

// Attach subscribes the publisher to store and returns the detach function.
func (p *Publisher) Attach(store *session.Store) func() {
	return store.Subscribe(p.Publish)
}

// Publish broadcasts one snapshot. A newly raised alert is also published on
// the alert subject. Snapshots arrive in order, so lastAlert needs no lock.
func (p *Publisher) Publish(snap session.Snapshot) {
	now := time.Now().UTC()
	body, err := json.Marshal(snap)
	if err != nil {
		p.client.Logger().Warn("failed to marshal session snapshot", slogError(err))
		return
	}
	p.publish(p.stateSubj, protocol.SessionState{
		RuntimeName: p.runtimeName,
		Version:     snap.Version,
		Timestamp:   now,
		Snapshot:    body,
	})

	if snap.Alert != nil && snap.Alert != p.lastAlert {
		p.publish(p.alertSubj, protocol.SessionAlert{
			RuntimeName: p.runtimeName,
			Version:     snap.Version,
			Kind:        string(snap.Alert.Kind),
			Message:     snap.Alert.Message,
			Timestamp:   now,
		})
	}
	p.lastAlert = snap.Alert
}

func (p *Publisher) publish(subject string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.client.Logger().Warn("failed to marshal bus message", slogError(err))
		return
	}
	if err := p.client.Conn().Publish(subject, data); err != nil {
		p.client.Logger().Warn("failed to publish bus message", slog.String("subject", subject), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
