// Package events mirrors pipeline events to an external NATS subject so CI
// dashboards can follow long builds. Publishing is best effort: the
// pipeline never fails because an event could not be delivered.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher delivers pipeline events to interested external systems.
type Publisher interface {
	Publish(eventType, runID string, fields map[string]string)
	Close()
}

// NoopPublisher discards all events (default when events are not
// configured).
type NoopPublisher struct{}

func (NoopPublisher) Publish(string, string, map[string]string) {}
func (NoopPublisher) Close()                                    {}

// envelope is the wire format of a published event.
type envelope struct {
	Type      string            `json:"type"`
	RunID     string            `json:"run_id"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// NATSPublisher publishes events to a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	log     *slog.Logger
}

// NewNATSPublisher connects to NATS and returns a publisher for the given
// subject.
func NewNATSPublisher(url, subject string, log *slog.Logger) (*NATSPublisher, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := nats.Connect(url, nats.Name("packforge"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	log.Info("event publisher connected", "url", url, "subject", subject)
	return &NATSPublisher{conn: conn, subject: subject, log: log}, nil
}

// Publish sends one event. Failures are logged, never returned.
func (p *NATSPublisher) Publish(eventType, runID string, fields map[string]string) {
	data, err := json.Marshal(envelope{
		Type:      eventType,
		RunID:     runID,
		Timestamp: time.Now(),
		Fields:    fields,
	})
	if err != nil {
		p.log.Warn("failed to encode event", "type", eventType, "error", err)
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		p.log.Warn("failed to publish event", "type", eventType, "error", err)
	}
}

// Close flushes and closes the connection.
func (p *NATSPublisher) Close() {
	_ = p.conn.Flush()
	p.conn.Close()
}
