// Package report ships round reports off the node as JSON envelopes over
// NATS JetStream.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dlobba/lwb-cc2538/go/internal/round"
)

const EventRoundCompleted = "RoundCompleted"

// Envelope wraps one event on the wire.
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	RunID     string          `json:"runId"`
	NodeID    uint16          `json:"nodeId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Publisher delivers envelopes.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// NewRoundEnvelope wraps a round report with a fresh event id.
func NewRoundEnvelope(runID uuid.UUID, r round.Report, at time.Time) (Envelope, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal round report: %w", err)
	}
	return Envelope{
		EventID:   uuid.New().String(),
		EventType: EventRoundCompleted,
		RunID:     runID.String(),
		NodeID:    r.NodeID,
		Timestamp: at.UTC(),
		Payload:   payload,
	}, nil
}

// Report decodes the round report carried by a RoundCompleted envelope.
func (e Envelope) Report() (round.Report, error) {
	var r round.Report
	if e.EventType != EventRoundCompleted {
		return r, fmt.Errorf("unexpected event type %q", e.EventType)
	}
	if err := json.Unmarshal(e.Payload, &r); err != nil {
		return r, fmt.Errorf("unmarshal round report: %w", err)
	}
	return r, nil
}

// NoOpPublisher drops everything, for runs without a broker.
type NoOpPublisher struct{}

func (NoOpPublisher) Publish(context.Context, Envelope) error { return nil }
