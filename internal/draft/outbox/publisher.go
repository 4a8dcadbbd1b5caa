package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

const streamName = "DRAFT_EVENTS"

// LogPublisher writes events to the log instead of a broker. Used in
// development and tests.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, rec Record) error {
	p.logger.Info("publishing event",
		slog.String("record_id", rec.ID.String()),
		slog.String("event_type", rec.EventType),
		slog.String("draft_id", rec.DraftID.String()))
	return nil
}

// NATSPublisher publishes events to a NATS JetStream stream. The record
// id doubles as the JetStream message id, so redelivered records dedupe
// on the broker side.
type NATSPublisher struct {
	nc            *nats.Conn
	js            nats.JetStreamContext
	subjectPrefix string
	logger        *slog.Logger
}

// NewNATSPublisher connects to NATS and ensures the stream exists.
func NewNATSPublisher(url, subjectPrefix string, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("blockdraft-outbox"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	if _, err := js.StreamInfo(streamName); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     streamName,
			Subjects: []string{subjectPrefix + ".>"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream %s: %w", streamName, err)
		}
	}

	return &NATSPublisher{
		nc:            nc,
		js:            js,
		subjectPrefix: subjectPrefix,
		logger:        logger,
	}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, rec Record) error {
	subject := fmt.Sprintf("%s.%s", p.subjectPrefix, rec.EventType)

	envelope := map[string]any{
		"eventId":   rec.ID.String(),
		"eventType": rec.EventType,
		"draftId":   rec.DraftID.String(),
		"timestamp": rec.CreatedAt,
		"payload":   json.RawMessage(rec.Payload),
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	_, err = p.js.Publish(subject, data, nats.MsgId(rec.ID.String()), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.logger.Debug("published event",
		slog.String("subject", subject),
		slog.String("record_id", rec.ID.String()))
	return nil
}

// Close drains the connection, flushing pending publishes.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
