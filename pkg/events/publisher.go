package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/cognitriage/console/pkg/common/logger"
)

// Lifecycle event types emitted to the audit topic.
const (
	TypeJobSubmitted  = "job.submitted"
	TypeJobStatus     = "job.status"
	TypeJobCompleted  = "job.completed"
	TypeJobFailed     = "job.failed"
	TypeSessionReset  = "session.reset"
	TypeSessionClosed = "session.closed"
)

type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
	JobID     string                 `json:"job_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Publisher records job lifecycle transitions. Publishing is best effort:
// failures are logged and never block the pipeline.
type Publisher interface {
	Publish(ctx context.Context, event Event)
	Close() error
}

type kafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher writes lifecycle events to the given topic.
func NewKafkaPublisher(brokers []string, topic string) Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &kafkaPublisher{writer: writer}
}

func (p *kafkaPublisher) Publish(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		logger.Log.WithError(err).Error("Failed to marshal lifecycle event")
		return
	}

	message := kafka.Message{
		Key:   []byte(event.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "session-id", Value: []byte(event.SessionID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"event_type": event.Type,
			"job_id":     event.JobID,
		}).Error("Failed to publish lifecycle event")
		return
	}

	logger.Log.WithFields(map[string]interface{}{
		"event_type": event.Type,
		"job_id":     event.JobID,
		"topic":      p.writer.Topic,
	}).Debug("Lifecycle event published")
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}

type noopPublisher struct{}

// NewNoop returns a publisher that drops everything, used when no brokers
// are configured.
func NewNoop() Publisher {
	return noopPublisher{}
}

func (noopPublisher) Publish(context.Context, Event) {}
func (noopPublisher) Close() error                   { return nil }
