// Package events publishes lifecycle events from the outbox to Kafka for the
// notification, email and UI consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/logger"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	topic  string
	writer messageWriter
}

// NewProducer writes to topic with the booking id as key, so every event of a
// booking lands on the same partition in order.
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{topic: topic, writer: writer}
}

func newProducerWithWriter(topic string, w messageWriter) *Producer {
	return &Producer{topic: topic, writer: w}
}

// message is the wire shape consumers read.
type message struct {
	ID         string            `json:"id"`
	Type       domain.EventType  `json:"type"`
	BookingID  string            `json:"booking_id"`
	PriorState string            `json:"prior_state,omitempty"`
	NewState   string            `json:"new_state"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Publish writes evts in one batch. Either the whole batch is acknowledged or
// an error is returned and the caller retries all of it.
func (p *Producer) Publish(ctx context.Context, evts []domain.Event) error {
	if len(evts) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(evts))
	for _, e := range evts {
		data, err := json.Marshal(message{
			ID:         e.ID,
			Type:       e.Type,
			BookingID:  e.BookingID,
			PriorState: string(e.PriorState),
			NewState:   string(e.NewState),
			OccurredAt: e.OccurredAt,
			Attributes: e.Attributes,
		})
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.BookingID),
			Value: data,
			Time:  e.OccurredAt,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(e.Type)},
			},
		})
	}

	logger.ExternalServiceCall("kafka", "WriteMessages", "topic", p.topic, "count", len(msgs))
	err := p.writer.WriteMessages(ctx, msgs...)
	logger.ExternalServiceResult("kafka", "WriteMessages", err, "topic", p.topic)
	if err != nil {
		return fmt.Errorf("write events to %s: %w", p.topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
