package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"github.com/carechat/internal/logger"
)

// messageWriter: часть kafka.Writer, которой пользуется KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher пишет события в топик, ключ: chatId (порядок событий внутри чата сохраняется).
// Circuit breaker отсекает запись, пока брокер недоступен.
type KafkaPublisher struct {
	writer  messageWriter
	breaker *gobreaker.CircuitBreaker
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newKafkaPublisher(w)
}

func newKafkaPublisher(w messageWriter) *KafkaPublisher {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-chat-events",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Infof("events: breaker %s %s -> %s", name, from, to)
		},
	})
	return &KafkaPublisher{writer: w, breaker: cb}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	defer logger.DeferLogDuration("events.Publish", time.Now())()
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events marshal: %w", err)
	}
	_, err = p.breaker.Execute(func() (any, error) {
		return nil, p.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(e.ChatID),
			Value: value,
			Time:  e.OccurredAt,
			Headers: []kafka.Header{
				{Key: "event-type", Value: []byte(e.Type)},
			},
		})
	})
	if err != nil {
		return fmt.Errorf("events publish %s: %w", e.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
