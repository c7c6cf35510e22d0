package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
	hits int
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.hits++
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisherKeysByChat(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := p.Publish(context.Background(), Event{Type: TypeMessageSent, ChatID: "chat-1", ActorID: "u1", MessageID: "m1", OccurredAt: at})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "chat-1", string(msg.Key))
	assert.Equal(t, "event-type", msg.Headers[0].Key)
	assert.Equal(t, string(TypeMessageSent), string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "m1", decoded.MessageID)
	assert.True(t, decoded.OccurredAt.Equal(at))
}

func TestKafkaPublisherBreakerOpensAfterFailures(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newKafkaPublisher(w)

	for i := 0; i < 5; i++ {
		assert.Error(t, p.Publish(context.Background(), Event{Type: TypeChatSeen, ChatID: "c"}))
	}
	err := p.Publish(context.Background(), Event{Type: TypeChatSeen, ChatID: "c"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 5, w.hits)
}
