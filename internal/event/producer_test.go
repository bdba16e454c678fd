package event

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/accounts/internal/domain"
	"github.com/utafrali/accounts/pkg/kafka"
	"github.com/utafrali/accounts/pkg/logger"
)

type published struct {
	topic string
	event *kafka.Event
}

type fakeWriter struct {
	sent []published
	err  error
}

func (w *fakeWriter) Publish(_ context.Context, topic string, e *kafka.Event) error {
	if w.err != nil {
		return w.err
	}
	w.sent = append(w.sent, published{topic: topic, event: e})
	return nil
}

func TestProducer_PublishUserRegistered(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducer(w)
	ctx := logger.WithCorrelationID(context.Background(), "corr-1")

	u := &domain.User{ID: "u-1", Name: "Alice", Email: "alice@example.com", PasswordHash: "secret"}
	require.NoError(t, p.PublishUserRegistered(ctx, u))

	require.Len(t, w.sent, 1)
	got := w.sent[0]
	assert.Equal(t, TopicUserRegistered, got.topic)
	assert.Equal(t, "u-1", got.event.AggregateID)
	assert.Equal(t, AggregateTypeUser, got.event.AggregateType)
	assert.Equal(t, "corr-1", got.event.CorrelationID)
	assert.NotContains(t, string(got.event.Data), "secret")

	var data UserData
	require.NoError(t, got.event.UnmarshalData(&data))
	assert.Equal(t, "alice@example.com", data.Email)
	assert.Equal(t, "Alice", data.Name)
}

func TestProducer_Topics(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducer(w)
	ctx := context.Background()
	u := &domain.User{ID: "u-1"}

	require.NoError(t, p.PublishUserUpdated(ctx, u))
	require.NoError(t, p.PublishUserDeleted(ctx, "u-1"))
	require.NoError(t, p.PublishUserRestored(ctx, "u-1"))

	require.Len(t, w.sent, 3)
	assert.Equal(t, TopicUserUpdated, w.sent[0].topic)
	assert.Equal(t, TopicUserDeleted, w.sent[1].topic)
	assert.Equal(t, TopicUserRestored, w.sent[2].topic)
	assert.Empty(t, w.sent[1].event.CorrelationID)

	var ref UserRefData
	require.NoError(t, w.sent[2].event.UnmarshalData(&ref))
	assert.Equal(t, "u-1", ref.ID)
}

func TestProducer_WriterError(t *testing.T) {
	p := NewProducer(&fakeWriter{err: errors.New("broker down")})

	err := p.PublishUserDeleted(context.Background(), "u-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish accounts.user.deleted event")
}

func TestNopPublisher(t *testing.T) {
	var n NopPublisher
	ctx := context.Background()
	assert.NoError(t, n.PublishUserRegistered(ctx, &domain.User{}))
	assert.NoError(t, n.PublishUserUpdated(ctx, &domain.User{}))
	assert.NoError(t, n.PublishUserDeleted(ctx, "x"))
	assert.NoError(t, n.PublishUserRestored(ctx, "x"))
}
