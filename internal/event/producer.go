package event

import (
	"context"
	"fmt"
	"time"

	"github.com/utafrali/accounts/internal/domain"
	"github.com/utafrali/accounts/pkg/kafka"
	"github.com/utafrali/accounts/pkg/logger"
)

// Kafka topics for user domain events.
const (
	TopicUserRegistered = "accounts.user.registered"
	TopicUserUpdated    = "accounts.user.updated"
	TopicUserDeleted    = "accounts.user.deleted"
	TopicUserRestored   = "accounts.user.restored"
)

const (
	AggregateTypeUser = "user"
	Source            = "accounts"
)

// UserData is the payload of user.registered and user.updated.
type UserData struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserRefData is the payload of user.deleted and user.restored.
type UserRefData struct {
	ID string `json:"id"`
}

// Writer publishes an envelope to a topic. *kafka.Producer implements it.
type Writer interface {
	Publish(ctx context.Context, topic string, event *kafka.Event) error
}

// Producer publishes user domain events.
type Producer struct {
	writer Writer
}

func NewProducer(w Writer) *Producer {
	return &Producer{writer: w}
}

func (p *Producer) PublishUserRegistered(ctx context.Context, u *domain.User) error {
	return p.publish(ctx, TopicUserRegistered, u.ID, userData(u))
}

func (p *Producer) PublishUserUpdated(ctx context.Context, u *domain.User) error {
	return p.publish(ctx, TopicUserUpdated, u.ID, userData(u))
}

func (p *Producer) PublishUserDeleted(ctx context.Context, id string) error {
	return p.publish(ctx, TopicUserDeleted, id, UserRefData{ID: id})
}

func (p *Producer) PublishUserRestored(ctx context.Context, id string) error {
	return p.publish(ctx, TopicUserRestored, id, UserRefData{ID: id})
}

func (p *Producer) publish(ctx context.Context, topic, userID string, data any) error {
	evt, err := kafka.NewEvent(topic, userID, AggregateTypeUser, Source, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}
	if err := p.writer.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}

func userData(u *domain.User) UserData {
	return UserData{ID: u.ID, Name: u.Name, Email: u.Email, UpdatedAt: u.UpdatedAt}
}

// NopPublisher discards events. It is used when event publishing is
// disabled.
type NopPublisher struct{}

func (NopPublisher) PublishUserRegistered(context.Context, *domain.User) error { return nil }
func (NopPublisher) PublishUserUpdated(context.Context, *domain.User) error    { return nil }
func (NopPublisher) PublishUserDeleted(context.Context, string) error          { return nil }
func (NopPublisher) PublishUserRestored(context.Context, string) error         { return nil }
