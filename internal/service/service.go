package service

import (
	"context"

	"github.com/utafrali/accounts/internal/domain"
)

// PasswordHasher hashes and verifies credentials. *auth.PasswordHasher
// implements it.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// TokenIssuer mints access tokens. *auth.JWTManager implements it.
type TokenIssuer interface {
	GenerateAccessToken(userID, email string) (string, error)
}

// EventPublisher announces user lifecycle changes.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, u *domain.User) error
	PublishUserUpdated(ctx context.Context, u *domain.User) error
	PublishUserDeleted(ctx context.Context, id string) error
	PublishUserRestored(ctx context.Context, id string) error
}
