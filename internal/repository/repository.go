package repository

import (
	"context"

	"github.com/utafrali/accounts/internal/domain"
)

// UserRepository persists users. Every read excludes soft-deleted users;
// only SoftDelete and Restore address rows regardless of deleted_at.
type UserRepository interface {
	// Create inserts u. A duplicate email yields an AlreadyExists error.
	Create(ctx context.Context, u *domain.User) error

	GetByID(ctx context.Context, id string) (*domain.User, error)

	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// List returns one page of active users and the total match count, read
	// from a single snapshot.
	List(ctx context.Context, filter domain.ListUsersFilter) ([]domain.UserSummary, int, error)

	// Update applies a partial update to an active user and returns the
	// stored row.
	Update(ctx context.Context, id string, update domain.UserUpdate) (*domain.User, error)

	// SoftDelete marks an active user deleted. Missing or already deleted
	// users yield ErrNotFound.
	SoftDelete(ctx context.Context, id string) error

	// Restore clears deleted_at. Restoring an active user is a no-op; a
	// missing id yields ErrNotFound.
	Restore(ctx context.Context, id string) error
}

// RefreshTokenRepository persists refresh tokens keyed by the digest of the
// bearer value.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *domain.RefreshToken) error

	// GetByHash yields ErrNotFound when no token has the given digest.
	GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)

	// Delete removes a token. Deleting an absent token succeeds.
	Delete(ctx context.Context, tokenHash string) error

	// Rotate atomically deletes oldHash and stores next. If oldHash no
	// longer exists nothing is stored and ErrNotFound is returned.
	Rotate(ctx context.Context, oldHash string, next *domain.RefreshToken) error

	// DeleteByUserID removes every token of a user.
	DeleteByUserID(ctx context.Context, userID string) error
}
