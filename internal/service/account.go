package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/accounts/internal/domain"
	"github.com/utafrali/accounts/internal/repository"
	apperrors "github.com/utafrali/accounts/pkg/errors"
	"github.com/utafrali/accounts/pkg/pagination"
	"github.com/utafrali/accounts/pkg/validator"
)

// RegisterInput holds the parameters for registering a user.
type RegisterInput struct {
	Name     string `json:"name" validate:"required,min=4"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,password"`
}

// UpdateUserInput holds a partial update. Nil fields are left unchanged.
type UpdateUserInput struct {
	Name  *string `json:"name" validate:"omitempty,min=4"`
	Email *string `json:"email" validate:"omitempty,email"`
}

// AccountService manages user accounts.
type AccountService struct {
	users  repository.UserRepository
	tokens repository.RefreshTokenRepository
	hasher PasswordHasher
	events EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

func NewAccountService(
	users repository.UserRepository,
	tokens repository.RefreshTokenRepository,
	hasher PasswordHasher,
	events EventPublisher,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		users:  users,
		tokens: tokens,
		hasher: hasher,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// Register creates a user with a hashed password.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	if err := validator.Validate(input); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Name:         input.Name,
		Email:        input.Email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return nil, err
		}
		s.logger.WarnContext(ctx, "user creation failed", slog.String("error", err.Error()))
		return nil, apperrors.InvalidInput(err.Error())
	}

	if err := s.events.PublishUserRegistered(ctx, user); err != nil {
		s.logPublishFailure(ctx, "user.registered", user.ID, err)
	}

	s.logger.InfoContext(ctx, "user registered", slog.String("user_id", user.ID))
	return user, nil
}

// GetProfile returns the caller's own active user.
func (s *AccountService) GetProfile(ctx context.Context, subjectID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("user", subjectID)
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return user, nil
}

// ListUsers returns one page of active users.
func (s *AccountService) ListUsers(ctx context.Context, filter domain.ListUsersFilter) (*pagination.Page[domain.UserSummary], error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}

	items, total, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return pagination.NewPage(items, total, filter.Params()), nil
}

// UpdateUser changes the name and/or email of an active user.
func (s *AccountService) UpdateUser(ctx context.Context, id string, input UpdateUserInput) (*domain.User, error) {
	if err := validator.Validate(input); err != nil {
		return nil, err
	}
	update := domain.UserUpdate{Name: input.Name, Email: input.Email}
	if update.Empty() {
		return nil, apperrors.InvalidInput("at least one of name or email must be provided")
	}

	user, err := s.users.Update(ctx, id, update)
	if err != nil {
		return nil, err
	}

	if err := s.events.PublishUserUpdated(ctx, user); err != nil {
		s.logPublishFailure(ctx, "user.updated", user.ID, err)
	}

	s.logger.InfoContext(ctx, "user updated", slog.String("user_id", user.ID))
	return user, nil
}

// DeleteUser soft-deletes an active user and ends all of their sessions.
func (s *AccountService) DeleteUser(ctx context.Context, id string) error {
	if err := s.users.SoftDelete(ctx, id); err != nil {
		return err
	}

	// Refresh already rejects tokens of deleted users, so a failure here
	// only leaves unusable rows behind.
	if err := s.tokens.DeleteByUserID(ctx, id); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke refresh tokens of deleted user",
			slog.String("user_id", id),
			slog.String("error", err.Error()),
		)
	}

	if err := s.events.PublishUserDeleted(ctx, id); err != nil {
		s.logPublishFailure(ctx, "user.deleted", id, err)
	}

	s.logger.InfoContext(ctx, "user deleted", slog.String("user_id", id))
	return nil
}

// RestoreUser clears the deletion mark of a user and returns its id.
func (s *AccountService) RestoreUser(ctx context.Context, id string) (string, error) {
	if err := s.users.Restore(ctx, id); err != nil {
		return "", err
	}

	if err := s.events.PublishUserRestored(ctx, id); err != nil {
		s.logPublishFailure(ctx, "user.restored", id, err)
	}

	s.logger.InfoContext(ctx, "user restored", slog.String("user_id", id))
	return id, nil
}

func (s *AccountService) logPublishFailure(ctx context.Context, eventType, userID string, err error) {
	s.logger.ErrorContext(ctx, "failed to publish event",
		slog.String("event_type", eventType),
		slog.String("user_id", userID),
		slog.String("error", err.Error()),
	)
}
