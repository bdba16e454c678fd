package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/accounts/internal/auth"
	"github.com/utafrali/accounts/internal/domain"
	"github.com/utafrali/accounts/internal/repository"
	apperrors "github.com/utafrali/accounts/pkg/errors"
)

// RequestMeta is the provenance recorded with an issued refresh token.
// Empty fields are stored as NULL.
type RequestMeta struct {
	UserAgent string
	IPAddress string
}

// Session is the outcome of a login or refresh. RefreshToken is the bearer
// value; only its digest is stored.
type Session struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
	RefreshTTL       time.Duration
}

// SessionService runs the login, refresh rotation and logout flows.
type SessionService struct {
	users      repository.UserRepository
	tokens     repository.RefreshTokenRepository
	hasher     PasswordHasher
	issuer     TokenIssuer
	refreshTTL time.Duration
	metrics    *AuthMetrics
	logger     *slog.Logger

	now             func() time.Time
	newRefreshToken func() (string, error)
}

func NewSessionService(
	users repository.UserRepository,
	tokens repository.RefreshTokenRepository,
	hasher PasswordHasher,
	issuer TokenIssuer,
	refreshTTL time.Duration,
	metrics *AuthMetrics,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		users:           users,
		tokens:          tokens,
		hasher:          hasher,
		issuer:          issuer,
		refreshTTL:      refreshTTL,
		metrics:         metrics,
		logger:          logger,
		now:             time.Now,
		newRefreshToken: auth.NewRefreshToken,
	}
}

// Login verifies credentials and opens a session. Unknown email and wrong
// password fail identically with domain.ErrInvalidCredentials.
func (s *SessionService) Login(ctx context.Context, email, password string, meta RequestMeta) (_ *Session, err error) {
	defer func() { s.metrics.observe("login", err) }()

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("login: get user: %w", err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("login: verify password: %w", err)
	}
	if !ok {
		return nil, domain.ErrInvalidCredentials
	}

	session, record, err := s.issue(user, meta)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if err := s.tokens.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("login: store refresh token: %w", err)
	}

	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))
	return session, nil
}

// Refresh exchanges a refresh token for a new session. The presented token
// is consumed: a second presentation fails with domain.ErrInvalidToken.
func (s *SessionService) Refresh(ctx context.Context, presented string, meta RequestMeta) (_ *Session, err error) {
	defer func() { s.metrics.observe("refresh", err) }()

	if presented == "" {
		return nil, domain.ErrNoToken
	}

	oldHash := auth.HashRefreshToken(presented)
	stored, err := s.tokens.GetByHash(ctx, oldHash)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.WarnContext(ctx, "unknown refresh token presented")
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("refresh: get token: %w", err)
	}

	if stored.IsExpired(s.now()) {
		s.discard(ctx, oldHash, stored.UserID)
		return nil, domain.ErrTokenExpired
	}

	user, err := s.users.GetByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.discard(ctx, oldHash, stored.UserID)
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("refresh: get user: %w", err)
	}

	session, next, err := s.issue(user, meta)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	if err := s.tokens.Rotate(ctx, oldHash, next); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.WarnContext(ctx, "refresh token already rotated", slog.String("user_id", user.ID))
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("refresh: rotate token: %w", err)
	}

	s.logger.InfoContext(ctx, "session refreshed", slog.String("user_id", user.ID))
	return session, nil
}

// Logout deletes the presented refresh token if there is one. It never
// fails from the caller's point of view.
func (s *SessionService) Logout(ctx context.Context, presented string) {
	s.metrics.observe("logout", nil)
	if presented == "" {
		return
	}
	if err := s.tokens.Delete(ctx, auth.HashRefreshToken(presented)); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete refresh token on logout", slog.String("error", err.Error()))
	}
}

// issue mints the access token and the next refresh token. Nothing is
// stored here.
func (s *SessionService) issue(user *domain.User, meta RequestMeta) (*Session, *domain.RefreshToken, error) {
	access, err := s.issuer.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.newRefreshToken()
	if err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	record := &domain.RefreshToken{
		TokenHash: auth.HashRefreshToken(refresh),
		UserID:    user.ID,
		ExpiresAt: now.Add(s.refreshTTL),
		UserAgent: optional(meta.UserAgent),
		IPAddress: optional(meta.IPAddress),
		CreatedAt: now,
	}
	return &Session{
		AccessToken:      access,
		RefreshToken:     refresh,
		RefreshExpiresAt: record.ExpiresAt,
		RefreshTTL:       s.refreshTTL,
	}, record, nil
}

func (s *SessionService) discard(ctx context.Context, tokenHash, userID string) {
	if err := s.tokens.Delete(ctx, tokenHash); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete stale refresh token",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
