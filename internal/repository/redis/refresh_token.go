package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/accounts/internal/domain"
	apperrors "github.com/utafrali/accounts/pkg/errors"
)

const (
	tokenKeyPrefix = "refresh_token:"
	userKeyPrefix  = "refresh_tokens:user:"
)

// expiredRetention keeps a token readable for a while after it expires so a
// late refresh is reported as expired rather than unknown.
const expiredRetention = 24 * time.Hour

type storedToken struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	UserAgent *string   `json:"user_agent,omitempty"`
	IPAddress *string   `json:"ip_address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RefreshTokenRepository implements repository.RefreshTokenRepository using
// Redis. Each token is a JSON value; a per-user set indexes a user's tokens.
type RefreshTokenRepository struct {
	client *redis.Client
	now    func() time.Time
}

func NewRefreshTokenRepository(client *redis.Client) *RefreshTokenRepository {
	return &RefreshTokenRepository{client: client, now: time.Now}
}

func tokenKey(hash string) string  { return tokenKeyPrefix + hash }
func userKey(userID string) string { return userKeyPrefix + userID }

func (r *RefreshTokenRepository) ttl(t *domain.RefreshToken) time.Duration {
	ttl := t.ExpiresAt.Sub(r.now()) + expiredRetention
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func encodeToken(t *domain.RefreshToken) ([]byte, error) {
	data, err := json.Marshal(storedToken{
		UserID:    t.UserID,
		ExpiresAt: t.ExpiresAt,
		UserAgent: t.UserAgent,
		IPAddress: t.IPAddress,
		CreatedAt: t.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal refresh token: %w", err)
	}
	return data, nil
}

// queueCreate adds the writes for t to pipe.
func (r *RefreshTokenRepository) queueCreate(ctx context.Context, pipe redis.Pipeliner, t *domain.RefreshToken, data []byte) {
	ttl := r.ttl(t)
	pipe.Set(ctx, tokenKey(t.TokenHash), data, ttl)
	pipe.SAdd(ctx, userKey(t.UserID), t.TokenHash)
	pipe.Expire(ctx, userKey(t.UserID), ttl)
}

func (r *RefreshTokenRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	data, err := encodeToken(t)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		r.queueCreate(ctx, pipe, t, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	data, err := r.client.Get(ctx, tokenKey(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("redis get refresh token: %w", err)
	}

	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal refresh token: %w", err)
	}
	return &domain.RefreshToken{
		TokenHash: tokenHash,
		UserID:    st.UserID,
		ExpiresAt: st.ExpiresAt,
		UserAgent: st.UserAgent,
		IPAddress: st.IPAddress,
		CreatedAt: st.CreatedAt,
	}, nil
}

func (r *RefreshTokenRepository) Delete(ctx context.Context, tokenHash string) error {
	t, err := r.GetByHash(ctx, tokenHash)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, tokenKey(tokenHash))
		pipe.SRem(ctx, userKey(t.UserID), tokenHash)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete refresh token: %w", err)
	}
	return nil
}

// Rotate replaces oldHash with next under WATCH, so of two concurrent
// rotations of the same token only one commits.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldHash string, next *domain.RefreshToken) error {
	data, err := encodeToken(next)
	if err != nil {
		return err
	}

	oldKey := tokenKey(oldHash)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, oldKey).Result()
		if err != nil {
			return fmt.Errorf("redis check refresh token: %w", err)
		}
		if n == 0 {
			return apperrors.ErrNotFound
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, oldKey)
			pipe.SRem(ctx, userKey(next.UserID), oldHash)
			r.queueCreate(ctx, pipe, next, data)
			return nil
		})
		return err
	}, oldKey)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, apperrors.ErrNotFound):
		return apperrors.ErrNotFound
	default:
		return fmt.Errorf("redis rotate refresh token: %w", err)
	}
}

func (r *RefreshTokenRepository) DeleteByUserID(ctx context.Context, userID string) error {
	hashes, err := r.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("redis list user refresh tokens: %w", err)
	}

	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, tokenKey(h))
	}
	keys = append(keys, userKey(userID))

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete user refresh tokens: %w", err)
	}
	return nil
}
