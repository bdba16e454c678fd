package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/accounts/internal/domain"
	"github.com/utafrali/accounts/pkg/database"
	apperrors "github.com/utafrali/accounts/pkg/errors"
)

const insertRefreshToken = `
	INSERT INTO refresh_tokens (token_hash, user_id, expires_at, user_agent, ip_address, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

// RefreshTokenRepository implements repository.RefreshTokenRepository using
// PostgreSQL.
type RefreshTokenRepository struct {
	db database.DBTX
}

func NewRefreshTokenRepository(db database.DBTX) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, t *domain.RefreshToken) (err error) {
	ctx, end := database.TraceQuery(ctx, "refresh_tokens.Create", insertRefreshToken)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, insertRefreshToken, tokenArgs(t)...); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (t *domain.RefreshToken, err error) {
	query := `
		SELECT token_hash, user_id, expires_at, user_agent, ip_address, created_at
		FROM refresh_tokens
		WHERE token_hash = $1`

	ctx, end := database.TraceQuery(ctx, "refresh_tokens.GetByHash", query)
	defer func() { end(err) }()

	var rt domain.RefreshToken
	err = r.db.QueryRow(ctx, query, tokenHash).Scan(
		&rt.TokenHash,
		&rt.UserID,
		&rt.ExpiresAt,
		&rt.UserAgent,
		&rt.IPAddress,
		&rt.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}
	return &rt, nil
}

func (r *RefreshTokenRepository) Delete(ctx context.Context, tokenHash string) (err error) {
	query := `DELETE FROM refresh_tokens WHERE token_hash = $1`

	ctx, end := database.TraceQuery(ctx, "refresh_tokens.Delete", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, tokenHash); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// Rotate deletes the old token and inserts the next one in one transaction.
// A concurrent rotation of the same token blocks on the row lock and then
// finds nothing to delete.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldHash string, next *domain.RefreshToken) (err error) {
	query := `DELETE FROM refresh_tokens WHERE token_hash = $1`

	ctx, end := database.TraceQuery(ctx, "refresh_tokens.Rotate", query)
	defer func() { end(err) }()

	return database.WithTx(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, query, oldHash)
		if err != nil {
			return fmt.Errorf("delete rotated refresh token: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return apperrors.ErrNotFound
		}
		if _, err := tx.Exec(ctx, insertRefreshToken, tokenArgs(next)...); err != nil {
			return fmt.Errorf("insert rotated refresh token: %w", err)
		}
		return nil
	})
}

func (r *RefreshTokenRepository) DeleteByUserID(ctx context.Context, userID string) (err error) {
	query := `DELETE FROM refresh_tokens WHERE user_id = $1`

	ctx, end := database.TraceQuery(ctx, "refresh_tokens.DeleteByUserID", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("delete refresh tokens by user: %w", err)
	}
	return nil
}

func tokenArgs(t *domain.RefreshToken) []any {
	return []any{t.TokenHash, t.UserID, t.ExpiresAt, t.UserAgent, t.IPAddress, t.CreatedAt}
}
