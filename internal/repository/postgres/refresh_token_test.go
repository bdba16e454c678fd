package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/accounts/internal/domain"
	"github.com/utafrali/accounts/pkg/database"
	apperrors "github.com/utafrali/accounts/pkg/errors"
)

func newTokenTestFixture(t *testing.T) (*RefreshTokenRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock := database.NewMockPool(t)
	return NewRefreshTokenRepository(mock), mock
}

func sampleToken(hash string) *domain.RefreshToken {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.RefreshToken{
		TokenHash: hash,
		UserID:    testUserID,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
		UserAgent: strPtr("curl/8.0"),
		IPAddress: strPtr("10.0.0.1"),
		CreatedAt: now,
	}
}

func TestRefreshTokenRepository_Create(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	tok := sampleToken("hash-1")

	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs(tok.TokenHash, tok.UserID, tok.ExpiresAt, tok.UserAgent, tok.IPAddress, tok.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), tok))
}

func TestRefreshTokenRepository_GetByHash(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	tok := sampleToken("hash-1")

	mock.ExpectQuery("FROM refresh_tokens").
		WithArgs("hash-1").
		WillReturnRows(pgxmock.NewRows([]string{"token_hash", "user_id", "expires_at", "user_agent", "ip_address", "created_at"}).
			AddRow(tok.TokenHash, tok.UserID, tok.ExpiresAt, nil, nil, tok.CreatedAt))

	got, err := repo.GetByHash(context.Background(), "hash-1")
	require.NoError(t, err)
	assert.Equal(t, testUserID, got.UserID)
	assert.Equal(t, tok.ExpiresAt, got.ExpiresAt)
	assert.Nil(t, got.UserAgent)
	assert.Nil(t, got.IPAddress)
}

func TestRefreshTokenRepository_GetByHash_NotFound(t *testing.T) {
	repo, mock := newTokenTestFixture(t)

	mock.ExpectQuery("FROM refresh_tokens").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByHash(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRefreshTokenRepository_DeleteIsIdempotent(t *testing.T) {
	repo, mock := newTokenTestFixture(t)

	mock.ExpectExec("DELETE FROM refresh_tokens WHERE token_hash").
		WithArgs("hash-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM refresh_tokens WHERE token_hash").
		WithArgs("hash-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, repo.Delete(context.Background(), "hash-1"))
	require.NoError(t, repo.Delete(context.Background(), "hash-1"))
}

func TestRefreshTokenRepository_Rotate(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	next := sampleToken("hash-2")

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectExec("DELETE FROM refresh_tokens WHERE token_hash").
		WithArgs("hash-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs(next.TokenHash, next.UserID, next.ExpiresAt, next.UserAgent, next.IPAddress, next.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Rotate(context.Background(), "hash-1", next))
}

func TestRefreshTokenRepository_Rotate_AlreadyRotated(t *testing.T) {
	repo, mock := newTokenTestFixture(t)

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectExec("DELETE FROM refresh_tokens WHERE token_hash").
		WithArgs("hash-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	err := repo.Rotate(context.Background(), "hash-1", sampleToken("hash-2"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRefreshTokenRepository_Rotate_InsertFailureRollsBack(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	next := sampleToken("hash-2")

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectExec("DELETE FROM refresh_tokens").
		WithArgs("hash-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs(next.TokenHash, next.UserID, next.ExpiresAt, next.UserAgent, next.IPAddress, next.CreatedAt).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Rotate(context.Background(), "hash-1", next)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert rotated refresh token")
}

func TestRefreshTokenRepository_DeleteByUserID(t *testing.T) {
	repo, mock := newTokenTestFixture(t)

	mock.ExpectExec("DELETE FROM refresh_tokens WHERE user_id").
		WithArgs(testUserID).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	require.NoError(t, repo.DeleteByUserID(context.Background(), testUserID))
}
