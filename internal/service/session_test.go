package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/accounts/internal/auth"
	"github.com/utafrali/accounts/internal/domain"
	apperrors "github.com/utafrali/accounts/pkg/errors"
)

var testMeta = RequestMeta{UserAgent: "go-test", IPAddress: "10.0.0.7"}

func registerUser(t *testing.T, f *fixture, name, email, password string) *domain.User {
	t.Helper()
	u, err := f.accounts.Register(context.Background(), RegisterInput{Name: name, Email: email, Password: password})
	require.NoError(t, err)
	return u
}

func TestLogin_IssuesSessionAndStoresOneToken(t *testing.T) {
	f := newFixture()
	u := registerUser(t, f, "Alice Smith", "alice@example.com", "Aa12345!")

	session, err := f.sessions.Login(context.Background(), "alice@example.com", "Aa12345!", testMeta)
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.Equal(t, refreshTTL, session.RefreshTTL)

	claims, err := newTestJWT().ValidateAccessToken(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.Subject)
	assert.Equal(t, "alice@example.com", claims.Email)

	owned := f.tokens.ownedBy(u.ID)
	require.Len(t, owned, 1)
	assert.Equal(t, auth.HashRefreshToken(session.RefreshToken), owned[0].TokenHash)
	assert.NotEqual(t, session.RefreshToken, owned[0].TokenHash)
	assert.WithinDuration(t, time.Now().Add(refreshTTL), owned[0].ExpiresAt, 5*time.Second)
	require.NotNil(t, owned[0].UserAgent)
	assert.Equal(t, "go-test", *owned[0].UserAgent)
	require.NotNil(t, owned[0].IPAddress)
	assert.Equal(t, "10.0.0.7", *owned[0].IPAddress)
}

func TestLogin_MissingMetadataStoredAsNull(t *testing.T) {
	f := newFixture()
	u := registerUser(t, f, "Alice Smith", "alice@example.com", "Aa12345!")

	_, err := f.sessions.Login(context.Background(), "alice@example.com", "Aa12345!", RequestMeta{})
	require.NoError(t, err)

	owned := f.tokens.ownedBy(u.ID)
	require.Len(t, owned, 1)
	assert.Nil(t, owned[0].UserAgent)
	assert.Nil(t, owned[0].IPAddress)
}

func TestLogin_UnknownEmailAndWrongPasswordAreIndistinguishable(t *testing.T) {
	f := newFixture()
	registerUser(t, f, "Alice Smith", "alice@example.com", "Aa12345!")
	ctx := context.Background()

	_, errUnknown := f.sessions.Login(ctx, "nobody@example.com", "Aa12345!", testMeta)
	_, errWrong := f.sessions.Login(ctx, "alice@example.com", "Wrong123!", testMeta)
	_, errCase := f.sessions.Login(ctx, "ALICE@example.com", "Aa12345!", testMeta)

	require.Error(t, errUnknown)
	assert.Same(t, domain.ErrInvalidCredentials, errUnknown)
	assert.Same(t, domain.ErrInvalidCredentials, errWrong)
	assert.Same(t, domain.ErrInvalidCredentials, errCase)
	assert.Equal(t, http.StatusUnauthorized, apperrors.HTTPStatus(errUnknown))
	assert.Zero(t, f.tokens.count())
}

func TestLogin_DeletedUserCannotLogIn(t *testing.T) {
	f := newFixture()
	u := registerUser(t, f, "Alice Smith", "alice@example.com", "Aa12345!")
	require.NoError(t, f.accounts.DeleteUser(context.Background(), u.ID))

	_, err := f.sessions.Login(context.Background(), "alice@example.com", "Aa12345!", testMeta)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestLogin_NothingStoredWhenIssuanceFails(t *testing.T) {
	users, tokens := newMemUserRepo(), newMemTokenRepo()
	hasher := newTestHasher()
	accounts := NewAccountService(users, tokens, hasher, nopPublisher{}, newTestLogger())
	_, err := accounts.Register(context.Background(), RegisterInput{Name: "Alice Smith", Email: "alice@example.com", Password: "Aa12345!"})
	require.NoError(t, err)

	sessions := NewSessionService(users, tokens, hasher, failingIssuer{err: errors.New("signer offline")}, refreshTTL, nil, newTestLogger())
	_, err = sessions.Login(context.Background(), "alice@example.com", "Aa12345!", testMeta)

	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidCredentials)
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatus(err))
	assert.Zero(t, tokens.count())
}

func TestLogin_StoreFailureIsInternal(t *testing.T) {
	users := new(mockUserRepository)
	users.On("GetByEmail", mock.Anything, "alice@example.com").Return(nil, errors.New("connection refused"))

	s := NewSessionService(users, new(mockTokenRepository), newTestHasher(), newTestJWT(), refreshTTL, nil, newTestLogger())
	_, err := s.Login(context.Background(), "alice@example.com", "Aa12345!", testMeta)

	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidCredentials)
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatus(err))
	users.AssertExpectations(t)
}

func TestRefresh_RotatesExactlyOnce(t *testing.T) {
	f := newFixture()
	u := registerUser(t, f, "Alice Smith", "alice@example.com", "Aa12345!")
	ctx := context.Background()

	first, err := f.sessions.Login(ctx, "alice@example.com", "Aa12345!", testMeta)
	require.NoError(t, err)

	second, err := f.sessions.Refresh(ctx, first.RefreshToken, RequestMeta{UserAgent: "other-agent"})
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	claims, err := newTestJWT().ValidateAccessToken(second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.Subject)

	owned := f.tokens.ownedBy(u.ID)
	require.Len(t, owned, 1)
	assert.Equal(t, auth.HashRefreshToken(second.RefreshToken), owned[0].TokenHash)
	require.NotNil(t, owned[0].UserAgent)
	assert.Equal(t, "other-agent", *owned[0].UserAgent)
	assert.Nil(t, owned[0].IPAddress)

	_, err = f.sessions.Refresh(ctx, first.RefreshToken, testMeta)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	_, err = f.sessions.Refresh(ctx, second.RefreshToken, testMeta)
	assert.NoError(t, err)
}

func TestRefresh_ConcurrentPresentationsSucceedOnce(t *testing.T) {
	f := newFixture()
	registerUser(t, f, "Alice Smith", "alice@example.com", "Aa12345!")
	ctx := context.Background()

	session, err := f.sessions.Login(ctx, "alice@example.com", "Aa12345!", testMeta)
	require.NoError(t, err)

	const attempts = 10
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.sessions.Refresh(ctx, session.RefreshToken, testMeta)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.tokens.count())
}

func TestRefresh_NoToken(t *testing.T) {
	f := newFixture()
	_, err := f.sessions.Refresh(context.Background(), "", testMeta)
	assert.Same(t, domain.ErrNoToken, err)
}

func TestRefresh_UnknownToken(t *testing.T) {
	f := newFixture()
	_, err := f.sessions.Refresh(context.Background(), "never-issued", testMeta)
	assert.Same(t, domain.ErrInvalidToken, err)
}

func TestRefresh_ExpiredTokenIsDeleted(t *testing.T) {
	f := newFixture()
	u := registerUser(t, f, "Alice Smith", "alice@example.com", "Aa12345!")
	ctx := context.Background()

	hash := auth.HashRefreshToken("stale-token")
	require.NoError(t, f.tokens.Create(ctx, &domain.RefreshToken{
		TokenHash: hash,
		UserID:    u.ID,
		ExpiresAt: time.Now().Add(-time.Minute),
		CreatedAt: time.Now().Add(-refreshTTL),
	}))

	_, err := f.sessions.Refresh(ctx, "stale-token", testMeta)
	assert.Same(t, domain.ErrTokenExpired, err)

	_, err = f.tokens.GetByHash(ctx, hash)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.sessions.Refresh(ctx, "stale-token", testMeta)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestRefresh_ExpiryUsesClock(t *testing.T) {
	f := newFixture()
	registerUser(t, f, "Alice Smith", "alice@example.com", "Aa12345!")
	ctx := context.Background()

	session, err := f.sessions.Login(ctx, "alice@example.com", "Aa12345!", testMeta)
	require.NoError(t, err)

	f.sessions.now = func() time.Time { return time.Now().Add(refreshTTL + time.Second) }
	_, err = f.sessions.Refresh(ctx, session.RefreshToken, testMeta)
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
	assert.Zero(t, f.tokens.count())
}

func TestRefresh_DeletedUserLosesSession(t *testing.T) {
	f := newFixture()
	u := registerUser(t, f, "Alice Smith", "alice@example.com", "Aa12345!")
	ctx := context.Background()

	session, err := f.sessions.Login(ctx, "alice@example.com", "Aa12345!", testMeta)
	require.NoError(t, err)

	// Bypass DeleteUser so the token survives the soft delete.
	require.NoError(t, f.users.SoftDelete(ctx, u.ID))

	_, err = f.sessions.Refresh(ctx, session.RefreshToken, testMeta)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	assert.Zero(t, f.tokens.count())
}

func TestRefresh_RotateLostRaceIsInvalidToken(t *testing.T) {
	user := &domain.User{ID: "u-1", Email: "a@b.c"}
	hash := auth.HashRefreshToken("tok")

	users := new(mockUserRepository)
	users.On("GetByID", mock.Anything, "u-1").Return(user, nil)
	tokens := new(mockTokenRepository)
	tokens.On("GetByHash", mock.Anything, hash).
		Return(&domain.RefreshToken{TokenHash: hash, UserID: "u-1", ExpiresAt: time.Now().Add(time.Hour)}, nil)
	tokens.On("Rotate", mock.Anything, hash, mock.AnythingOfType("*domain.RefreshToken")).Return(apperrors.ErrNotFound)

	s := NewSessionService(users, tokens, newTestHasher(), newTestJWT(), refreshTTL, nil, newTestLogger())
	_, err := s.Refresh(context.Background(), "tok", testMeta)

	assert.Same(t, domain.ErrInvalidToken, err)
	tokens.AssertExpectations(t)
}

func TestRefresh_RotateFailureIsInternal(t *testing.T) {
	user := &domain.User{ID: "u-1", Email: "a@b.c"}
	hash := auth.HashRefreshToken("tok")

	users := new(mockUserRepository)
	users.On("GetByID", mock.Anything, "u-1").Return(user, nil)
	tokens := new(mockTokenRepository)
	tokens.On("GetByHash", mock.Anything, hash).
		Return(&domain.RefreshToken{TokenHash: hash, UserID: "u-1", ExpiresAt: time.Now().Add(time.Hour)}, nil)
	tokens.On("Rotate", mock.Anything, hash, mock.Anything).Return(errors.New("tx aborted"))

	s := NewSessionService(users, tokens, newTestHasher(), newTestJWT(), refreshTTL, nil, newTestLogger())
	_, err := s.Refresh(context.Background(), "tok", testMeta)

	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatus(err))
}

func TestLogout_IsIdempotent(t *testing.T) {
	f := newFixture()
	registerUser(t, f, "Alice Smith", "alice@example.com", "Aa12345!")
	ctx := context.Background()

	session, err := f.sessions.Login(ctx, "alice@example.com", "Aa12345!", testMeta)
	require.NoError(t, err)

	f.sessions.Logout(ctx, "")
	f.sessions.Logout(ctx, "unknown")
	assert.Equal(t, 1, f.tokens.count())

	f.sessions.Logout(ctx, session.RefreshToken)
	f.sessions.Logout(ctx, session.RefreshToken)
	assert.Zero(t, f.tokens.count())

	_, err = f.sessions.Refresh(ctx, session.RefreshToken, testMeta)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestLogout_StoreFailureIsSwallowed(t *testing.T) {
	tokens := new(mockTokenRepository)
	tokens.On("Delete", mock.Anything, auth.HashRefreshToken("tok")).Return(errors.New("redis down"))

	s := NewSessionService(new(mockUserRepository), tokens, newTestHasher(), newTestJWT(), refreshTTL, nil, newTestLogger())
	assert.NotPanics(t, func() { s.Logout(context.Background(), "tok") })
	tokens.AssertExpectations(t)
}

func TestAuthMetrics_CountsOutcomes(t *testing.T) {
	f := newFixture()
	registerUser(t, f, "Alice Smith", "alice@example.com", "Aa12345!")
	metrics := NewAuthMetrics(prometheus.NewRegistry())
	f.sessions.metrics = metrics
	ctx := context.Background()

	_, _ = f.sessions.Login(ctx, "alice@example.com", "Aa12345!", testMeta)
	_, _ = f.sessions.Login(ctx, "alice@example.com", "nope", testMeta)
	_, _ = f.sessions.Refresh(ctx, "", testMeta)
	_, _ = f.sessions.Refresh(ctx, "unknown", testMeta)
	f.sessions.Logout(ctx, "")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.attempts.WithLabelValues("login", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.attempts.WithLabelValues("login", "invalid_credentials")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.attempts.WithLabelValues("refresh", "no_token")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.attempts.WithLabelValues("refresh", "invalid_token")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.attempts.WithLabelValues("logout", "success")))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "success", outcome(nil))
	assert.Equal(t, "token_expired", outcome(domain.ErrTokenExpired))
	assert.Equal(t, "error", outcome(errors.New("boom")))
	assert.Equal(t, "error", outcome(apperrors.Internal(errors.New("boom"))))
}
