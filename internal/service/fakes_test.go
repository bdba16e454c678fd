package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/utafrali/accounts/internal/auth"
	"github.com/utafrali/accounts/internal/domain"
	apperrors "github.com/utafrali/accounts/pkg/errors"
)

// --- In-memory user store ---

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*domain.User)}
}

func (r *memUserRepo) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
	}
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *memUserRepo) active(match func(*domain.User) bool) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.DeletedAt == nil && match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	return r.active(func(u *domain.User) bool { return u.ID == id })
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.active(func(u *domain.User) bool { return u.Email == email })
}

func (r *memUserRepo) List(_ context.Context, f domain.ListUsersFilter) ([]domain.UserSummary, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	term := strings.ToLower(f.Search)
	var matched []*domain.User
	for _, u := range r.users {
		if u.DeletedAt != nil {
			continue
		}
		if term != "" && !strings.Contains(strings.ToLower(u.Name), term) && !strings.Contains(strings.ToLower(u.Email), term) {
			continue
		}
		matched = append(matched, u)
	}
	sort.Slice(matched, func(i, j int) bool {
		var less bool
		switch f.SortBy {
		case domain.SortByName:
			less = matched[i].Name < matched[j].Name
		case domain.SortByEmail:
			less = matched[i].Email < matched[j].Email
		default:
			less = matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		if f.SortOrder == domain.SortDesc {
			return !less
		}
		return less
	})

	items := []domain.UserSummary{}
	p := f.Params()
	for i := p.Offset(); i < len(matched) && i < p.Offset()+p.PerPage; i++ {
		u := matched[i]
		items = append(items, domain.UserSummary{ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt})
	}
	return items, len(matched), nil
}

func (r *memUserRepo) Update(_ context.Context, id string, upd domain.UserUpdate) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, apperrors.NotFound("user", id)
	}
	if upd.Email != nil {
		for _, other := range r.users {
			if other.ID != id && other.Email == *upd.Email {
				return nil, apperrors.AlreadyExists("user", "email", *upd.Email)
			}
		}
		u.Email = *upd.Email
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) SoftDelete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.DeletedAt != nil {
		return apperrors.NotFound("user", id)
	}
	now := time.Now().UTC()
	u.DeletedAt = &now
	return nil
}

func (r *memUserRepo) Restore(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return apperrors.NotFound("user", id)
	}
	u.DeletedAt = nil
	return nil
}

// --- In-memory refresh token store ---

type memTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]domain.RefreshToken
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: make(map[string]domain.RefreshToken)}
}

func (r *memTokenRepo) Create(_ context.Context, t *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[t.TokenHash] = *t
	return nil
}

func (r *memTokenRepo) GetByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[hash]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &t, nil
}

func (r *memTokenRepo) Delete(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, hash)
	return nil
}

func (r *memTokenRepo) Rotate(_ context.Context, oldHash string, next *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[oldHash]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.tokens, oldHash)
	r.tokens[next.TokenHash] = *next
	return nil
}

func (r *memTokenRepo) DeleteByUserID(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for h, t := range r.tokens {
		if t.UserID == userID {
			delete(r.tokens, h)
		}
	}
	return nil
}

func (r *memTokenRepo) ownedBy(userID string) []domain.RefreshToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RefreshToken
	for _, t := range r.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

func (r *memTokenRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

// --- testify mocks for failure paths ---

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) Create(ctx context.Context, u *domain.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) List(ctx context.Context, f domain.ListUsersFilter) ([]domain.UserSummary, int, error) {
	args := m.Called(ctx, f)
	items, _ := args.Get(0).([]domain.UserSummary)
	return items, args.Int(1), args.Error(2)
}

func (m *mockUserRepository) Update(ctx context.Context, id string, upd domain.UserUpdate) (*domain.User, error) {
	args := m.Called(ctx, id, upd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) SoftDelete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockUserRepository) Restore(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockTokenRepository struct {
	mock.Mock
}

func (m *mockTokenRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	return m.Called(ctx, t).Error(0)
}

func (m *mockTokenRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RefreshToken), args.Error(1)
}

func (m *mockTokenRepository) Delete(ctx context.Context, hash string) error {
	return m.Called(ctx, hash).Error(0)
}

func (m *mockTokenRepository) Rotate(ctx context.Context, oldHash string, next *domain.RefreshToken) error {
	return m.Called(ctx, oldHash, next).Error(0)
}

func (m *mockTokenRepository) DeleteByUserID(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishUserRegistered(ctx context.Context, u *domain.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *mockPublisher) PublishUserUpdated(ctx context.Context, u *domain.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *mockPublisher) PublishUserDeleted(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockPublisher) PublishUserRestored(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type failingIssuer struct{ err error }

func (f failingIssuer) GenerateAccessToken(string, string) (string, error) { return "", f.err }

type nopPublisher struct{}

func (nopPublisher) PublishUserRegistered(context.Context, *domain.User) error { return nil }
func (nopPublisher) PublishUserUpdated(context.Context, *domain.User) error    { return nil }
func (nopPublisher) PublishUserDeleted(context.Context, string) error          { return nil }
func (nopPublisher) PublishUserRestored(context.Context, string) error         { return nil }

// --- helpers ---

const refreshTTL = 7 * 24 * time.Hour

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHasher() *auth.PasswordHasher {
	return auth.NewPasswordHasher(auth.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
}

func newTestJWT() *auth.JWTManager {
	return auth.NewJWTManager("test-secret-key-for-testing", 15*time.Minute)
}

type fixture struct {
	users    *memUserRepo
	tokens   *memTokenRepo
	sessions *SessionService
	accounts *AccountService
}

func newFixture() *fixture {
	users, tokens := newMemUserRepo(), newMemTokenRepo()
	hasher, logger := newTestHasher(), newTestLogger()
	return &fixture{
		users:    users,
		tokens:   tokens,
		sessions: NewSessionService(users, tokens, hasher, newTestJWT(), refreshTTL, nil, logger),
		accounts: NewAccountService(users, tokens, hasher, nopPublisher{}, logger),
	}
}
