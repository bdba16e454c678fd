package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/accounts/internal/domain"
	"github.com/utafrali/accounts/pkg/database"
	apperrors "github.com/utafrali/accounts/pkg/errors"
)

const userColumns = `id, name, email, password_hash, created_at, updated_at, deleted_at`

// activeUsers is the row source for every read. Soft-deleted users never
// leave the store through it.
const activeUsers = `FROM users WHERE deleted_at IS NULL`

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db database.DBTX
}

func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) (err error) {
	query := `
		INSERT INTO users (id, name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	ctx, end := database.TraceQuery(ctx, "users.Create", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query, u.ID, u.Name, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID returns an active user.
func (r *UserRepository) GetByID(ctx context.Context, id string) (u *domain.User, err error) {
	query := `SELECT ` + userColumns + ` ` + activeUsers + ` AND id = $1`

	ctx, end := database.TraceQuery(ctx, "users.GetByID", query)
	defer func() { end(err) }()

	return scanUser(r.db.QueryRow(ctx, query, id))
}

// GetByEmail returns an active user by exact email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (u *domain.User, err error) {
	query := `SELECT ` + userColumns + ` ` + activeUsers + ` AND email = $1`

	ctx, end := database.TraceQuery(ctx, "users.GetByEmail", query)
	defer func() { end(err) }()

	return scanUser(r.db.QueryRow(ctx, query, email))
}

// List returns a page of active users and the number of users matching the
// filter. The filter must already be normalized. Both statements run in one
// read-only repeatable-read transaction so the count agrees with the page.
func (r *UserRepository) List(ctx context.Context, filter domain.ListUsersFilter) (items []domain.UserSummary, total int, err error) {
	column, ok := domain.SortColumn(filter.SortBy)
	if !ok {
		return nil, 0, apperrors.InvalidInput("unsupported sort key: " + filter.SortBy)
	}
	direction := "DESC"
	if filter.SortOrder == domain.SortAsc {
		direction = "ASC"
	}

	where := activeUsers
	var args []any
	if filter.Search != "" {
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		where += ` AND (name ILIKE $1 OR email ILIKE $1)`
	}

	countQuery := `SELECT COUNT(*) ` + where
	listQuery := fmt.Sprintf(`SELECT id, name, email, created_at %s ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d`,
		where, column, direction, direction, len(args)+1, len(args)+2)

	ctx, end := database.TraceQuery(ctx, "users.List", listQuery)
	defer func() { end(err) }()

	params := filter.Params()
	err = database.WithTx(ctx, r.db, database.ReadSnapshot, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
			return fmt.Errorf("count users: %w", err)
		}

		rows, err := tx.Query(ctx, listQuery, append(args, params.PerPage, params.Offset())...)
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		defer rows.Close()

		items = make([]domain.UserSummary, 0, params.PerPage)
		for rows.Next() {
			var s domain.UserSummary
			if err := rows.Scan(&s.ID, &s.Name, &s.Email, &s.CreatedAt); err != nil {
				return fmt.Errorf("scan user summary: %w", err)
			}
			items = append(items, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Update changes the given fields of an active user.
func (r *UserRepository) Update(ctx context.Context, id string, update domain.UserUpdate) (u *domain.User, err error) {
	if update.Empty() {
		return nil, apperrors.InvalidInput("at least one field must be provided")
	}

	var sets []string
	var args []any
	if update.Name != nil {
		args = append(args, *update.Name)
		sets = append(sets, fmt.Sprintf("name = $%d", len(args)))
	}
	if update.Email != nil {
		args = append(args, *update.Email)
		sets = append(sets, fmt.Sprintf("email = $%d", len(args)))
	}
	args = append(args, time.Now().UTC(), id)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)-1))

	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d AND deleted_at IS NULL RETURNING %s`,
		strings.Join(sets, ", "), len(args), userColumns)

	ctx, end := database.TraceQuery(ctx, "users.Update", query)
	defer func() { end(err) }()

	u, err = scanUser(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.AlreadyExists("user", "email", *update.Email)
		}
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("user", id)
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}

// SoftDelete stamps deleted_at on an active user.
func (r *UserRepository) SoftDelete(ctx context.Context, id string) (err error) {
	query := `UPDATE users SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`

	ctx, end := database.TraceQuery(ctx, "users.SoftDelete", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, time.Now().UTC(), id)
	if err != nil {
		if isInvalidText(err) {
			return apperrors.NotFound("user", id)
		}
		return fmt.Errorf("soft delete user: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", id)
	}
	return nil
}

// Restore clears deleted_at. The row is matched whether or not it is
// deleted, so zero affected rows means the id does not exist.
func (r *UserRepository) Restore(ctx context.Context, id string) (err error) {
	query := `
		UPDATE users
		SET updated_at = CASE WHEN deleted_at IS NULL THEN updated_at ELSE $1 END,
		    deleted_at = NULL
		WHERE id = $2`

	ctx, end := database.TraceQuery(ctx, "users.Restore", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, time.Now().UTC(), id)
	if err != nil {
		if isInvalidText(err) {
			return apperrors.NotFound("user", id)
		}
		return fmt.Errorf("restore user: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", id)
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes LIKE wildcards in a search term match literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
