package domain

import (
	"math"
	"strings"
	"time"

	apperrors "github.com/utafrali/accounts/pkg/errors"
	"github.com/utafrali/accounts/pkg/pagination"
)

// User is an account. DeletedAt is nil while the account is active.
type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	DeletedAt    *time.Time `json:"-"`
}

// IsDeleted reports whether the user has been soft-deleted.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// UserSummary is the listing projection of a User.
type UserSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserUpdate carries the fields of a partial update. Nil means unchanged.
type UserUpdate struct {
	Name  *string
	Email *string
}

// Empty reports whether the update changes nothing.
func (u UserUpdate) Empty() bool {
	return u.Name == nil && u.Email == nil
}

const (
	SortByCreatedAt = "createdAt"
	SortByName      = "name"
	SortByEmail     = "email"

	SortAsc  = "asc"
	SortDesc = "desc"
)

var sortColumns = map[string]string{
	SortByCreatedAt: "created_at",
	SortByName:      "name",
	SortByEmail:     "email",
}

// SortColumn maps a public sort key to its column. Only keys on the
// allow-list resolve.
func SortColumn(sortBy string) (string, bool) {
	col, ok := sortColumns[sortBy]
	return col, ok
}

// ListUsersFilter selects a page of active users. Zero Page and PerPage
// mean unset and take the defaults.
type ListUsersFilter struct {
	Page      int
	PerPage   int
	SortBy    string
	SortOrder string
	Search    string
}

// Normalize applies defaults and rejects out-of-range or unknown values.
func (f ListUsersFilter) Normalize() (ListUsersFilter, error) {
	if f.Page < 0 {
		return f, apperrors.InvalidInput("page must be at least 1")
	}
	if f.PerPage < 0 || f.PerPage > pagination.MaxPerPage {
		return f, apperrors.InvalidInput("perPage must be between 1 and 100")
	}
	p := pagination.Params{Page: f.Page, PerPage: f.PerPage}.Normalize()
	f.Page, f.PerPage = p.Page, p.PerPage
	// Keeps (page-1)*perPage from overflowing into a negative offset.
	if f.Page > math.MaxInt/f.PerPage {
		return f, apperrors.InvalidInput("page is out of range")
	}

	if f.SortBy == "" {
		f.SortBy = SortByCreatedAt
	}
	if _, ok := SortColumn(f.SortBy); !ok {
		return f, apperrors.InvalidInput("sortBy must be one of createdAt, name, email")
	}

	f.SortOrder = strings.ToLower(f.SortOrder)
	switch f.SortOrder {
	case "":
		f.SortOrder = SortDesc
	case SortAsc, SortDesc:
	default:
		return f, apperrors.InvalidInput("sortOrder must be asc or desc")
	}

	f.Search = strings.TrimSpace(f.Search)
	return f, nil
}

// Params returns the pagination window of the filter.
func (f ListUsersFilter) Params() pagination.Params {
	return pagination.Params{Page: f.Page, PerPage: f.PerPage}
}
