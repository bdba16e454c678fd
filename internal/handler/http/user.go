package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/accounts/internal/domain"
	"github.com/utafrali/accounts/internal/service"
	apperrors "github.com/utafrali/accounts/pkg/errors"
	"github.com/utafrali/accounts/pkg/httputil"
	"github.com/utafrali/accounts/pkg/middleware"
	"github.com/utafrali/accounts/pkg/pagination"
	"github.com/utafrali/accounts/pkg/validator"
)

// AccountManager is the account management surface the /user endpoints drive.
type AccountManager interface {
	Register(ctx context.Context, input service.RegisterInput) (*domain.User, error)
	GetProfile(ctx context.Context, subjectID string) (*domain.User, error)
	ListUsers(ctx context.Context, filter domain.ListUsersFilter) (*pagination.Page[domain.UserSummary], error)
	UpdateUser(ctx context.Context, id string, input service.UpdateUserInput) (*domain.User, error)
	DeleteUser(ctx context.Context, id string) error
	RestoreUser(ctx context.Context, id string) (string, error)
}

// UserHandler handles HTTP requests for the /user endpoints.
type UserHandler struct {
	accounts AccountManager
	logger   *slog.Logger
}

// NewUserHandler creates a user handler.
func NewUserHandler(accounts AccountManager, logger *slog.Logger) *UserHandler {
	return &UserHandler{accounts: accounts, logger: logger}
}

// --- Request DTOs ---

// ListUsersQuery holds the query string of GET /user. Absent numbers are
// nil and fall back to the defaults; present ones must be in range. Sort
// keys are checked against the allow-list by domain.ListUsersFilter.
type ListUsersQuery struct {
	Page      *int   `query:"page" validate:"omitnil,gte=1,lte=2147483647"`
	PerPage   *int   `query:"perPage" validate:"omitnil,gte=1,lte=100"`
	SortBy    string `query:"sortBy" validate:"omitempty,oneof=createdAt name email"`
	SortOrder string `query:"sortOrder" validate:"omitempty,oneof=asc desc ASC DESC"`
	Search    string `query:"search" validate:"max=255"`
}

// --- Response types ---

// RegisteredUser is the body returned by register.
type RegisteredUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Profile is the body returned by the profile endpoint.
type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// UpdatedUser is the body returned by update.
type UpdatedUser struct {
	Message string          `json:"message"`
	User    UserDetailsView `json:"user"`
}

// UserDetailsView is the public projection of an updated user.
type UserDetailsView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RestoredUser is the body returned by restore.
type RestoredUser struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// --- Handlers ---

// Register handles POST /user/register
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterInput
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	user, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, RegisteredUser{ID: user.ID, Name: user.Name, Email: user.Email})
}

// List handles GET /user
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	q, err := parseListUsersQuery(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	page, err := h.accounts.ListUsers(r.Context(), domain.ListUsersFilter{
		Page:      derefInt(q.Page),
		PerPage:   derefInt(q.PerPage),
		SortBy:    q.SortBy,
		SortOrder: q.SortOrder,
		Search:    q.Search,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, page)
}

// Profile handles GET /user/profile
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteError(w, r, apperrors.Unauthorized("user not authenticated"), h.logger)
		return
	}

	user, err := h.accounts.GetProfile(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, Profile{ID: user.ID, Email: user.Email})
}

// Update handles PATCH /user/{id}
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req service.UpdateUserInput
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	user, err := h.accounts.UpdateUser(r.Context(), id, req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, UpdatedUser{
		Message: "User updated",
		User: UserDetailsView{
			ID:        user.ID,
			Name:      user.Name,
			Email:     user.Email,
			CreatedAt: user.CreatedAt,
			UpdatedAt: user.UpdatedAt,
		},
	})
}

// Delete handles DELETE /user/{id}
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.accounts.DeleteUser(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteNoContent(w)
}

// Restore handles PATCH /user/{id}/restore
func (h *UserHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	restored, err := h.accounts.RestoreUser(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, RestoredUser{Message: "User restored", ID: restored})
}

func parseListUsersQuery(r *http.Request) (ListUsersQuery, error) {
	values := r.URL.Query()
	q := ListUsersQuery{
		SortBy:    values.Get("sortBy"),
		SortOrder: values.Get("sortOrder"),
		Search:    values.Get("search"),
	}

	var err error
	if q.Page, err = queryInt(values.Get("page"), "page"); err != nil {
		return q, err
	}
	if q.PerPage, err = queryInt(values.Get("perPage"), "perPage"); err != nil {
		return q, err
	}
	return q, validator.Validate(q)
}

func queryInt(raw, name string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperrors.InvalidInput(name + " must be an integer")
	}
	return &n, nil
}

func derefInt(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
