package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/utafrali/accounts/internal/domain"
	"github.com/utafrali/accounts/internal/service"
	"github.com/utafrali/accounts/pkg/httputil"
	"github.com/utafrali/accounts/pkg/validator"
)

// RefreshCookieName is the cookie carrying the opaque refresh token.
const RefreshCookieName = "refreshToken"

// refreshCookiePath limits the cookie to the auth endpoints.
const refreshCookiePath = "/auth"

// SessionManager is the session flow the auth endpoints drive.
type SessionManager interface {
	Login(ctx context.Context, email, password string, meta service.RequestMeta) (*service.Session, error)
	Refresh(ctx context.Context, presented string, meta service.RequestMeta) (*service.Session, error)
	Logout(ctx context.Context, presented string)
}

// AuthHandler handles HTTP requests for the /auth endpoints.
type AuthHandler struct {
	sessions     SessionManager
	secureCookie bool
	logger       *slog.Logger
}

// NewAuthHandler creates an auth handler. secureCookie marks the refresh
// cookie Secure and should be set in production.
func NewAuthHandler(sessions SessionManager, secureCookie bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{sessions: sessions, secureCookie: secureCookie, logger: logger}
}

// LoginRequest is the JSON request body for login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// TokenResponse carries a freshly issued access token.
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	session, err := h.sessions.Login(r.Context(), req.Email, req.Password, requestMeta(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.setRefreshCookie(w, session)
	httputil.WriteData(w, http.StatusOK, TokenResponse{AccessToken: session.AccessToken})
}

// Refresh handles POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Refresh(r.Context(), presentedToken(r), requestMeta(r))
	if err != nil {
		if errors.Is(err, domain.ErrTokenExpired) {
			h.clearRefreshCookie(w)
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.setRefreshCookie(w, session)
	httputil.WriteData(w, http.StatusOK, TokenResponse{AccessToken: session.AccessToken})
}

// Logout handles POST /auth/logout. It always succeeds.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := presentedToken(r); token != "" {
		h.sessions.Logout(r.Context(), token)
	}
	h.clearRefreshCookie(w)
	httputil.WriteNoContent(w)
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, s *service.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    s.RefreshToken,
		Path:     refreshCookiePath,
		MaxAge:   int(s.RefreshTTL / time.Second),
		Expires:  s.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func presentedToken(r *http.Request) string {
	c, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// requestMeta captures provenance for the issued refresh token. RemoteAddr
// has already been rewritten by chi's RealIP when a proxy header is present.
func requestMeta(r *http.Request) service.RequestMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return service.RequestMeta{UserAgent: r.UserAgent(), IPAddress: ip}
}
