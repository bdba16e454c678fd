package domain

import (
	"net/http"

	apperrors "github.com/utafrali/accounts/pkg/errors"
)

// Session failures. Each is a single shared value so callers can match with
// errors.Is.
var (
	ErrInvalidCredentials = apperrors.New(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials", apperrors.ErrUnauthorized)
	ErrNoToken            = apperrors.New(http.StatusUnauthorized, "NO_TOKEN", "No refresh token", apperrors.ErrUnauthorized)
	ErrInvalidToken       = apperrors.New(http.StatusUnauthorized, "INVALID_TOKEN", "Invalid refresh token", apperrors.ErrUnauthorized)
	ErrTokenExpired       = apperrors.New(http.StatusUnauthorized, "TOKEN_EXPIRED", "Refresh token expired", apperrors.ErrUnauthorized)
)
