package domain

import "time"

// RefreshToken is a stored refresh token. Only the digest of the bearer
// value is kept.
type RefreshToken struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	UserAgent *string
	IPAddress *string
	CreatedAt time.Time
}

// IsExpired reports whether the token's expiry is at or before now.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
