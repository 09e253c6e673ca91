package account

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/doctorbook/doctorbook/internal/domain/directory"
)

var (
	ErrInvalidCredentials  = errors.New("invalid username/email or password")
	ErrAccountDisabled     = errors.New("account is disabled")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrRoleNotAllowed      = errors.New("role cannot be self-assigned")
	ErrWeakPassword        = errors.New("password must be at least 8 characters")
)

// RefreshToken is the stored form of an opaque refresh token. Only the
// SHA-256 digest of the token is persisted.
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	Revoked   bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// TokenPair is returned by register, login and refresh.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Session is an authenticated user with a fresh token pair.
type Session struct {
	TokenPair
	User *directory.User `json:"user"`
}

func newOpaqueToken() (string, error) {
	b := make([]byte, 48)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
