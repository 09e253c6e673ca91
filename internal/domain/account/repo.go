package account

import (
	"context"

	"github.com/google/uuid"
)

type RefreshTokenRepository interface {
	Create(ctx context.Context, t *RefreshToken) error
	// GetByHashForUpdate row-locks the token until the surrounding
	// transaction ends.
	GetByHashForUpdate(ctx context.Context, hash string) (*RefreshToken, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeByHash(ctx context.Context, hash string) (bool, error)
}
