package account

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doctorbook/doctorbook/internal/platform/db"
)

type refreshTokenRepoPG struct{ pool *pgxpool.Pool }

func NewRefreshTokenRepoPG(pool *pgxpool.Pool) RefreshTokenRepository {
	return &refreshTokenRepoPG{pool: pool}
}

func (r *refreshTokenRepoPG) Create(ctx context.Context, t *RefreshToken) error {
	t.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, revoked, expires_at)
		VALUES ($1,$2,$3,$4,$5) RETURNING created_at`,
		t.ID, t.UserID, t.TokenHash, t.Revoked, t.ExpiresAt).Scan(&t.CreatedAt)
}

func (r *refreshTokenRepoPG) GetByHashForUpdate(ctx context.Context, hash string) (*RefreshToken, error) {
	var t RefreshToken
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, user_id, token_hash, revoked, expires_at, created_at
		FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE`, hash,
	).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.Revoked, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *refreshTokenRepoPG) Revoke(ctx context.Context, id uuid.UUID) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE id = $1`, id)
	return err
}

func (r *refreshTokenRepoPG) RevokeByHash(ctx context.Context, hash string) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE WHERE token_hash = $1 AND NOT revoked`, hash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
