package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/doctorbook/doctorbook/internal/domain/directory"
	"github.com/doctorbook/doctorbook/internal/platform/auth"
)

// Transactor runs fn inside one database transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Config struct {
	RefreshTTL time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

type Service struct {
	users      directory.UserRepository
	tokens     RefreshTokenRepository
	tx         Transactor
	issuer     *auth.TokenIssuer
	refreshTTL time.Duration
	cost       int
	now        func() time.Time
	logger     zerolog.Logger
}

func NewService(users directory.UserRepository, tokens RefreshTokenRepository, tx Transactor,
	issuer *auth.TokenIssuer, cfg Config, logger zerolog.Logger) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	return &Service{
		users:      users,
		tokens:     tokens,
		tx:         tx,
		issuer:     issuer,
		refreshTTL: cfg.RefreshTTL,
		cost:       cfg.BcryptCost,
		now:        time.Now,
		logger:     logger,
	}
}

type RegisterInput struct {
	Email    string
	Username string
	Password string
	FullName string
	Role     string
	Phone    *string
}

// Register creates a patient or doctor account and signs it in. Admin
// accounts cannot be self-registered.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	role := in.Role
	if role == "" {
		role = auth.RolePatient
	}
	if role != auth.RolePatient && role != auth.RoleDoctor {
		return nil, ErrRoleNotAllowed
	}
	if len(in.Password) < 8 {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &directory.User{
		Email:        strings.TrimSpace(in.Email),
		Username:     strings.TrimSpace(in.Username),
		FullName:     strings.TrimSpace(in.FullName),
		PasswordHash: string(hash),
		Role:         role,
		Phone:        in.Phone,
		IsActive:     true,
	}

	var sess *Session
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		var err error
		sess, err = s.issue(ctx, u)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", role).Msg("account registered")
	return sess, nil
}

// Login authenticates by username or email.
func (s *Service) Login(ctx context.Context, login, password string) (*Session, error) {
	u, err := s.users.GetByLogin(ctx, strings.TrimSpace(login))
	if errors.Is(err, directory.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrAccountDisabled
	}
	return s.issue(ctx, u)
}

// Refresh rotates a refresh token. The stored token is row-locked, so two
// concurrent refreshes with the same token yield exactly one new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	var sess *Session
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		stored, err := s.tokens.GetByHashForUpdate(ctx, hashToken(refreshToken))
		if err != nil {
			return err
		}
		if stored.Revoked {
			s.logger.Warn().Str("user_id", stored.UserID.String()).Msg("revoked refresh token presented")
			return ErrInvalidRefreshToken
		}
		if !s.now().Before(stored.ExpiresAt) {
			return ErrInvalidRefreshToken
		}
		if err := s.tokens.Revoke(ctx, stored.ID); err != nil {
			return err
		}

		u, err := s.users.GetByID(ctx, stored.UserID)
		if err != nil {
			return err
		}
		if !u.IsActive {
			return ErrAccountDisabled
		}
		sess, err = s.issue(ctx, u)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Logout revokes the refresh token. Unknown or already revoked tokens are
// accepted silently.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	_, err := s.tokens.RevokeByHash(ctx, hashToken(refreshToken))
	return err
}

func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*directory.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *Service) issue(ctx context.Context, u *directory.User) (*Session, error) {
	access, exp, err := s.issuer.Issue(u.ID.String(), []string{u.Role})
	if err != nil {
		return nil, err
	}
	opaque, err := newOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	rt := &RefreshToken{
		UserID:    u.ID,
		TokenHash: hashToken(opaque),
		ExpiresAt: s.now().Add(s.refreshTTL),
	}
	if err := s.tokens.Create(ctx, rt); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return &Session{
		TokenPair: TokenPair{
			AccessToken:  access,
			RefreshToken: opaque,
			TokenType:    "bearer",
			ExpiresIn:    int(s.issuer.TTL().Seconds()),
			ExpiresAt:    exp,
		},
		User: u,
	}, nil
}
