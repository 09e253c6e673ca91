package directory

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	// GetByLogin matches either the username or the email.
	GetByLogin(ctx context.Context, login string) (*User, error)
	List(ctx context.Context, role string, limit, offset int) ([]*User, int, error)
}

type SpecializationRepository interface {
	Create(ctx context.Context, s *Specialization) error
	GetByID(ctx context.Context, id uuid.UUID) (*Specialization, error)
	List(ctx context.Context) ([]*Specialization, error)
	SearchByName(ctx context.Context, fragment string) ([]*Specialization, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*DoctorProfile, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*DoctorProfile, error)
	Update(ctx context.Context, d *Doctor) error
	List(ctx context.Context, f DoctorFilter, limit, offset int) ([]*DoctorProfile, int, error)
}
