package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalid marks input rejected by the service before reaching storage.
var ErrInvalid = errors.New("invalid input")

type Service struct {
	users           UserRepository
	specializations SpecializationRepository
	doctors         DoctorRepository
}

func NewService(users UserRepository, specs SpecializationRepository, doctors DoctorRepository) *Service {
	return &Service{users: users, specializations: specs, doctors: doctors}
}

// -- Users --

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, role, limit, offset)
}

// -- Specializations --

func (s *Service) CreateSpecialization(ctx context.Context, spec *Specialization) error {
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	return s.specializations.Create(ctx, spec)
}

func (s *Service) ListSpecializations(ctx context.Context) ([]*Specialization, error) {
	return s.specializations.List(ctx)
}

// SearchSpecializations returns the specializations whose name contains
// fragment, case-insensitively.
func (s *Service) SearchSpecializations(ctx context.Context, fragment string) ([]*Specialization, error) {
	return s.specializations.SearchByName(ctx, fragment)
}

func (s *Service) DeleteSpecialization(ctx context.Context, id uuid.UUID) error {
	return s.specializations.Delete(ctx, id)
}

// -- Doctors --

// CreateDoctor attaches a doctor profile to an existing doctor-role user.
func (s *Service) CreateDoctor(ctx context.Context, d *Doctor) (*DoctorProfile, error) {
	if d.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalid)
	}
	if d.ExperienceYears < 0 || d.ConsultationFeeCents < 0 {
		return nil, fmt.Errorf("%w: experience and fee must not be negative", ErrInvalid)
	}
	u, err := s.users.GetByID(ctx, d.UserID)
	if err != nil {
		return nil, err
	}
	if u.Role != "doctor" {
		return nil, ErrNotDoctorAccount
	}
	if _, err := s.specializations.GetByID(ctx, d.SpecializationID); err != nil {
		return nil, err
	}
	if err := s.doctors.Create(ctx, d); err != nil {
		return nil, err
	}
	return s.doctors.GetByID(ctx, d.ID)
}

// DoctorUpdate carries the fields of a partial doctor update. Nil fields are
// left unchanged.
type DoctorUpdate struct {
	SpecializationID     *uuid.UUID
	Bio                  *string
	Qualification        *string
	ExperienceYears      *int
	ConsultationFeeCents *int
	IsActive             *bool
}

func (s *Service) UpdateDoctor(ctx context.Context, id uuid.UUID, upd DoctorUpdate) (*DoctorProfile, error) {
	p, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d := p.Doctor
	if upd.SpecializationID != nil {
		d.SpecializationID = *upd.SpecializationID
	}
	if upd.Bio != nil {
		d.Bio = upd.Bio
	}
	if upd.Qualification != nil {
		d.Qualification = upd.Qualification
	}
	if upd.ExperienceYears != nil {
		d.ExperienceYears = *upd.ExperienceYears
	}
	if upd.ConsultationFeeCents != nil {
		d.ConsultationFeeCents = *upd.ConsultationFeeCents
	}
	if upd.IsActive != nil {
		d.IsActive = *upd.IsActive
	}
	if d.ExperienceYears < 0 || d.ConsultationFeeCents < 0 {
		return nil, fmt.Errorf("%w: experience and fee must not be negative", ErrInvalid)
	}
	if err := s.doctors.Update(ctx, &d); err != nil {
		return nil, err
	}
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*DoctorProfile, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context, f DoctorFilter, limit, offset int) ([]*DoctorProfile, int, error) {
	return s.doctors.List(ctx, f, limit, offset)
}

// DoctorIDByUser returns the doctor id owned by userID, or ErrDoctorNotFound
// when the user has no doctor profile.
func (s *Service) DoctorIDByUser(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	p, err := s.doctors.GetByUserID(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}
