package directory

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound           = errors.New("user not found")
	ErrEmailTaken             = errors.New("email already registered")
	ErrUsernameTaken          = errors.New("username already taken")
	ErrSpecializationNotFound = errors.New("specialization not found")
	ErrSpecializationExists   = errors.New("specialization already exists")
	ErrSpecializationInUse    = errors.New("specialization has doctors assigned")
	ErrDoctorNotFound         = errors.New("doctor not found")
	ErrDoctorExists           = errors.New("user already has a doctor profile")
	ErrNotDoctorAccount       = errors.New("user does not have the doctor role")
)

// User is an account holder. The role is one of patient, doctor or admin.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Phone        *string   `json:"phone,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Specialization struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Icon        *string   `json:"icon,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Doctor links a doctor-role user to a specialization.
type Doctor struct {
	ID                   uuid.UUID `json:"id"`
	UserID               uuid.UUID `json:"user_id"`
	SpecializationID     uuid.UUID `json:"specialization_id"`
	Bio                  *string   `json:"bio,omitempty"`
	Qualification        *string   `json:"qualification,omitempty"`
	ExperienceYears      int       `json:"experience_years"`
	ConsultationFeeCents int       `json:"consultation_fee_cents"`
	IsActive             bool      `json:"is_active"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// DoctorProfile is a Doctor joined with its user and specialization.
type DoctorProfile struct {
	Doctor
	FullName       string  `json:"full_name"`
	Email          string  `json:"email"`
	Phone          *string `json:"phone,omitempty"`
	Specialization string  `json:"specialization"`
}

// DisplayName renders "Dr. Name (Specialization)".
func (p *DoctorProfile) DisplayName() string {
	spec := p.Specialization
	if spec == "" {
		spec = "General"
	}
	return "Dr. " + p.FullName + " (" + spec + ")"
}

// DoctorFilter narrows doctor listings. Zero values do not filter.
type DoctorFilter struct {
	SpecializationID *uuid.UUID
	NameContains     string
	ActiveOnly       bool
}
