package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/doctorbook/doctorbook/internal/platform/auth"
)

// Appointment statuses. Cancelled and completed are terminal.
const (
	StatusBooked    = "booked"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

// Slot is one bookable interval of a doctor's time.
type Slot struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	IsBooked  bool      `json:"is_booked"`
	CreatedAt time.Time `json:"created_at"`
}

type Appointment struct {
	ID                uuid.UUID `json:"id"`
	SlotID            uuid.UUID `json:"slot_id"`
	PatientID         uuid.UUID `json:"patient_id"`
	Status            string    `json:"status"`
	Reason            *string   `json:"reason,omitempty"`
	Notes             *string   `json:"notes,omitempty"`
	PrescriptionNotes *string   `json:"prescription_notes,omitempty"`
	Medications       *string   `json:"medications,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// AppointmentDetail is an appointment joined with its slot and the people
// involved.
type AppointmentDetail struct {
	Appointment
	Slot           Slot      `json:"slot"`
	PatientName    string    `json:"patient_name"`
	PatientEmail   string    `json:"patient_email"`
	PatientPhone   *string   `json:"patient_phone,omitempty"`
	DoctorUserID   uuid.UUID `json:"doctor_user_id"`
	DoctorName     string    `json:"doctor_name"`
	DoctorEmail    string    `json:"doctor_email"`
	DoctorPhone    *string   `json:"doctor_phone,omitempty"`
	Specialization string    `json:"specialization"`
}

// Actor is the caller on whose behalf an operation runs. DoctorID is set
// when the user owns a doctor profile.
type Actor struct {
	UserID   uuid.UUID
	Role     string
	DoctorID *uuid.UUID
}

func (a Actor) IsAdmin() bool { return a.Role == auth.RoleAdmin }

// OwnsDoctor reports whether the actor is the doctor with the given id.
func (a Actor) OwnsDoctor(doctorID uuid.UUID) bool {
	return a.DoctorID != nil && *a.DoctorID == doctorID
}

// Prescription is attached to an appointment when it is completed.
type Prescription struct {
	Notes       string
	Medications string
}

type SlotFilter struct {
	From          *time.Time
	Until         *time.Time
	AvailableOnly bool
}

// AvailabilityQuery selects unbooked slots of any of DoctorIDs starting
// within [From, Until], both ends inclusive.
type AvailabilityQuery struct {
	DoctorIDs []uuid.UUID
	From      time.Time
	Until     time.Time
}

type AppointmentFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    string
}
