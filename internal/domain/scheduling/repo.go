package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SlotRepository interface {
	Create(ctx context.Context, sl *Slot) error
	// CreateBatch inserts slots, skipping any whose (doctor, start) pair
	// already exists, and returns the number inserted.
	CreateBatch(ctx context.Context, slots []*Slot) (int, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	// GetForUpdate row-locks the slot until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error)
	SetBooked(ctx context.Context, id uuid.UUID, booked bool) error
	HasAppointments(ctx context.Context, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// DeleteFutureUnbooked removes the doctor's unbooked slots starting after
	// the given instant that have never had an appointment.
	DeleteFutureUnbooked(ctx context.Context, doctorID uuid.UUID, after time.Time) (int, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, f SlotFilter, limit, offset int) ([]*Slot, int, error)
	FindAvailable(ctx context.Context, q AvailabilityQuery) ([]*Slot, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	// GetWithSlotForUpdate loads the appointment and its slot and row-locks
	// both with a single statement.
	GetWithSlotForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, *Slot, error)
	Update(ctx context.Context, a *Appointment) error
	GetDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*AppointmentDetail, int, error)
}

// Transactor runs fn inside one database transaction carried by the context
// passed to fn.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
