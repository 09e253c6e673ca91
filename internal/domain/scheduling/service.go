package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/doctorbook/doctorbook/internal/platform/auth"
	"github.com/doctorbook/doctorbook/internal/platform/notification"
)

type Config struct {
	// Location is the clinic time zone used for slot generation and for
	// dates shown in notifications.
	Location   *time.Location
	SlotLength time.Duration
	// NotifySMS enables the SMS notice to the doctor on new bookings.
	NotifySMS bool
}

type Service struct {
	slots        SlotRepository
	appointments AppointmentRepository
	tx           Transactor
	queue        notification.Queue
	cfg          Config
	now          func() time.Time
	logger       zerolog.Logger
}

func NewService(slots SlotRepository, appts AppointmentRepository, tx Transactor, queue notification.Queue, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SlotLength <= 0 {
		cfg.SlotLength = DefaultSlotLength
	}
	return &Service{
		slots:        slots,
		appointments: appts,
		tx:           tx,
		queue:        queue,
		cfg:          cfg,
		now:          time.Now,
		logger:       logger,
	}
}

// Location is the clinic time zone.
func (s *Service) Location() *time.Location { return s.cfg.Location }

func canManage(actor Actor, doctorID uuid.UUID) bool {
	return actor.IsAdmin() || actor.OwnsDoctor(doctorID)
}

// -- Slot management --

// CreateSlot adds a single slot of the given length (the configured default
// when zero) starting at start.
func (s *Service) CreateSlot(ctx context.Context, actor Actor, doctorID uuid.UUID, start time.Time, length time.Duration) (*Slot, error) {
	if !canManage(actor, doctorID) {
		return nil, ErrPermissionDenied
	}
	if length <= 0 {
		length = s.cfg.SlotLength
	}
	if !start.After(s.now()) {
		return nil, ErrSlotInPast
	}
	sl := &Slot{DoctorID: doctorID, StartTime: start, EndTime: start.Add(length)}
	if err := s.slots.Create(ctx, sl); err != nil {
		return nil, classify("create slot", err)
	}
	s.logger.Info().Str("slot_id", sl.ID.String()).Str("doctor_id", doctorID.String()).
		Time("start_time", start).Msg("slot created")
	return sl, nil
}

// GenerateSlots creates every slot of plan that does not already exist and
// returns how many were created.
func (s *Service) GenerateSlots(ctx context.Context, actor Actor, doctorID uuid.UUID, plan GeneratePlan) (int, error) {
	if !canManage(actor, doctorID) {
		return 0, ErrPermissionDenied
	}
	if plan.SlotLength <= 0 {
		plan.SlotLength = s.cfg.SlotLength
	}
	slots, err := GenerateSlots(doctorID, plan, s.cfg.Location)
	if err != nil {
		return 0, err
	}

	now := s.now()
	future := slots[:0]
	for _, sl := range slots {
		if sl.StartTime.After(now) {
			future = append(future, sl)
		}
	}

	var created int
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.slots.CreateBatch(ctx, future)
		return err
	})
	if err != nil {
		return 0, classify("generate slots", err)
	}
	s.logger.Info().Str("doctor_id", doctorID.String()).Int("candidates", len(future)).
		Int("created", created).Msg("slots generated")
	return created, nil
}

// DeleteSlot removes an unbooked future slot that never had an appointment.
func (s *Service) DeleteSlot(ctx context.Context, actor Actor, doctorID, slotID uuid.UUID) error {
	if !canManage(actor, doctorID) {
		return ErrPermissionDenied
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		sl, err := s.slots.GetForUpdate(ctx, slotID)
		if err != nil {
			return err
		}
		if sl.DoctorID != doctorID {
			return ErrSlotNotFound
		}
		if sl.IsBooked {
			return ErrSlotBooked
		}
		if !sl.StartTime.After(s.now()) {
			return ErrSlotInPast
		}
		hist, err := s.slots.HasAppointments(ctx, slotID)
		if err != nil {
			return err
		}
		if hist {
			return ErrSlotHasHistory
		}
		return s.slots.Delete(ctx, slotID)
	})
	return classify("delete slot", err)
}

// ClearFutureSlots deletes all of the doctor's unbooked future slots without
// appointment history and returns how many were removed.
func (s *Service) ClearFutureSlots(ctx context.Context, actor Actor, doctorID uuid.UUID) (int, error) {
	if !canManage(actor, doctorID) {
		return 0, ErrPermissionDenied
	}
	n, err := s.slots.DeleteFutureUnbooked(ctx, doctorID, s.now())
	if err != nil {
		return 0, classify("clear future slots", err)
	}
	s.logger.Info().Str("doctor_id", doctorID.String()).Int("deleted", n).Msg("future slots cleared")
	return n, nil
}

func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return s.slots.GetByID(ctx, id)
}

func (s *Service) ListSlots(ctx context.Context, doctorID uuid.UUID, f SlotFilter, limit, offset int) ([]*Slot, int, error) {
	return s.slots.ListByDoctor(ctx, doctorID, f, limit, offset)
}

// FindAvailable returns unbooked slots matching q ordered by start time. It
// always reads the store; availability is never cached.
func (s *Service) FindAvailable(ctx context.Context, q AvailabilityQuery) ([]*Slot, error) {
	if q.Until.Before(q.From) {
		return nil, fmt.Errorf("availability window ends before it starts")
	}
	return s.slots.FindAvailable(ctx, q)
}

// -- Appointment queries --

// ListAppointments scopes the listing by role: patients see their own,
// doctors see their slots, admins see everything.
func (s *Service) ListAppointments(ctx context.Context, actor Actor, status string, limit, offset int) ([]*AppointmentDetail, int, error) {
	f := AppointmentFilter{Status: status}
	switch {
	case actor.IsAdmin():
	case actor.Role == auth.RoleDoctor:
		if actor.DoctorID == nil {
			return nil, 0, nil
		}
		f.DoctorID = actor.DoctorID
	default:
		f.PatientID = &actor.UserID
	}
	return s.appointments.List(ctx, f, limit, offset)
}

// GetAppointment returns the appointment if the actor is its patient, the
// doctor owning its slot or an admin.
func (s *Service) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*AppointmentDetail, error) {
	d, err := s.appointments.GetDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && d.PatientID != actor.UserID && !actor.OwnsDoctor(d.Slot.DoctorID) {
		return nil, ErrPermissionDenied
	}
	return d, nil
}
