package intent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/doctorbook/doctorbook/internal/domain/scheduling"
	"github.com/doctorbook/doctorbook/internal/platform/auth"
)

// Booker books a slot for a patient.
type Booker interface {
	Book(ctx context.Context, patientID, slotID uuid.UUID, reason string) (*scheduling.Appointment, error)
}

// Reply is the answer to a chat booking request.
type Reply struct {
	Outcome
	Appointment *scheduling.Appointment `json:"appointment,omitempty"`
}

// Assistant resolves chat intents and books the resulting slot.
type Assistant struct {
	resolver *Resolver
	booker   Booker
	logger   zerolog.Logger
}

func NewAssistant(resolver *Resolver, booker Booker, logger zerolog.Logger) *Assistant {
	return &Assistant{resolver: resolver, booker: booker, logger: logger}
}

// BookFromIntent resolves in and, when exactly one slot matches, books it for
// the actor. Booking failures a patient can act on are reported as error
// outcomes; only store failures are returned as errors.
func (a *Assistant) BookFromIntent(ctx context.Context, actor scheduling.Actor, in Intent, reason string) (*Reply, error) {
	if actor.Role != auth.RolePatient {
		return &Reply{Outcome: Outcome{Kind: KindError, Message: "Only patients can book appointments via chat."}}, nil
	}

	out, err := a.resolver.Resolve(ctx, in)
	if err != nil {
		return nil, err
	}
	if out.Kind != KindResolved {
		return &Reply{Outcome: out}, nil
	}

	appt, err := a.booker.Book(ctx, actor.UserID, out.Slot.ID, reason)
	if err != nil {
		msg, ok := bookingMessage(err)
		if !ok {
			return nil, fmt.Errorf("book resolved slot: %w", err)
		}
		a.logger.Info().Err(err).Str("slot_id", out.Slot.ID.String()).Msg("chat booking rejected")
		return &Reply{Outcome: Outcome{Kind: KindError, Message: msg, Slot: out.Slot, Doctor: out.Doctor}}, nil
	}

	start := out.Slot.StartTime.In(a.resolver.loc)
	doctor, spec := "your doctor", ""
	if out.Doctor != nil {
		doctor, spec = "Dr. "+out.Doctor.FullName, out.Doctor.Specialization
	}
	if spec != "" {
		doctor += " (" + spec + ")"
	}
	out.Message = fmt.Sprintf("Appointment booked with %s on %s at %s. Your appointment id is %s.",
		doctor, start.Format("2006-01-02"), start.Format("15:04"), appt.ID)
	return &Reply{Outcome: out, Appointment: appt}, nil
}

func bookingMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, scheduling.ErrSlotAlreadyBooked):
		return "Sorry, that slot has just been booked by someone else. Please choose another time.", true
	case errors.Is(err, scheduling.ErrSlotNotFound):
		return "That slot is no longer available.", true
	case errors.Is(err, scheduling.ErrConflict):
		return "Sorry, there was a conflict while booking that slot. Please try another time.", true
	case scheduling.IsDomainError(err):
		return "That slot could not be booked: " + err.Error() + ".", true
	}
	return "", false
}
