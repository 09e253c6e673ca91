package scheduling

import (
	"errors"
	"fmt"

	"github.com/doctorbook/doctorbook/internal/platform/db"
)

// Domain errors. They always roll the transaction back and are never retried.
var (
	ErrSlotNotFound        = errors.New("slot not found")
	ErrSlotAlreadyBooked   = errors.New("slot already booked")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrInvalidState        = errors.New("appointment is not in booked state")

	ErrSlotExists     = errors.New("slot already exists for this doctor and start time")
	ErrSlotBooked     = errors.New("cannot delete a booked slot")
	ErrSlotInPast     = errors.New("slot is in the past")
	ErrSlotHasHistory = errors.New("slot has appointment history")
	ErrUnknownDoctor  = errors.New("doctor not found")
	ErrUnknownPatient = errors.New("patient not found")
	ErrInvalidPlan    = errors.New("invalid slot plan")
)

// ErrConflict reports that the operation lost a race inside the database
// (unique violation, serialization failure, deadlock or lock timeout). Nothing
// was persisted and the caller may retry.
var ErrConflict = errors.New("conflicting concurrent update, please retry")

var domainErrors = []error{
	ErrSlotNotFound, ErrSlotAlreadyBooked, ErrAppointmentNotFound, ErrPermissionDenied,
	ErrInvalidState, ErrSlotExists, ErrSlotBooked, ErrSlotInPast, ErrSlotHasHistory,
	ErrUnknownDoctor, ErrUnknownPatient, ErrInvalidPlan,
}

// IsDomainError reports whether err is one of the package's domain errors.
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// classify maps a failed unit of work onto the error taxonomy: domain errors
// pass through, store-level races become ErrConflict, anything else is an
// infrastructure error.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsDomainError(err), errors.Is(err, ErrConflict):
		return err
	case db.IsConflict(err):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
