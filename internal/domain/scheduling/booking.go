package scheduling

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/doctorbook/doctorbook/internal/platform/db"
	"github.com/doctorbook/doctorbook/internal/platform/notification"
)

// Book creates a booked appointment for patientID on slotID. The slot row is
// locked before its state is read, so concurrent bookers of one slot are
// linearized and exactly one of them succeeds.
func (s *Service) Book(ctx context.Context, patientID, slotID uuid.UUID, reason string) (*Appointment, error) {
	var appt *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		sl, err := s.slots.GetForUpdate(ctx, slotID)
		if err != nil {
			return err
		}
		if sl.IsBooked {
			return ErrSlotAlreadyBooked
		}

		a := &Appointment{
			SlotID:    sl.ID,
			PatientID: patientID,
			Status:    StatusBooked,
			Reason:    optional(reason),
		}
		if err := s.appointments.Create(ctx, a); err != nil {
			if db.IsForeignKeyViolation(err) {
				return ErrUnknownPatient
			}
			return err
		}
		if err := s.slots.SetBooked(ctx, sl.ID, true); err != nil {
			return err
		}
		appt = a
		return nil
	})
	if err != nil {
		s.logger.Debug().Err(err).Str("slot_id", slotID.String()).Msg("booking rejected")
		return nil, classify("book slot", err)
	}

	s.logger.Info().Str("appointment_id", appt.ID.String()).Str("slot_id", slotID.String()).
		Str("patient_id", patientID.String()).Msg("appointment booked")
	s.notify(ctx, appt.ID, notification.TemplateBookingConfirmation)
	return appt, nil
}

// Cancel moves a booked appointment to cancelled and frees its slot. The
// appointment's patient, the doctor owning the slot and admins may cancel.
// Cancelling twice fails with ErrInvalidState.
func (s *Service) Cancel(ctx context.Context, actor Actor, appointmentID uuid.UUID) (*Appointment, error) {
	var appt *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, sl, err := s.appointments.GetWithSlotForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if a.PatientID != actor.UserID && !actor.IsAdmin() && !actor.OwnsDoctor(sl.DoctorID) {
			return ErrPermissionDenied
		}
		if a.Status != StatusBooked {
			return ErrInvalidState
		}

		a.Status = StatusCancelled
		if err := s.appointments.Update(ctx, a); err != nil {
			return err
		}
		if err := s.slots.SetBooked(ctx, sl.ID, false); err != nil {
			return err
		}
		appt = a
		return nil
	})
	if err != nil {
		return nil, classify("cancel appointment", err)
	}

	s.logger.Info().Str("appointment_id", appt.ID.String()).Str("slot_id", appt.SlotID.String()).
		Str("actor_id", actor.UserID.String()).Msg("appointment cancelled")
	s.notify(ctx, appt.ID, notification.TemplateCancelledPatient)
	return appt, nil
}

// Complete moves a booked appointment to completed. Only the doctor owning
// the slot may complete it. The slot stays booked.
func (s *Service) Complete(ctx context.Context, doctorID, appointmentID uuid.UUID, rx Prescription) (*Appointment, error) {
	var appt *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, sl, err := s.appointments.GetWithSlotForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if sl.DoctorID != doctorID {
			return ErrPermissionDenied
		}
		if a.Status != StatusBooked {
			return ErrInvalidState
		}

		a.Status = StatusCompleted
		a.PrescriptionNotes = optional(rx.Notes)
		a.Medications = optional(rx.Medications)
		if err := s.appointments.Update(ctx, a); err != nil {
			return err
		}
		appt = a
		return nil
	})
	if err != nil {
		return nil, classify("complete appointment", err)
	}

	s.logger.Info().Str("appointment_id", appt.ID.String()).Str("doctor_id", doctorID.String()).
		Msg("appointment completed")
	s.notify(ctx, appt.ID, notification.TemplatePrescription)
	return appt, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// notify enqueues the messages for a committed transition. It runs after
// commit and only logs failures; the transition has already happened.
func (s *Service) notify(ctx context.Context, appointmentID uuid.UUID, event string) {
	if s.queue == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	d, err := s.appointments.GetDetail(ctx, appointmentID)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", appointmentID.String()).Msg("load appointment for notification")
		return
	}

	start := d.Slot.StartTime.In(s.cfg.Location)
	data := map[string]string{
		"appointment_id":     d.ID.String(),
		"patient_name":       d.PatientName,
		"doctor_name":        d.DoctorName,
		"specialization":     d.Specialization,
		"date":               start.Format("2006-01-02"),
		"time":               start.Format("15:04"),
		"reason":             deref(d.Reason),
		"prescription_notes": deref(d.PrescriptionNotes),
		"medications":        deref(d.Medications),
	}

	toPatient := func(template string) notification.Message {
		return notification.Message{Template: template, Recipient: d.PatientEmail, RecipientName: d.PatientName, Data: data}
	}
	toDoctor := func(template string) notification.Message {
		return notification.Message{Template: template, Recipient: d.DoctorEmail, RecipientName: d.DoctorName, Data: data}
	}

	var msgs []notification.Message
	switch event {
	case notification.TemplateBookingConfirmation:
		msgs = append(msgs,
			toPatient(notification.TemplateBookingConfirmation),
			toDoctor(notification.TemplateDoctorNewAppointment))
		if s.cfg.NotifySMS && d.DoctorPhone != nil && *d.DoctorPhone != "" {
			sms := toDoctor(notification.TemplateDoctorNewSMS)
			sms.Recipient = *d.DoctorPhone
			msgs = append(msgs, sms)
		}
	case notification.TemplateCancelledPatient:
		msgs = append(msgs,
			toPatient(notification.TemplateCancelledPatient),
			toDoctor(notification.TemplateCancelledDoctor))
	case notification.TemplatePrescription:
		msgs = append(msgs, toPatient(notification.TemplatePrescription))
	}

	for _, msg := range msgs {
		msg.ID = d.ID.String() + ":" + msg.Template
		if err := s.queue.Enqueue(ctx, msg); err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", d.ID.String()).
				Str("template", msg.Template).Msg("enqueue notification")
		}
	}
}
