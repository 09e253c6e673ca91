package scheduling

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/doctorbook/doctorbook/internal/domain/directory"
	"github.com/doctorbook/doctorbook/internal/platform/auth"
	"github.com/doctorbook/doctorbook/internal/platform/validation"
	"github.com/doctorbook/doctorbook/pkg/pagination"
)

// DoctorLookup resolves the doctor profile owned by a user.
type DoctorLookup interface {
	DoctorIDByUser(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
}

type Handler struct {
	svc     *Service
	doctors DoctorLookup
}

func NewHandler(svc *Service, doctors DoctorLookup) *Handler {
	return &Handler{svc: svc, doctors: doctors}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	slots := api.Group("/doctors/:id/slots")
	slots.GET("", h.ListSlots)
	manage := auth.RequireRole(auth.RoleDoctor)
	slots.POST("", h.CreateSlot, manage)
	slots.POST("/bulk", h.GenerateSlots, manage)
	slots.DELETE("/future", h.ClearFutureSlots, manage)
	slots.DELETE("/:slot_id", h.DeleteSlot, manage)

	appts := api.Group("/appointments")
	appts.POST("", h.Book, auth.RequireRole(auth.RolePatient))
	appts.GET("", h.ListAppointments)
	appts.GET("/:id", h.GetAppointment)
	appts.PUT("/:id/cancel", h.Cancel)
	appts.PUT("/:id/complete", h.Complete, auth.RequireRole(auth.RoleDoctor))
}

// HTTPError maps scheduling errors onto HTTP responses. Conflicts are marked
// retryable.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"message":   ErrConflict.Error(),
			"retryable": true,
		}).SetInternal(err)
	case errors.Is(err, ErrSlotNotFound), errors.Is(err, ErrAppointmentNotFound), errors.Is(err, ErrUnknownDoctor),
		errors.Is(err, ErrUnknownPatient):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrPermissionDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrSlotAlreadyBooked), errors.Is(err, ErrInvalidState), errors.Is(err, ErrSlotExists),
		errors.Is(err, ErrSlotBooked), errors.Is(err, ErrSlotHasHistory):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidPlan), errors.Is(err, ErrSlotInPast):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// Actor builds the caller's Actor from the authenticated identity. The
// primary role is the most privileged one held.
func (h *Handler) Actor(c echo.Context) (Actor, error) {
	ctx := c.Request().Context()
	uid, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "missing identity")
	}
	a := Actor{UserID: uid, Role: auth.RolePatient}
	isDoctor := false
	for _, r := range auth.RolesFromContext(ctx) {
		switch r {
		case auth.RoleAdmin:
			a.Role = auth.RoleAdmin
		case auth.RoleDoctor:
			isDoctor = true
			if a.Role != auth.RoleAdmin {
				a.Role = auth.RoleDoctor
			}
		}
	}
	if isDoctor && h.doctors != nil {
		did, err := h.doctors.DoctorIDByUser(ctx, uid)
		switch {
		case err == nil:
			a.DoctorID = &did
		case errors.Is(err, directory.ErrDoctorNotFound):
		default:
			return Actor{}, echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
		}
	}
	return a, nil
}

// -- Slot Handlers --

type slotRequest struct {
	Date            string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime       string `json:"start_time" validate:"required,hhmm"`
	DurationMinutes int    `json:"duration_minutes" validate:"omitempty,min=5,max=480"`
}

func (h *Handler) CreateSlot(c echo.Context) error {
	doctorID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	actor, err := h.Actor(c)
	if err != nil {
		return err
	}
	var req slotRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	start, err := time.ParseInLocation("2006-01-02 15:04", req.Date+" "+req.StartTime, h.svc.Location())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date or start_time")
	}
	sl, err := h.svc.CreateSlot(c.Request().Context(), actor, doctorID, start,
		time.Duration(req.DurationMinutes)*time.Minute)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, sl)
}

// bulkSlotRequest mirrors GeneratePlan. DaysOfWeek counts from 0 = Monday.
type bulkSlotRequest struct {
	StartDate           string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate             string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Weeks               int    `json:"weeks" validate:"omitempty,min=1,max=52"`
	DaysOfWeek          []int  `json:"days_of_week" validate:"omitempty,dive,min=0,max=6"`
	StartTime           string `json:"start_time" validate:"required,hhmm"`
	EndTime             string `json:"end_time" validate:"required,hhmm"`
	SlotDurationMinutes int    `json:"slot_duration_minutes" validate:"omitempty,min=5,max=480"`
	LunchStart          string `json:"lunch_start" validate:"omitempty,hhmm"`
	LunchEnd            string `json:"lunch_end" validate:"omitempty,hhmm"`
}

func (r bulkSlotRequest) plan(loc *time.Location) (GeneratePlan, error) {
	var p GeneratePlan
	var err error
	if p.StartDate, err = time.ParseInLocation("2006-01-02", r.StartDate, loc); err != nil {
		return p, err
	}
	if r.EndDate != "" {
		if p.EndDate, err = time.ParseInLocation("2006-01-02", r.EndDate, loc); err != nil {
			return p, err
		}
	}
	p.Weeks = r.Weeks
	for _, d := range r.DaysOfWeek {
		p.Weekdays = append(p.Weekdays, time.Weekday((d+1)%7))
	}
	if p.DayStart, err = ParseClock(r.StartTime); err != nil {
		return p, err
	}
	if p.DayEnd, err = ParseClock(r.EndTime); err != nil {
		return p, err
	}
	p.SlotLength = time.Duration(r.SlotDurationMinutes) * time.Minute
	if r.LunchStart != "" {
		ls, err := ParseClock(r.LunchStart)
		if err != nil {
			return p, err
		}
		p.LunchStart = &ls
	}
	if r.LunchEnd != "" {
		le, err := ParseClock(r.LunchEnd)
		if err != nil {
			return p, err
		}
		p.LunchEnd = &le
	}
	return p, nil
}

func (h *Handler) GenerateSlots(c echo.Context) error {
	doctorID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	actor, err := h.Actor(c)
	if err != nil {
		return err
	}
	var req bulkSlotRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	plan, err := req.plan(h.svc.Location())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.GenerateSlots(c.Request().Context(), actor, doctorID, plan)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, map[string]int{"created": n})
}

func (h *Handler) ListSlots(c echo.Context) error {
	doctorID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := SlotFilter{AvailableOnly: c.QueryParam("available") == "true"}
	if raw := c.QueryParam("date"); raw != "" {
		day, err := time.ParseInLocation("2006-01-02", raw, h.svc.Location())
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		until := day.AddDate(0, 0, 1).Add(-time.Nanosecond)
		f.From, f.Until = &day, &until
	}
	items, total, err := h.svc.ListSlots(c.Request().Context(), doctorID, f, pg.Limit, pg.Offset)
	if err != nil {
		return HTTPError(err)
	}
	if items == nil {
		items = []*Slot{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) DeleteSlot(c echo.Context) error {
	doctorID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	slotID, err := parseID(c, "slot_id")
	if err != nil {
		return err
	}
	actor, err := h.Actor(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSlot(c.Request().Context(), actor, doctorID, slotID); err != nil {
		return HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ClearFutureSlots(c echo.Context) error {
	doctorID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	actor, err := h.Actor(c)
	if err != nil {
		return err
	}
	n, err := h.svc.ClearFutureSlots(c.Request().Context(), actor, doctorID)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"deleted": n})
}

// -- Appointment Handlers --

type bookRequest struct {
	SlotID uuid.UUID `json:"slot_id" validate:"required"`
	Reason string    `json:"reason" validate:"max=2000"`
	// PatientID lets an admin book on a patient's behalf.
	PatientID *uuid.UUID `json:"patient_id"`
}

func (h *Handler) Book(c echo.Context) error {
	actor, err := h.Actor(c)
	if err != nil {
		return err
	}
	var req bookRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	patientID := actor.UserID
	if actor.IsAdmin() {
		if req.PatientID == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required when booking as admin")
		}
		patientID = *req.PatientID
	} else if req.PatientID != nil && *req.PatientID != actor.UserID {
		return HTTPError(ErrPermissionDenied)
	}
	appt, err := h.svc.Book(c.Request().Context(), patientID, req.SlotID, req.Reason)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	actor, err := h.Actor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	status := c.QueryParam("status")
	switch status {
	case "", StatusBooked, StatusCancelled, StatusCompleted:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}
	items, total, err := h.svc.ListAppointments(c.Request().Context(), actor, status, pg.Limit, pg.Offset)
	if err != nil {
		return HTTPError(err)
	}
	if items == nil {
		items = []*AppointmentDetail{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	actor, err := h.Actor(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetAppointment(c.Request().Context(), actor, id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	actor, err := h.Actor(c)
	if err != nil {
		return err
	}
	appt, err := h.svc.Cancel(c.Request().Context(), actor, id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

type completeRequest struct {
	PrescriptionNotes string `json:"prescription_notes" validate:"max=10000"`
	Medications       string `json:"medications" validate:"max=10000"`
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	actor, err := h.Actor(c)
	if err != nil {
		return err
	}
	if actor.DoctorID == nil {
		return HTTPError(ErrPermissionDenied)
	}
	var req completeRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	appt, err := h.svc.Complete(c.Request().Context(), *actor.DoctorID, id, Prescription{
		Notes:       req.PrescriptionNotes,
		Medications: req.Medications,
	})
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, appt)
}
