package directory

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/doctorbook/doctorbook/internal/platform/auth"
	"github.com/doctorbook/doctorbook/internal/platform/validation"
	"github.com/doctorbook/doctorbook/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/specializations", h.ListSpecializations)
	api.GET("/doctors", h.ListDoctors)
	api.GET("/doctors/:id", h.GetDoctor)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/specializations", h.CreateSpecialization)
	admin.DELETE("/specializations/:id", h.DeleteSpecialization)
	admin.POST("/doctors", h.CreateDoctor)
	admin.PUT("/doctors/:id", h.UpdateDoctor)
	admin.GET("/users", h.ListUsers)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrSpecializationNotFound), errors.Is(err, ErrDoctorNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSpecializationExists), errors.Is(err, ErrSpecializationInUse),
		errors.Is(err, ErrDoctorExists), errors.Is(err, ErrEmailTaken), errors.Is(err, ErrUsernameTaken):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotDoctorAccount):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
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

// -- Specialization Handlers --

type specializationRequest struct {
	Name        string  `json:"name" validate:"required,max=100"`
	Description *string `json:"description"`
	Icon        *string `json:"icon" validate:"omitempty,max=50"`
}

func (h *Handler) CreateSpecialization(c echo.Context) error {
	var req specializationRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	spec := &Specialization{Name: req.Name, Description: req.Description, Icon: req.Icon}
	if err := h.svc.CreateSpecialization(c.Request().Context(), spec); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, spec)
}

func (h *Handler) ListSpecializations(c echo.Context) error {
	items, err := h.svc.ListSpecializations(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Specialization{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DeleteSpecialization(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSpecialization(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Doctor Handlers --

type createDoctorRequest struct {
	UserID               uuid.UUID `json:"user_id" validate:"required"`
	SpecializationID     uuid.UUID `json:"specialization_id" validate:"required"`
	Bio                  *string   `json:"bio"`
	Qualification        *string   `json:"qualification" validate:"omitempty,max=255"`
	ExperienceYears      int       `json:"experience_years" validate:"min=0"`
	ConsultationFeeCents int       `json:"consultation_fee_cents" validate:"min=0"`
	IsActive             *bool     `json:"is_active"`
}

func (h *Handler) CreateDoctor(c echo.Context) error {
	var req createDoctorRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	d := &Doctor{
		UserID:               req.UserID,
		SpecializationID:     req.SpecializationID,
		Bio:                  req.Bio,
		Qualification:        req.Qualification,
		ExperienceYears:      req.ExperienceYears,
		ConsultationFeeCents: req.ConsultationFeeCents,
		IsActive:             req.IsActive == nil || *req.IsActive,
	}
	p, err := h.svc.CreateDoctor(c.Request().Context(), d)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

type updateDoctorRequest struct {
	SpecializationID     *uuid.UUID `json:"specialization_id"`
	Bio                  *string    `json:"bio"`
	Qualification        *string    `json:"qualification" validate:"omitempty,max=255"`
	ExperienceYears      *int       `json:"experience_years" validate:"omitempty,min=0"`
	ConsultationFeeCents *int       `json:"consultation_fee_cents" validate:"omitempty,min=0"`
	IsActive             *bool      `json:"is_active"`
}

func (h *Handler) UpdateDoctor(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req updateDoctorRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.svc.UpdateDoctor(c.Request().Context(), id, DoctorUpdate(req))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// ListDoctors handles GET /doctors. Only active doctors are listed unless an
// admin passes include_inactive=true.
func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := DoctorFilter{
		NameContains: c.QueryParam("name"),
		ActiveOnly:   !(c.QueryParam("include_inactive") == "true" && auth.HasRole(c.Request().Context(), auth.RoleAdmin)),
	}
	if raw := c.QueryParam("specialization_id"); raw != "" {
		sid, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid specialization_id")
		}
		f.SpecializationID = &sid
	}
	items, total, err := h.svc.ListDoctors(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- User Handlers --

func (h *Handler) ListUsers(c echo.Context) error {
	pg := pagination.FromContext(c)
	role := c.QueryParam("role")
	switch role {
	case "", auth.RolePatient, auth.RoleDoctor, auth.RoleAdmin:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid role")
	}
	items, total, err := h.svc.ListUsers(c.Request().Context(), role, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
