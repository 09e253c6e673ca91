package intent

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/doctorbook/doctorbook/internal/domain/scheduling"
	"github.com/doctorbook/doctorbook/internal/platform/auth"
	"github.com/doctorbook/doctorbook/internal/platform/validation"
)

// ActorFunc resolves the calling actor from a request.
type ActorFunc func(c echo.Context) (scheduling.Actor, error)

type Handler struct {
	assistant *Assistant
	actor     ActorFunc
}

func NewHandler(assistant *Assistant, actor ActorFunc) *Handler {
	return &Handler{assistant: assistant, actor: actor}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/chat")
	g.POST("/resolve", h.Resolve)
	g.POST("/book", h.Book, auth.RequireRole(auth.RolePatient))
}

type chatRequest struct {
	Intent
	Reason string `json:"reason" validate:"max=2000"`
}

// Resolve answers which slot an intent refers to without booking it.
func (h *Handler) Resolve(c echo.Context) error {
	var req chatRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	out, err := h.assistant.resolver.Resolve(c.Request().Context(), req.Intent)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Book(c echo.Context) error {
	actor, err := h.actor(c)
	if err != nil {
		return err
	}
	var req chatRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	reply, err := h.assistant.BookFromIntent(c.Request().Context(), actor, req.Intent, req.Reason)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
	status := http.StatusOK
	if reply.Appointment != nil {
		status = http.StatusCreated
	}
	return c.JSON(status, reply)
}
