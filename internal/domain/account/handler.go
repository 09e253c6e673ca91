package account

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/doctorbook/doctorbook/internal/domain/directory"
	"github.com/doctorbook/doctorbook/internal/platform/auth"
	"github.com/doctorbook/doctorbook/internal/platform/validation"
)

// TokenRevoker denies an access token id until it expires.
type TokenRevoker interface {
	Revoke(jti string, expiresAt time.Time)
}

type Handler struct {
	svc     *Service
	revoker TokenRevoker
}

// NewHandler builds the auth handler. revoker may be nil, in which case
// logout only revokes the refresh token.
func NewHandler(svc *Service, revoker TokenRevoker) *Handler {
	return &Handler{svc: svc, revoker: revoker}
}

// RegisterRoutes mounts the /auth routes. Everything except /auth/me is
// listed as public in auth.AuthSkipper.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/auth")
	g.POST("/register", h.Register)
	g.POST("/login", h.Login)
	g.POST("/refresh", h.Refresh)
	g.POST("/logout", h.Logout)
	g.GET("/me", h.Me)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidRefreshToken):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrAccountDisabled), errors.Is(err, ErrRoleNotAllowed):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrWeakPassword):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, directory.ErrEmailTaken), errors.Is(err, directory.ErrUsernameTaken):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, directory.ErrUserNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

type registerRequest struct {
	Email    string  `json:"email" validate:"required,email"`
	Username string  `json:"username" validate:"required,min=3,max=100"`
	Password string  `json:"password" validate:"required,min=8,max=72"`
	FullName string  `json:"full_name" validate:"required,max=255"`
	Role     string  `json:"role" validate:"omitempty,oneof=patient doctor admin"`
	Phone    *string `json:"phone" validate:"omitempty,max=30"`
}

func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	sess, err := h.svc.Register(c.Request().Context(), RegisterInput(req))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sess)
}

type loginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	sess, err := h.svc.Login(c.Request().Context(), req.Login, req.Password)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (h *Handler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	sess, err := h.svc.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) Logout(c echo.Context) error {
	var req refreshRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.svc.Logout(c.Request().Context(), req.RefreshToken); err != nil {
		return httpError(err)
	}
	// The access token presented with the logout stops working as well.
	if tok, ok := auth.TokenFromContext(c.Request().Context()); ok && h.revoker != nil {
		h.revoker.Revoke(tok.ID, tok.ExpiresAt)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Me(c echo.Context) error {
	uid, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing identity")
	}
	u, err := h.svc.Me(c.Request().Context(), uid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}
