package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/doctorbook/doctorbook/internal/platform/auth"
)

const apiPrefix = "/api/v1/"

// AuditEntry records one state-changing API call.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string
	ResourceID string
	Action     string
	Route      string
	Method     string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// collections are the route segments that name a resource. The parameter
// following one is taken as its id.
var collections = map[string]bool{
	"appointments":    true,
	"slots":           true,
	"doctors":         true,
	"specializations": true,
	"users":           true,
	"chat":            true,
}

// verbs map trailing route segments to actions.
var verbs = map[string]string{
	"cancel":   "cancel",
	"complete": "complete",
	"bulk":     "generate",
	"future":   "clear",
	"book":     "book",
	"resolve":  "resolve",
}

// Audit logs every non-GET call under /api/v1 with the caller's identity, the
// resource touched and the outcome. It must run after authentication. Calls
// to /api/v1/auth are skipped. Recorder failures are logged and never fail
// the request.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditable(req.Method, c.Path()) {
				return next(c)
			}

			err := next(c)

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Route:      c.Path(),
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				StatusCode: responseStatus(c, err),
			}
			ctx := req.Context()
			entry.UserID = auth.UserIDFromContext(ctx)
			entry.UserRoles = auth.RolesFromContext(ctx)
			entry.RequestID, _ = c.Get("request_id").(string)
			entry.Resource, entry.ResourceID, entry.Action = describeRoute(c)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("action", entry.Action).
				Str("route", entry.Route).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("api_change")

			return err
		}
	}
}

func isAuditable(method, route string) bool {
	if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
		return false
	}
	return strings.HasPrefix(route, apiPrefix) && !strings.HasPrefix(route, apiPrefix+"auth/")
}

func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	return http.StatusInternalServerError
}

// describeRoute derives resource, id and action from the matched route, e.g.
// "/api/v1/appointments/:id/cancel" gives appointments, <id>, cancel.
func describeRoute(c echo.Context) (resource, id, action string) {
	for _, seg := range strings.Split(strings.TrimPrefix(c.Path(), apiPrefix), "/") {
		switch {
		case seg == "":
		case strings.HasPrefix(seg, ":"):
			if resource != "" && id == "" {
				id = c.Param(seg[1:])
			}
		case collections[seg]:
			resource, id = seg, ""
		default:
			if v, ok := verbs[seg]; ok {
				action = v
			}
		}
	}
	if action == "" {
		action = methodAction(c.Request().Method)
	}
	if resource == "" {
		resource = "unknown"
	}
	return resource, id, action
}

func methodAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	return "read"
}
