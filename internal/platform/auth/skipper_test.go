package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func routeContext(method, route string) echo.Context {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(method, route, nil), httptest.NewRecorder())
	c.SetPath(route)
	return c
}

func TestAuthSkipper(t *testing.T) {
	public := []string{
		"/health",
		"/health/db",
		"/api/v1/auth/register",
		"/api/v1/auth/login",
		"/api/v1/auth/refresh",
		"/api/v1/auth/logout",
	}
	for _, route := range public {
		if !AuthSkipper(routeContext(http.MethodPost, route)) {
			t.Errorf("expected %s to be public", route)
		}
	}

	protected := []string{
		"/api/v1/auth/me",
		"/api/v1/appointments",
		"/api/v1/appointments/:id/cancel",
		"/api/v1/doctors/:id/slots",
		"/api/v1/chat/book",
		"/",
	}
	for _, route := range protected {
		if AuthSkipper(routeContext(http.MethodGet, route)) {
			t.Errorf("expected %s to require a token", route)
		}
	}
}

func TestIsPublicPath(t *testing.T) {
	if !IsPublicPath("/api/v1/auth/login") {
		t.Error("expected login to be public")
	}
	if IsPublicPath("/api/v1/appointments") {
		t.Error("expected appointments to require auth")
	}
}

func TestJWTMiddleware_DoesNotSkipProtectedRoutes(t *testing.T) {
	c := routeContext(http.MethodGet, "/api/v1/appointments")
	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})(okHandler)(c)
	expectHTTPCode(t, err, http.StatusUnauthorized)
}
