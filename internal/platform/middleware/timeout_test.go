package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestRequestTimeout_SetsDeadline(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := RequestTimeout(time.Minute)(func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); !ok {
			t.Error("expected a deadline on the request context")
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestTimeout_MapsDeadlineTo504(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := RequestTimeout(10*time.Millisecond)(func(c echo.Context) error {
		<-c.Request().Context().Done()
		return c.Request().Context().Err()
	})(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %v", err)
	}
}

func TestRequestTimeout_OtherErrorsPassThrough(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	want := errors.New("store down")

	err := RequestTimeout(time.Minute)(func(c echo.Context) error { return want })(c)
	if !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}
