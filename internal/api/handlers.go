// Package api contains the HTTP handlers for the advisory service.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"finadvisor/backend/internal/apperr"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// Logger is the logging surface the handlers need.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Version is stamped at build time with -ldflags.
var Version = "dev"

// HandleHealth returns basic health status (always returns 200 OK)
func HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "finadvisor",
		Version:   Version,
	})
}

// ReadyHandler pings each dependency and returns 503 if any is down.
func ReadyHandler(deps map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		status := HealthStatus{Status: "ok", Timestamp: time.Now().UTC(), Service: "finadvisor", Version: Version, Checks: map[string]string{}}
		code := http.StatusOK
		for name, p := range deps {
			if err := p.Ping(ctx); err != nil {
				status.Checks[name] = err.Error()
				status.Status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			status.Checks[name] = "ok"
		}
		return c.JSON(code, status)
	}
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
	Code     string `json:"code,omitempty"`
}

// Validator adapts go-playground/validator to echo.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{v: validator.New()}
}

func (cv *Validator) Validate(i any) error {
	if err := cv.v.Struct(i); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "invalid request", err)
	}
	return nil
}

// statusOf maps an error code to its HTTP status.
func statusOf(code apperr.Code) int {
	switch code {
	case apperr.CodeValidation, apperr.CodeExtractionParse:
		return http.StatusBadRequest
	case apperr.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeConflict:
		return http.StatusConflict
	case apperr.CodeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler renders every handler error as an RFC 7807 problem
// document. Internal errors are logged and their detail withheld.
func ErrorHandler(log Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		problem := ProblemDetails{Type: "about:blank", Instance: c.Request().URL.Path}
		var he *echo.HTTPError
		if errors.As(err, &he) {
			problem.Status = he.Code
			if msg, ok := he.Message.(string); ok {
				problem.Detail = msg
			}
		} else {
			code := apperr.CodeOf(err)
			problem.Status = statusOf(code)
			problem.Code = string(code)
			problem.Detail = err.Error()
			var ae *apperr.Error
			if errors.As(err, &ae) && ae.Message != "" {
				problem.Detail = ae.Message
				var verrs validator.ValidationErrors
				if errors.As(err, &verrs) {
					problem.Detail = ae.Message + ": " + verrs.Error()
				}
			}
		}
		problem.Title = http.StatusText(problem.Status)
		if problem.Status >= http.StatusInternalServerError {
			log.Error("request failed", "path", c.Request().URL.Path, "error", err)
			if problem.Status == http.StatusInternalServerError {
				problem.Detail = "internal error"
			}
		}

		c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(problem.Status)
		} else {
			err = c.JSON(problem.Status, problem)
		}
		if err != nil {
			log.Warn("failed to write problem response", "error", err)
		}
	}
}
