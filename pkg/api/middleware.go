package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/smith3v/flashdeck/pkg/apperr"
	"github.com/smith3v/flashdeck/pkg/db"
	"github.com/smith3v/flashdeck/pkg/identity"
	"github.com/smith3v/flashdeck/pkg/logger"
)

const claimsKey = "flashdeck.claims"

// LogHandlerFunc writes one access log record per request.
func LogHandlerFunc(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		begin := time.Now()

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		status := c.Response().Status
		args := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"latency", time.Since(begin),
			"bytes", c.Response().Size,
			"request_id", logger.RequestID(req.Context()),
		}
		if claims, ok := c.Get(claimsKey).(*identity.Claims); ok {
			args = append(args, "user_id", claims.UserID)
		}
		if status >= http.StatusInternalServerError {
			logger.Error("http request", args...)
		} else {
			logger.Info("http request", args...)
		}
		return nil
	}
}

// SetLevel sets the level of echo's own logger.
func SetLevel(e *echo.Echo, loglevel string) {
	switch strings.ToLower(strings.TrimSpace(loglevel)) {
	case "debug":
		e.Logger.SetLevel(log.DEBUG)
	case "info":
		e.Logger.SetLevel(log.INFO)
	case "", "warn", "warning":
		e.Logger.SetLevel(log.WARN)
	case "error":
		e.Logger.SetLevel(log.ERROR)
	case "off":
		e.Logger.SetLevel(log.OFF)
	default:
		e.Logger.SetLevel(log.WARN)
		e.Logger.Warnf("unknown loglevel: %s . fall-backed to warn", loglevel)
	}
}

// RequestID tags each request with an X-Request-ID and stores it in the
// request context for log records.
func RequestID() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithRequestID(req.Context(), id)))
		},
	})
}

// Timeout bounds the request context so store calls cannot block forever. A
// deadline that surfaces unclassified is reported as a store timeout.
func Timeout(d time.Duration) echo.MiddlewareFunc {
	return middleware.ContextTimeoutWithConfig(middleware.ContextTimeoutConfig{
		Timeout: d,
		ErrorHandler: func(err error, c echo.Context) error {
			if _, ok := apperr.As(err); ok {
				return err
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return apperr.Store(db.HintTimeout, err)
			}
			return err
		},
	})
}

// Authenticate requires a valid bearer token and stores its claims in the
// context.
func Authenticate(svc *identity.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				return apperr.Auth("unauthenticated")
			}
			claims, err := svc.Verify(strings.TrimSpace(token))
			if err != nil {
				return err
			}
			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

// UserID returns the authenticated user of the request.
func UserID(c echo.Context) (uint, error) {
	claims, ok := c.Get(claimsKey).(*identity.Claims)
	if !ok || claims == nil {
		return 0, apperr.Auth("unauthenticated")
	}
	return claims.UserID, nil
}
