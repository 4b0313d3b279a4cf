package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/smith3v/flashdeck/pkg/apperr"
	"github.com/smith3v/flashdeck/pkg/logger"
)

// ErrorBody is the JSON shape of every failed request.
type ErrorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HTTPErrorHandler renders errors returned by handlers and middleware. Kinds
// from apperr map onto their status; internal error text is logged but never
// sent to the client.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := renderError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"status", status,
			"request_id", logger.RequestID(c.Request().Context()),
			"error", err,
		)
	} else {
		logger.Debug("request rejected", "path", c.Path(), "status", status, "error", err)
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(status)
	} else {
		writeErr = c.JSON(status, body)
	}
	if writeErr != nil {
		logger.Error("failed to write error response", "error", writeErr)
	}
}

func renderError(err error) (int, ErrorBody) {
	if appErr, ok := apperr.As(err); ok {
		body := ErrorBody{Error: appErr.Message}
		if appErr.Kind == apperr.KindStore {
			body.Details = appErr.Details
		}
		if appErr.Kind == apperr.KindUnknown {
			return http.StatusInternalServerError, ErrorBody{Error: "internal server error"}
		}
		return appErr.Kind.Status(), body
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		} else if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
		return he.Code, ErrorBody{Error: msg}
	}

	return http.StatusInternalServerError, ErrorBody{Error: "internal server error"}
}
