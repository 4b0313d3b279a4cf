package db

import (
	"context"
	"errors"
	"strings"
	"syscall"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smith3v/flashdeck/pkg/apperr"
	"gorm.io/gorm"
)

const (
	HintConnectivity = "cannot reach the database; check DATABASE_URL and that the server is running"
	HintCredentials  = "database password rejected; check the credentials in DATABASE_URL"
	HintSchema       = "database tables are missing; run flashdeck with --migrate-only"
	HintAccess       = "database access blocked by pg_hba.conf; check the SSL configuration"
	HintTimeout      = "database did not answer in time; the connection pool may be exhausted"
	HintCanceled     = "request canceled before the database answered"
	HintGeneric      = "check the database settings and try again"
)

// Classify maps a gorm, pgx or driver error onto the apperr taxonomy. Errors
// already carrying an apperr kind are returned unchanged; nil stays nil.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("record not found").WithCause(err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Conflict("record already exists").WithCause(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.UniqueViolation:
			return apperr.Conflict("record already exists").WithCause(err)
		case pgErr.Code == pgerrcode.UndefinedTable:
			return apperr.Store(HintSchema, err)
		case pgErr.Code == pgerrcode.InvalidPassword,
			pgErr.Code == pgerrcode.InvalidAuthorizationSpecification:
			if strings.Contains(pgErr.Message, "pg_hba.conf") {
				return apperr.Store(HintAccess, err)
			}
			return apperr.Store(HintCredentials, err)
		case pgerrcode.IsConnectionException(pgErr.Code):
			return apperr.Store(HintConnectivity, err)
		}
	}

	if hint := hintFromMessage(err); hint != "" {
		return apperr.Store(hint, err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || errors.Is(err, syscall.ECONNREFUSED) {
		return apperr.Store(HintConnectivity, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Store(HintTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Store(HintCanceled, err)
	}
	return apperr.Store(HintGeneric, err)
}

// hintFromMessage covers errors that reach us only as text, such as a
// ConnectError wrapping the server's startup failure.
func hintFromMessage(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no pg_hba.conf entry"):
		return HintAccess
	case strings.Contains(msg, "password authentication failed"):
		return HintCredentials
	case strings.Contains(msg, "SQLSTATE 42P01"), strings.Contains(msg, "no such table"):
		return HintSchema
	case strings.Contains(msg, "connection refused"):
		return HintConnectivity
	}
	return ""
}
