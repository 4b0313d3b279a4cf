package db

import (
	"context"

	"github.com/smith3v/flashdeck/pkg/apperr"
	"github.com/smith3v/flashdeck/pkg/logger"
	"gorm.io/gorm"
)

type Diagnostics struct {
	Success          bool   `json:"success"`
	Message          string `json:"message,omitempty"`
	CurrentTime      string `json:"currentTime,omitempty"`
	UsersTableExists bool   `json:"usersTableExists"`
	UserCount        int64  `json:"userCount"`
	Error            string `json:"error,omitempty"`
	Hint             string `json:"hint,omitempty"`
}

// Diagnose runs the store health check: server time, presence of the users
// table and the number of users. Failures are classified into a hint.
func Diagnose(ctx context.Context, gdb *gorm.DB) Diagnostics {
	tx := gdb.WithContext(ctx)

	var now string
	if err := tx.Raw("SELECT CURRENT_TIMESTAMP").Row().Scan(&now); err != nil {
		return failedDiagnostics(err)
	}

	result := Diagnostics{
		Success:     true,
		Message:     "Database connection successful",
		CurrentTime: now,
	}
	result.UsersTableExists = tx.Migrator().HasTable(&User{})
	if result.UsersTableExists {
		if err := tx.Model(&User{}).Count(&result.UserCount).Error; err != nil {
			return failedDiagnostics(err)
		}
	}
	logger.Debug("database diagnostics", "users_table", result.UsersTableExists, "user_count", result.UserCount)
	return result
}

// diagnosticMessages are the client-facing texts per hint. Driver errors are
// only logged.
var diagnosticMessages = map[string]string{
	HintConnectivity: "cannot reach database",
	HintCredentials:  "database rejected the credentials",
	HintSchema:       "database schema is missing",
	HintAccess:       "database access denied",
	HintTimeout:      "database timed out",
	HintCanceled:     "database check canceled",
}

func failedDiagnostics(err error) Diagnostics {
	classified := Classify(err)
	hint := HintGeneric
	if appErr, ok := apperr.As(classified); ok && appErr.Details != "" {
		hint = appErr.Details
	}
	logger.Error("database diagnostics failed", "error", err, "hint", hint)
	message, ok := diagnosticMessages[hint]
	if !ok {
		message = "database check failed"
	}
	return Diagnostics{Success: false, Error: message, Hint: hint}
}
