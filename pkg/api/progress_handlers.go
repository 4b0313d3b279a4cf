package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/smith3v/flashdeck/pkg/db"
	"github.com/smith3v/flashdeck/pkg/progress"
	"github.com/smith3v/flashdeck/pkg/study"
	"gorm.io/gorm"
)

type saveProgressRequest struct {
	DeckID  uint               `json:"deckId"`
	Results []study.CardResult `json:"results"`
}

func GetProgressHandler(agg *progress.Aggregator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := UserID(c)
		if err != nil {
			return err
		}
		report, err := agg.GetProgress(c.Request().Context(), userID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, report)
	}
}

func SaveProgressHandler(recorder *study.Recorder) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := UserID(c)
		if err != nil {
			return err
		}
		var req saveProgressRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		summary, err := recorder.SaveProgress(c.Request().Context(), userID, req.DeckID, req.Results)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]any{
			"message":      "progress saved",
			"knownCount":   summary.KnownCount,
			"unknownCount": summary.UnknownCount,
		})
	}
}

// HealthHandler reports store connectivity, answering 500 with a hint when
// the store is unusable.
func HealthHandler(gdb *gorm.DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		diag := db.Diagnose(c.Request().Context(), gdb)
		status := http.StatusOK
		if !diag.Success {
			status = http.StatusInternalServerError
		}
		return c.JSON(status, diag)
	}
}
