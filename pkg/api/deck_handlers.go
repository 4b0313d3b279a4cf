package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/smith3v/flashdeck/pkg/apperr"
	"github.com/smith3v/flashdeck/pkg/decks"
)

type deckRequest struct {
	Title string            `json:"title"`
	Cards []decks.CardInput `json:"cards"`
}

func deckID(c echo.Context, param string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(param), 10, 32)
	if err != nil || id == 0 {
		return 0, apperr.Validation("invalid deck id")
	}
	return uint(id), nil
}

func ListDecksHandler(repo *decks.Repository) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := UserID(c)
		if err != nil {
			return err
		}
		list, err := repo.List(c.Request().Context(), userID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]any{"decks": list})
	}
}

func CreateDeckHandler(repo *decks.Repository) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := UserID(c)
		if err != nil {
			return err
		}
		var req deckRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		deck, err := repo.Create(c.Request().Context(), userID, req.Title, req.Cards)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, map[string]any{
			"message": "deck created",
			"deck":    deck,
		})
	}
}

func GetDeckHandler(repo *decks.Repository, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := UserID(c)
		if err != nil {
			return err
		}
		id, err := deckID(c, param)
		if err != nil {
			return err
		}
		deck, cards, err := repo.Get(c.Request().Context(), userID, id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]any{"deck": deck, "cards": cards})
	}
}

func ReplaceDeckHandler(repo *decks.Repository, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := UserID(c)
		if err != nil {
			return err
		}
		id, err := deckID(c, param)
		if err != nil {
			return err
		}
		var req deckRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		if err := repo.Replace(c.Request().Context(), userID, id, req.Title, req.Cards); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]any{"message": "deck updated"})
	}
}

func DeleteDeckHandler(repo *decks.Repository, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := UserID(c)
		if err != nil {
			return err
		}
		id, err := deckID(c, param)
		if err != nil {
			return err
		}
		if err := repo.Delete(c.Request().Context(), userID, id); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]any{"message": "deck deleted"})
	}
}

// ImportDeckHandler creates a deck from an uploaded .csv or .xlsx file sent as
// the multipart field "file". The optional "title" field defaults to the file
// name. Upload size is bounded by the route's body limit.
func ImportDeckHandler(repo *decks.Repository) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := UserID(c)
		if err != nil {
			return err
		}
		fh, err := c.FormFile("file")
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				return he
			}
			return apperr.Validation("file is required").WithCause(err)
		}
		f, err := fh.Open()
		if err != nil {
			return apperr.Validation("file cannot be read").WithCause(err)
		}
		defer f.Close()

		ext := strings.ToLower(filepath.Ext(fh.Filename))
		var (
			cards   []decks.CardInput
			skipped int
		)
		switch ext {
		case ".xlsx":
			cards, skipped, err = decks.ParseCardsXLSX(f, c.FormValue("sheet"))
		case ".csv", ".tsv", ".txt", "":
			var data []byte
			data, err = io.ReadAll(f)
			if err == nil {
				cards, skipped, err = decks.ParseCardsCSV(data)
			}
		default:
			return apperr.Validationf("unsupported file type %q", ext)
		}
		if err != nil {
			return err
		}

		title := strings.TrimSpace(c.FormValue("title"))
		if title == "" {
			title = strings.TrimSuffix(filepath.Base(fh.Filename), filepath.Ext(fh.Filename))
		}
		deck, err := repo.Import(c.Request().Context(), userID, title, cards)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, map[string]any{
			"message": "deck imported",
			"deck":    deck,
			"skipped": skipped,
		})
	}
}

func ExportDeckHandler(repo *decks.Repository, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := UserID(c)
		if err != nil {
			return err
		}
		id, err := deckID(c, param)
		if err != nil {
			return err
		}
		filename, data, err := repo.Export(c.Request().Context(), userID, id)
		if err != nil {
			return err
		}
		c.Response().Header().Set(echo.HeaderContentDisposition,
			mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
		return c.Blob(http.StatusOK, "text/csv; charset=utf-8", data)
	}
}
