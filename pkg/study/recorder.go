// Package study records the outcome of study sessions: the latest
// known/unknown answer per card and an append-only session log.
package study

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/smith3v/flashdeck/pkg/apperr"
	"github.com/smith3v/flashdeck/pkg/db"
	"github.com/smith3v/flashdeck/pkg/logger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CardResult struct {
	CardID  uint `json:"cardId"`
	IsKnown bool `json:"isKnown"`
}

type Summary struct {
	SessionID    uint `json:"sessionId"`
	KnownCount   int  `json:"knownCount"`
	UnknownCount int  `json:"unknownCount"`
}

type Recorder struct {
	db *gorm.DB
}

func NewRecorder(gdb *gorm.DB) *Recorder {
	return &Recorder{db: gdb}
}

// SaveProgress applies the answers of one pass over an owned deck. Answers are
// upserted in order, so a card answered twice keeps the later answer, while
// the session counts include every answer in the batch.
func (r *Recorder) SaveProgress(ctx context.Context, userID, deckID uint, results []CardResult) (Summary, error) {
	if deckID == 0 {
		return Summary{}, apperr.Validation("deckId is required")
	}
	if len(results) == 0 {
		return Summary{}, apperr.Validation("results are required")
	}
	for i, result := range results {
		if result.CardID == 0 {
			return Summary{}, apperr.Validationf("results[%d]: cardId is required", i)
		}
	}

	summary := Summary{}
	for _, result := range results {
		if result.IsKnown {
			summary.KnownCount++
		} else {
			summary.UnknownCount++
		}
	}

	payload, err := json.Marshal(results)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to encode results: %w", err)
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var deck db.Deck
		if err := tx.Select("id").Where("id = ? AND user_id = ?", deckID, userID).First(&deck).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("deck not found")
			}
			return err
		}

		if err := checkCardsInDeck(tx, deckID, results); err != nil {
			return err
		}

		now := time.Now().UTC()
		upsert := clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "card_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_known", "updated_at"}),
		}
		for _, result := range results {
			row := db.CardProgress{UserID: userID, CardID: result.CardID, IsKnown: result.IsKnown, UpdatedAt: now}
			if err := tx.Clauses(upsert).Create(&row).Error; err != nil {
				return err
			}
		}

		session := db.StudySession{
			UserID:       userID,
			DeckID:       deckID,
			KnownCount:   summary.KnownCount,
			UnknownCount: summary.UnknownCount,
			CompletedAt:  now,
			Results:      datatypes.JSON(payload),
		}
		if err := tx.Create(&session).Error; err != nil {
			return err
		}
		summary.SessionID = session.ID
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("failed to save progress for deck %d: %w", deckID, db.Classify(err))
	}

	logger.Info("study session recorded",
		"user_id", userID,
		"deck_id", deckID,
		"known", summary.KnownCount,
		"unknown", summary.UnknownCount,
	)
	return summary, nil
}

// checkCardsInDeck rejects results that reference cards outside the deck.
func checkCardsInDeck(tx *gorm.DB, deckID uint, results []CardResult) error {
	wanted := make(map[uint]struct{}, len(results))
	ids := make([]uint, 0, len(results))
	for _, result := range results {
		if _, ok := wanted[result.CardID]; ok {
			continue
		}
		wanted[result.CardID] = struct{}{}
		ids = append(ids, result.CardID)
	}

	var found []uint
	if err := tx.Model(&db.Card{}).Where("deck_id = ? AND id IN ?", deckID, ids).Pluck("id", &found).Error; err != nil {
		return err
	}
	if len(found) == len(ids) {
		return nil
	}
	for _, id := range found {
		delete(wanted, id)
	}
	for _, id := range ids {
		if _, missing := wanted[id]; missing {
			return apperr.Validationf("card %d does not belong to deck %d", id, deckID)
		}
	}
	return nil
}
