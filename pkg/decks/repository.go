// Package decks stores users' decks and their cards. Every lookup and mutation
// is scoped by the owner id, so a deck owned by someone else is
// indistinguishable from one that does not exist.
package decks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smith3v/flashdeck/pkg/apperr"
	"github.com/smith3v/flashdeck/pkg/db"
	"github.com/smith3v/flashdeck/pkg/logger"
	"gorm.io/gorm"
)

const msgDeckNotFound = "deck not found"

type CardInput struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(gdb *gorm.DB) *Repository {
	return &Repository{db: gdb}
}

// List returns the user's decks with live card counts, most recently updated
// first.
func (r *Repository) List(ctx context.Context, userID uint) ([]db.Deck, error) {
	decks := []db.Deck{}
	err := r.db.WithContext(ctx).
		Model(&db.Deck{}).
		Select("decks.id, decks.user_id, decks.title, decks.created_at, decks.updated_at, COUNT(cards.id) AS card_count").
		Joins("LEFT JOIN cards ON cards.deck_id = decks.id").
		Where("decks.user_id = ?", userID).
		Group("decks.id, decks.user_id, decks.title, decks.created_at, decks.updated_at").
		Order("decks.updated_at DESC, decks.id DESC").
		Find(&decks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list decks: %w", db.Classify(err))
	}
	return decks, nil
}

// Create stores a deck and its cards in one transaction.
func (r *Repository) Create(ctx context.Context, userID uint, title string, cards []CardInput) (db.Deck, error) {
	title, cleaned, err := validateDeck(title, cards)
	if err != nil {
		return db.Deck{}, err
	}

	now := time.Now().UTC()
	deck := db.Deck{UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&deck).Error; err != nil {
			return err
		}
		return insertCards(tx, deck.ID, cleaned, now)
	})
	if err != nil {
		logger.Error("failed to create deck", "user_id", userID, "error", err)
		return db.Deck{}, fmt.Errorf("failed to create deck: %w", db.Classify(err))
	}
	deck.CardCount = int64(len(cleaned))
	logger.Info("deck created", "user_id", userID, "deck_id", deck.ID, "cards", len(cleaned))
	return deck, nil
}

// Import creates a deck from parsed file rows.
func (r *Repository) Import(ctx context.Context, userID uint, title string, cards []CardInput) (db.Deck, error) {
	if len(cards) == 0 {
		return db.Deck{}, apperr.Validation("file contains no cards")
	}
	return r.Create(ctx, userID, title, cards)
}

// Get returns the owned deck and its cards ordered by id.
func (r *Repository) Get(ctx context.Context, userID, deckID uint) (db.Deck, []db.Card, error) {
	tx := r.db.WithContext(ctx)

	var deck db.Deck
	if err := tx.Where("id = ? AND user_id = ?", deckID, userID).First(&deck).Error; err != nil {
		return db.Deck{}, nil, deckLookupError(err)
	}

	cards := []db.Card{}
	if err := tx.Where("deck_id = ?", deck.ID).Order("id").Find(&cards).Error; err != nil {
		return db.Deck{}, nil, fmt.Errorf("failed to load cards: %w", db.Classify(err))
	}
	deck.CardCount = int64(len(cards))
	return deck, cards, nil
}

// Replace overwrites title and cards of an owned deck. Progress recorded for
// the old cards is removed with them.
func (r *Repository) Replace(ctx context.Context, userID, deckID uint, title string, cards []CardInput) error {
	title, cleaned, err := validateDeck(title, cards)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&db.Deck{}).
			Where("id = ? AND user_id = ?", deckID, userID).
			Updates(map[string]any{"title": title, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound(msgDeckNotFound)
		}

		if err := deleteCardProgress(tx, deckID); err != nil {
			return err
		}
		if err := tx.Where("deck_id = ?", deckID).Delete(&db.Card{}).Error; err != nil {
			return err
		}
		return insertCards(tx, deckID, cleaned, now)
	})
	if err != nil {
		return fmt.Errorf("failed to replace deck %d: %w", deckID, db.Classify(err))
	}
	logger.Info("deck replaced", "user_id", userID, "deck_id", deckID, "cards", len(cleaned))
	return nil
}

// Delete removes an owned deck with its cards, their progress and the deck's
// study sessions.
func (r *Repository) Delete(ctx context.Context, userID, deckID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var deck db.Deck
		if err := tx.Select("id").Where("id = ? AND user_id = ?", deckID, userID).First(&deck).Error; err != nil {
			return deckLookupError(err)
		}
		if err := deleteCardProgress(tx, deck.ID); err != nil {
			return err
		}
		if err := tx.Where("deck_id = ?", deck.ID).Delete(&db.StudySession{}).Error; err != nil {
			return err
		}
		if err := tx.Where("deck_id = ?", deck.ID).Delete(&db.Card{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ? AND user_id = ?", deck.ID, userID).Delete(&db.Deck{}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete deck %d: %w", deckID, db.Classify(err))
	}
	logger.Info("deck deleted", "user_id", userID, "deck_id", deckID)
	return nil
}

// Export renders an owned deck as CSV.
func (r *Repository) Export(ctx context.Context, userID, deckID uint) (string, []byte, error) {
	deck, cards, err := r.Get(ctx, userID, deckID)
	if err != nil {
		return "", nil, err
	}
	data, err := BuildExportCSV(cards)
	if err != nil {
		return "", nil, fmt.Errorf("failed to build export: %w", err)
	}
	return ExportFilename(deck.Title, time.Now().UTC()), data, nil
}

func validateDeck(title string, cards []CardInput) (string, []CardInput, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", nil, apperr.Validation("title is required")
	}
	if len(cards) == 0 {
		return "", nil, apperr.Validation("at least one card is required")
	}
	cleaned := make([]CardInput, len(cards))
	for i, card := range cards {
		term := strings.TrimSpace(card.Term)
		definition := strings.TrimSpace(card.Definition)
		if term == "" || definition == "" {
			return "", nil, apperr.Validationf("card %d: term and definition are required", i+1)
		}
		cleaned[i] = CardInput{Term: term, Definition: definition}
	}
	return title, cleaned, nil
}

func insertCards(tx *gorm.DB, deckID uint, cards []CardInput, now time.Time) error {
	rows := make([]db.Card, len(cards))
	for i, card := range cards {
		rows[i] = db.Card{DeckID: deckID, Term: card.Term, Definition: card.Definition, CreatedAt: now}
	}
	return tx.CreateInBatches(&rows, 500).Error
}

func deleteCardProgress(tx *gorm.DB, deckID uint) error {
	cardIDs := tx.Model(&db.Card{}).Select("id").Where("deck_id = ?", deckID)
	return tx.Where("card_id IN (?)", cardIDs).Delete(&db.CardProgress{}).Error
}

func deckLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(msgDeckNotFound)
	}
	return fmt.Errorf("failed to load deck: %w", db.Classify(err))
}
