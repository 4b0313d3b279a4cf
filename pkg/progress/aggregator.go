// Package progress derives per-deck mastery statistics and the recent session
// log of a user. It only reads.
package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/smith3v/flashdeck/pkg/db"
	"gorm.io/gorm"
)

const RecentSessionLimit = 10

type DeckProgress struct {
	DeckID       uint       `json:"deck_id"`
	Title        string     `json:"title"`
	TotalCards   int64      `json:"total_cards"`
	KnownCards   int64      `json:"known_cards"`
	UnknownCards int64      `json:"unknown_cards"`
	LastStudied  *time.Time `json:"last_studied,omitempty"`
}

type Session struct {
	ID           uint      `json:"id"`
	UserID       uint      `json:"user_id"`
	DeckID       uint      `json:"deck_id"`
	DeckTitle    string    `json:"deck_title"`
	KnownCount   int       `json:"known_count"`
	UnknownCount int       `json:"unknown_count"`
	CompletedAt  time.Time `json:"completed_at"`
}

type Report struct {
	DeckProgress   []DeckProgress `json:"deckProgress"`
	RecentSessions []Session      `json:"recentSessions"`
	TotalCards     int64          `json:"totalCards"`
	KnownCards     int64          `json:"knownCards"`
	UnknownCards   int64          `json:"unknownCards"`
}

type Aggregator struct {
	db *gorm.DB
}

func NewAggregator(gdb *gorm.DB) *Aggregator {
	return &Aggregator{db: gdb}
}

type deckCounts struct {
	DeckID     uint
	Title      string
	TotalCards int64
	KnownCards int64
}

type lastSession struct {
	DeckID      uint
	CompletedAt time.Time
}

// GetProgress reports, for every deck the user owns, how many cards the
// latest answer marks known, plus the newest sessions. A card never answered
// counts as unknown. Totals are sums of the per-deck rows.
func (a *Aggregator) GetProgress(ctx context.Context, userID uint) (Report, error) {
	tx := a.db.WithContext(ctx)

	var counts []deckCounts
	err := tx.Table("decks AS d").
		Select(`d.id AS deck_id, d.title AS title,
			COUNT(DISTINCT c.id) AS total_cards,
			COUNT(DISTINCT CASE WHEN cp.is_known = ? THEN c.id END) AS known_cards`, true).
		Joins("LEFT JOIN cards c ON c.deck_id = d.id").
		Joins("LEFT JOIN card_progress cp ON cp.card_id = c.id AND cp.user_id = ?", userID).
		Where("d.user_id = ?", userID).
		Group("d.id, d.title, d.updated_at").
		Order("d.updated_at DESC, d.id DESC").
		Scan(&counts).Error
	if err != nil {
		return Report{}, fmt.Errorf("failed to aggregate deck progress: %w", db.Classify(err))
	}

	// The newest session of each deck is the one with the highest id, as
	// sessions are only ever appended.
	var latest []lastSession
	err = tx.Model(&db.StudySession{}).
		Select("deck_id, completed_at").
		Where("user_id = ? AND id IN (?)", userID,
			tx.Model(&db.StudySession{}).Select("MAX(id)").Where("user_id = ?", userID).Group("deck_id")).
		Scan(&latest).Error
	if err != nil {
		return Report{}, fmt.Errorf("failed to load last study times: %w", db.Classify(err))
	}
	lastStudied := make(map[uint]time.Time, len(latest))
	for _, s := range latest {
		lastStudied[s.DeckID] = s.CompletedAt
	}

	report := Report{
		DeckProgress:   make([]DeckProgress, 0, len(counts)),
		RecentSessions: []Session{},
	}
	for _, c := range counts {
		dp := DeckProgress{
			DeckID:       c.DeckID,
			Title:        c.Title,
			TotalCards:   c.TotalCards,
			KnownCards:   c.KnownCards,
			UnknownCards: c.TotalCards - c.KnownCards,
		}
		if at, ok := lastStudied[c.DeckID]; ok {
			at := at.UTC()
			dp.LastStudied = &at
		}
		report.DeckProgress = append(report.DeckProgress, dp)
		report.TotalCards += dp.TotalCards
		report.KnownCards += dp.KnownCards
		report.UnknownCards += dp.UnknownCards
	}

	err = tx.Table("study_sessions AS ss").
		Select("ss.id, ss.user_id, ss.deck_id, d.title AS deck_title, ss.known_count, ss.unknown_count, ss.completed_at").
		Joins("JOIN decks d ON d.id = ss.deck_id").
		Where("ss.user_id = ?", userID).
		Order("ss.completed_at DESC, ss.id DESC").
		Limit(RecentSessionLimit).
		Scan(&report.RecentSessions).Error
	if err != nil {
		return Report{}, fmt.Errorf("failed to load recent sessions: %w", db.Classify(err))
	}
	for i := range report.RecentSessions {
		report.RecentSessions[i].CompletedAt = report.RecentSessions[i].CompletedAt.UTC()
	}
	return report, nil
}
