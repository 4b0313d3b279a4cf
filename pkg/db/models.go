package db

import (
	"time"

	"gorm.io/datatypes"
)

type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Email        string    `gorm:"not null;uniqueIndex" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`

	Decks    []Deck         `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Progress []CardProgress `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Sessions []StudySession `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

type Deck struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Title     string    `gorm:"not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// CardCount is computed by queries that join cards; it is not a column.
	CardCount int64 `gorm:"->;-:migration" json:"card_count"`

	Cards    []Card         `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Sessions []StudySession `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

type Card struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DeckID     uint      `gorm:"not null;index" json:"deck_id"`
	Term       string    `gorm:"not null" json:"term"`
	Definition string    `gorm:"not null" json:"definition"`
	CreatedAt  time.Time `json:"created_at"`

	Progress []CardProgress `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// CardProgress holds the latest known/unknown answer of a user for a card.
type CardProgress struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_card_progress_user_card"`
	CardID    uint      `gorm:"not null;uniqueIndex:idx_card_progress_user_card;index"`
	IsKnown   bool      `gorm:"not null;default:false"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (CardProgress) TableName() string {
	return "card_progress"
}

// StudySession is an append-only record of one completed pass over a deck.
type StudySession struct {
	ID           uint           `gorm:"primaryKey"`
	UserID       uint           `gorm:"not null;index"`
	DeckID       uint           `gorm:"not null;index"`
	KnownCount   int            `gorm:"not null;default:0"`
	UnknownCount int            `gorm:"not null;default:0"`
	CompletedAt  time.Time      `gorm:"not null;index"`
	Results      datatypes.JSON `gorm:"not null"`
}

// Models lists every table in migration order.
func Models() []any {
	return []any{&User{}, &Deck{}, &Card{}, &CardProgress{}, &StudySession{}}
}
