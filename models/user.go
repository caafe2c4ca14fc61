package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// User is a notification recipient
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex;not null" json:"email"`
	FullName  string    `json:"full_name"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WatchlistEntry represents a symbol on a user's watchlist.
// Rows are never deleted: removal flips IsActive so re-adding reuses the row.
type WatchlistEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex:idx_watchlist_user_symbol;not null" json:"user_id"`
	User      User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Symbol    string    `gorm:"uniqueIndex:idx_watchlist_user_symbol;index;size:16;not null" json:"symbol"`
	Notes     string    `json:"notes"`
	IsActive  bool      `gorm:"index" json:"is_active"`
	AddedAt   time.Time `json:"added_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PriceThreshold is a configured price level for a symbol
type PriceThreshold struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	UserID          uint            `gorm:"index" json:"user_id"`
	Symbol          string          `gorm:"index;size:16;not null" json:"symbol"`
	Level           decimal.Decimal `gorm:"type:decimal(15,4)" json:"level"`
	Direction       string          `gorm:"size:8" json:"direction"` // above, below
	IsActive        bool            `gorm:"index" json:"is_active"`
	LastTriggeredAt *time.Time      `json:"last_triggered_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Threshold directions
const (
	ThresholdAbove = "above"
	ThresholdBelow = "below"
)

// Crossed reports whether the move from prev to last crossed the level in the
// configured direction
func (t *PriceThreshold) Crossed(prev, last decimal.Decimal) bool {
	switch t.Direction {
	case ThresholdAbove:
		return prev.LessThan(t.Level) && last.GreaterThanOrEqual(t.Level)
	case ThresholdBelow:
		return prev.GreaterThan(t.Level) && last.LessThanOrEqual(t.Level)
	}
	return false
}

// MigrateUserModels runs database migrations for user-related models
func MigrateUserModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&WatchlistEntry{},
		&PriceThreshold{},
	)
}
