package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stock_alerts_backend/models"
)

// NormalizeSymbol upper-cases and trims a ticker symbol
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// AddToWatchlist adds symbol to the user's watchlist. An existing row for the
// same (user, symbol) is reactivated rather than duplicated.
func (s *Store) AddToWatchlist(ctx context.Context, userID uint, symbol, notes string) (*models.WatchlistEntry, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}

	var entry models.WatchlistEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.addToWatchlist(tx, userID, symbol, notes, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) addToWatchlist(tx *gorm.DB, userID uint, symbol, notes string, entry *models.WatchlistEntry) error {
	err := tx.Where("user_id = ? AND symbol = ?", userID, symbol).First(entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		*entry = models.WatchlistEntry{
			UserID:   userID,
			Symbol:   symbol,
			Notes:    notes,
			IsActive: true,
			AddedAt:  s.now(),
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to add %s to watchlist: %w", symbol, err)
		}
		return nil
	}
	if err != nil {
		return err
	}

	updates := map[string]interface{}{"is_active": true}
	if notes != "" {
		updates["notes"] = notes
	}
	if err := tx.Model(entry).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to reactivate %s: %w", symbol, err)
	}
	return nil
}

// BulkAddToWatchlist adds several symbols in one transaction
func (s *Store) BulkAddToWatchlist(ctx context.Context, userID uint, symbols []string) ([]models.WatchlistEntry, error) {
	var entries []models.WatchlistEntry
	seen := make(map[string]bool)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, raw := range symbols {
			symbol := NormalizeSymbol(raw)
			if symbol == "" || seen[symbol] {
				continue
			}
			seen[symbol] = true

			var entry models.WatchlistEntry
			if err := s.addToWatchlist(tx, userID, symbol, "", &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// RemoveFromWatchlist soft-deletes the entry by clearing is_active
func (s *Store) RemoveFromWatchlist(ctx context.Context, userID uint, symbol string) error {
	res := s.db.WithContext(ctx).Model(&models.WatchlistEntry{}).
		Where("user_id = ? AND symbol = ?", userID, NormalizeSymbol(symbol)).
		Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetWatchlist returns the user's active entries
func (s *Store) GetWatchlist(ctx context.Context, userID uint) ([]models.WatchlistEntry, error) {
	var entries []models.WatchlistEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("symbol").
		Find(&entries).Error
	return entries, err
}

// ActiveSymbols returns every symbol on at least one active watchlist, once
func (s *Store) ActiveSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := s.db.WithContext(ctx).Model(&models.WatchlistEntry{}).
		Where("is_active = ?", true).
		Distinct().
		Order("symbol").
		Pluck("symbol", &symbols).Error
	return symbols, err
}

// RecipientsForTicker returns active users watching ticker
func (s *Store) RecipientsForTicker(ctx context.Context, ticker string) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Select("users.*").
		Joins("JOIN watchlist_entries ON watchlist_entries.user_id = users.id").
		Where("watchlist_entries.symbol = ? AND watchlist_entries.is_active = ? AND users.is_active = ?",
			NormalizeSymbol(ticker), true, true).
		Order("users.id").
		Find(&users).Error
	return users, err
}

// UpsertUser creates the user or refreshes the name of an existing email
func (s *Store) UpsertUser(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"full_name", "updated_at"}),
	}).Create(user).Error
}
