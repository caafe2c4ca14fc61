package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"stock_alerts_backend/models"
)

// UpsertMarketRecord overwrites the (symbol, facet) snapshot with payload
func (s *Store) UpsertMarketRecord(ctx context.Context, symbol string, facet models.Facet, payload interface{}, collectedAt time.Time) (*models.MarketRecord, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", facet, err)
	}

	rec := &models.MarketRecord{
		Symbol:      NormalizeSymbol(symbol),
		Facet:       facet,
		Payload:     data,
		CollectedAt: collectedAt.UTC(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "facet"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "collected_at", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return nil, fmt.Errorf("upsert %s/%s: %w", rec.Symbol, facet, err)
	}
	return rec, nil
}

// LatestMarketRecord returns the effective snapshot for (symbol, facet)
func (s *Store) LatestMarketRecord(ctx context.Context, symbol string, facet models.Facet) (*models.MarketRecord, error) {
	var rec models.MarketRecord
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND facet = ?", NormalizeSymbol(symbol), facet).
		Order("collected_at DESC").
		First(&rec).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// AppendPriceBars inserts daily bars, refreshing bars already stored for the same date
func (s *Store) AppendPriceBars(ctx context.Context, bars []models.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "collected_at"}),
	}).CreateInBatches(bars, 100).Error
}

// RecentPriceBars returns up to n most recent bars, oldest first
func (s *Store) RecentPriceBars(ctx context.Context, symbol string, n int) ([]models.PriceBar, error) {
	var bars []models.PriceBar
	err := s.db.WithContext(ctx).
		Where("symbol = ?", NormalizeSymbol(symbol)).
		Order("date DESC").
		Limit(n).
		Find(&bars).Error
	if err != nil {
		return nil, err
	}

	// Reverse for chronological order
	for i := 0; i < len(bars)/2; i++ {
		bars[i], bars[len(bars)-1-i] = bars[len(bars)-1-i], bars[i]
	}
	return bars, nil
}

// AddPriceThreshold stores an active threshold
func (s *Store) AddPriceThreshold(ctx context.Context, t *models.PriceThreshold) error {
	if t.Direction != models.ThresholdAbove && t.Direction != models.ThresholdBelow {
		return fmt.Errorf("invalid threshold direction %q", t.Direction)
	}
	t.Symbol = NormalizeSymbol(t.Symbol)
	t.IsActive = true
	return s.db.WithContext(ctx).Create(t).Error
}

// ActiveThresholds returns every active threshold ordered by symbol
func (s *Store) ActiveThresholds(ctx context.Context) ([]models.PriceThreshold, error) {
	var out []models.PriceThreshold
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("symbol, id").
		Find(&out).Error
	return out, err
}

// MarkThresholdTriggered records when a threshold last fired
func (s *Store) MarkThresholdTriggered(ctx context.Context, id uint, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.PriceThreshold{}).
		Where("id = ?", id).
		Update("last_triggered_at", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
