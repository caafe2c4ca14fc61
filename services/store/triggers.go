package store

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"stock_alerts_backend/models"
)

// TriggerUpdate is the mutable part of a TriggerEvent
type TriggerUpdate struct {
	State       models.TriggerState
	Attempts    int
	NextRetryAt *time.Time
	LastError   string
	ProcessedAt *time.Time
}

// CreateTriggerEvent inserts a new event; BeforeCreate assigns id and pending state
func (s *Store) CreateTriggerEvent(ctx context.Context, event *models.TriggerEvent) error {
	event.Ticker = NormalizeSymbol(event.Ticker)
	return s.db.WithContext(ctx).Create(event).Error
}

// UpdateTriggerState writes state, attempt count and retry bookkeeping
func (s *Store) UpdateTriggerState(ctx context.Context, id string, u TriggerUpdate) error {
	res := s.db.WithContext(ctx).Model(&models.TriggerEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processing_state": u.State,
			"attempts":         u.Attempts,
			"next_retry_at":    u.NextRetryAt,
			"last_error":       u.LastError,
			"processed_at":     u.ProcessedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTriggerEvent loads one event by id
func (s *Store) GetTriggerEvent(ctx context.Context, id string) (*models.TriggerEvent, error) {
	var event models.TriggerEvent
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		return nil, notFound(err)
	}
	return &event, nil
}

// TriggerEventsByTicker returns the newest events for ticker. limit <= 0 means no limit.
func (s *Store) TriggerEventsByTicker(ctx context.Context, ticker string, limit int) ([]models.TriggerEvent, error) {
	q := s.db.WithContext(ctx).
		Where("ticker = ?", NormalizeSymbol(ticker)).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}, Desc: true})
	if limit > 0 {
		q = q.Limit(limit)
	}
	var events []models.TriggerEvent
	err := q.Find(&events).Error
	return events, err
}

// DueTriggerRetries returns pending events whose retry time has passed, plus
// pending events that never got a retry time and were created before staleBefore
// (a crash between insert and the first attempt)
func (s *Store) DueTriggerRetries(ctx context.Context, now, staleBefore time.Time, limit int) ([]models.TriggerEvent, error) {
	var events []models.TriggerEvent
	err := s.db.WithContext(ctx).
		Where("processing_state = ?", models.TriggerPending).
		Where("((next_retry_at IS NOT NULL AND next_retry_at <= ?) OR (next_retry_at IS NULL AND created_at <= ?))",
			now.UTC(), staleBefore.UTC()).
		Order("created_at").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// RecentTriggerExists reports whether an event of eventType for ticker was
// recorded at or after since
func (s *Store) RecentTriggerExists(ctx context.Context, ticker, eventType string, since time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.TriggerEvent{}).
		Where("ticker = ? AND event_type = ? AND created_at >= ?", NormalizeSymbol(ticker), eventType, since.UTC()).
		Count(&count).Error
	return count > 0, err
}
