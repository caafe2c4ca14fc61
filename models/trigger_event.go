package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TriggerState is the processing state of a TriggerEvent
type TriggerState string

const (
	TriggerPending   TriggerState = "pending"
	TriggerProcessed TriggerState = "processed"
	TriggerFailed    TriggerState = "failed"
)

// Event types with a dedicated notification template
const (
	EventHedgeFundBuy    = "hedge_fund_buy"
	EventHedgeFundSell   = "hedge_fund_sell"
	EventInvestorMention = "investor_mention"
	EventPoliticianBuy   = "politician_buy"
	EventPoliticianSell  = "politician_sell"
)

// Event types raised by the price alert rules
const (
	EventPriceChange    = "price_change"
	EventPriceThreshold = "price_threshold"
	EventVolumeSurge    = "volume_surge"
	EventRSIOverbought  = "rsi_overbought"
	EventRSIOversold    = "rsi_oversold"
)

// TriggerEvent is an ingested market/institutional event.
// Attempts and NextRetryAt are persisted so a restart can resume delivery.
type TriggerEvent struct {
	ID              string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Ticker          string         `gorm:"index;size:16;not null" json:"ticker"`
	EventType       string         `gorm:"index;size:64;not null" json:"event_type"`
	Details         datatypes.JSON `json:"details"`
	Source          string         `gorm:"size:64" json:"source"`
	Timestamp       time.Time      `gorm:"index" json:"timestamp"`
	ProcessingState TriggerState   `gorm:"size:16;index;not null" json:"processing_state"`
	Attempts        int            `json:"attempts"`
	NextRetryAt     *time.Time     `gorm:"index" json:"next_retry_at,omitempty"`
	LastError       string         `json:"last_error,omitempty"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// BeforeCreate assigns the event id and initial state
func (e *TriggerEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ProcessingState == "" {
		e.ProcessingState = TriggerPending
	}
	return nil
}

// IsTerminal reports whether the event reached processed or failed
func (e *TriggerEvent) IsTerminal() bool {
	return e.ProcessingState == TriggerProcessed || e.ProcessingState == TriggerFailed
}

// MigrateTriggerModels runs database migrations for trigger events
func MigrateTriggerModels(db *gorm.DB) error {
	return db.AutoMigrate(&TriggerEvent{})
}
