package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Facet identifies one kind of collected market data for a symbol
type Facet string

const (
	FacetQuote        Facet = "quote"
	FacetCompany      Facet = "company"
	FacetBalanceSheet Facet = "balance_sheet"
	FacetRSI          Facet = "rsi" // technical indicator facet, RSI(14)
)

// Facets lists every facet DataCollectionService writes
func Facets() []Facet {
	return []Facet{FacetQuote, FacetCompany, FacetBalanceSheet, FacetRSI}
}

// MarketRecord is the latest snapshot of one facet for one symbol.
// A new collection overwrites the previous payload for the same (symbol, facet).
type MarketRecord struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Symbol      string         `gorm:"uniqueIndex:idx_market_symbol_facet;size:16;not null" json:"symbol"`
	Facet       Facet          `gorm:"uniqueIndex:idx_market_symbol_facet;size:32;not null" json:"facet"`
	Payload     datatypes.JSON `json:"payload"`
	CollectedAt time.Time      `gorm:"index" json:"collected_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Decode unmarshals the stored payload into out
func (r *MarketRecord) Decode(out interface{}) error {
	if len(r.Payload) == 0 {
		return fmt.Errorf("market record %s/%s has empty payload", r.Symbol, r.Facet)
	}
	return json.Unmarshal(r.Payload, out)
}

// RSIReading is the payload stored under FacetRSI
type RSIReading struct {
	Value  float64   `json:"value"`
	Date   time.Time `json:"date"`
	Period int       `json:"period"`
	Source string    `json:"source"` // "provider" or "computed"
}

// PriceBar is one daily OHLCV bar. Unlike MarketRecord the series is appended,
// ordered by Date, because the volume rule needs a trailing window.
type PriceBar struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	Symbol      string          `gorm:"uniqueIndex:idx_price_symbol_date;size:16;not null" json:"symbol"`
	Date        time.Time       `gorm:"uniqueIndex:idx_price_symbol_date;not null" json:"date"`
	Open        decimal.Decimal `gorm:"type:decimal(15,4)" json:"open"`
	High        decimal.Decimal `gorm:"type:decimal(15,4)" json:"high"`
	Low         decimal.Decimal `gorm:"type:decimal(15,4)" json:"low"`
	Close       decimal.Decimal `gorm:"type:decimal(15,4)" json:"close"`
	Volume      int64           `json:"volume"`
	CollectedAt time.Time       `json:"collected_at"`
}

// MigrateStockModels runs database migrations for market data models
func MigrateStockModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&MarketRecord{},
		&PriceBar{},
	)
}
