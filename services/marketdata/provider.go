package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrRateLimited is returned when the provider answers with a throttling notice
	ErrRateLimited = errors.New("market data provider rate limit reached")
	// ErrNotConfigured is returned by every call when no API key is set and demo mode is off
	ErrNotConfigured = errors.New("market data provider not configured")
	// ErrNoData is returned when the provider has nothing for the symbol
	ErrNoData = errors.New("no data returned")
)

// Provider supplies market data per symbol. Calls are independent; a failure
// of one says nothing about the others.
type Provider interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetDailyPrices(ctx context.Context, symbol string, size OutputSize) (*PriceSeries, error)
	GetCompanyOverview(ctx context.Context, symbol string) (*CompanyInfo, error)
	GetBalanceSheet(ctx context.Context, symbol string) (*BalanceSheet, error)
	GetRSI(ctx context.Context, symbol, interval string, period int) (*RSISeries, error)
}

// OutputSize selects how much daily history is returned
type OutputSize string

const (
	OutputCompact OutputSize = "compact" // last 100 bars
	OutputFull    OutputSize = "full"
)

// Quote is the latest trading-day quote
type Quote struct {
	Symbol           string          `json:"symbol"`
	Open             decimal.Decimal `json:"open"`
	High             decimal.Decimal `json:"high"`
	Low              decimal.Decimal `json:"low"`
	Price            decimal.Decimal `json:"price"`
	Volume           int64           `json:"volume"`
	LatestTradingDay string          `json:"latest_trading_day"`
	PreviousClose    decimal.Decimal `json:"previous_close"`
	Change           decimal.Decimal `json:"change"`
	ChangePercent    decimal.Decimal `json:"change_percent"`
}

// PriceBar is one daily OHLCV bar
type PriceBar struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// PriceSeries holds daily bars ordered oldest first
type PriceSeries struct {
	Symbol string     `json:"symbol"`
	Bars   []PriceBar `json:"bars"`
}

// CompanyInfo is the fundamentals overview
type CompanyInfo struct {
	Symbol               string  `json:"symbol"`
	Name                 string  `json:"name"`
	Description          string  `json:"description"`
	Exchange             string  `json:"exchange"`
	Sector               string  `json:"sector"`
	Industry             string  `json:"industry"`
	MarketCapitalization int64   `json:"market_capitalization"`
	PERatio              float64 `json:"pe_ratio"`
	EPS                  float64 `json:"eps"`
	DividendYield        float64 `json:"dividend_yield"`
	Beta                 float64 `json:"beta"`
	WeekHigh52           float64 `json:"week_high_52"`
	WeekLow52            float64 `json:"week_low_52"`
}

// BalanceSheetReport is one annual report
type BalanceSheetReport struct {
	FiscalDateEnding       string `json:"fiscal_date_ending"`
	ReportedCurrency       string `json:"reported_currency"`
	TotalAssets            int64  `json:"total_assets"`
	TotalLiabilities       int64  `json:"total_liabilities"`
	TotalShareholderEquity int64  `json:"total_shareholder_equity"`
	CashAndEquivalents     int64  `json:"cash_and_equivalents"`
}

// BalanceSheet lists annual reports, newest first as the provider returns them
type BalanceSheet struct {
	Symbol        string               `json:"symbol"`
	AnnualReports []BalanceSheetReport `json:"annual_reports"`
}

// RSIPoint is one indicator value
type RSIPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// RSISeries holds RSI values ordered oldest first
type RSISeries struct {
	Symbol   string     `json:"symbol"`
	Interval string     `json:"interval"`
	Period   int        `json:"period"`
	Points   []RSIPoint `json:"points"`
}

// Latest returns the most recent point
func (s *RSISeries) Latest() (RSIPoint, bool) {
	if s == nil || len(s.Points) == 0 {
		return RSIPoint{}, false
	}
	return s.Points[len(s.Points)-1], true
}
