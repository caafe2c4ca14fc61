package marketdata

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stock_alerts_backend/services/analysis"
)

const demoHistoryDays = 100

var demoCompanies = map[string][3]string{
	"AAPL":  {"Apple Inc", "TECHNOLOGY", "ELECTRONIC COMPUTERS"},
	"MSFT":  {"Microsoft Corporation", "TECHNOLOGY", "SERVICES-PREPACKAGED SOFTWARE"},
	"NVDA":  {"NVIDIA Corporation", "MANUFACTURING", "SEMICONDUCTORS & RELATED DEVICES"},
	"TSLA":  {"Tesla Inc", "MANUFACTURING", "MOTOR VEHICLES & PASSENGER CAR BODIES"},
	"AMZN":  {"Amazon.com Inc", "TRADE & SERVICES", "RETAIL-CATALOG & MAIL-ORDER HOUSES"},
	"GOOGL": {"Alphabet Inc Class A", "TECHNOLOGY", "SERVICES-COMPUTER PROGRAMMING"},
}

// DemoProvider generates deterministic market data seeded by the symbol.
// The same symbol on the same day always yields the same numbers.
type DemoProvider struct {
	now func() time.Time
}

// NewDemoProvider creates a demo provider; now defaults to time.Now
func NewDemoProvider(now func() time.Time) *DemoProvider {
	if now == nil {
		now = time.Now
	}
	return &DemoProvider{now: now}
}

func seedFor(symbol string) int64 {
	h := fnv.New64a()
	h.Write([]byte(strings.ToUpper(symbol)))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

// series builds demoHistoryDays weekday bars ending on the last weekday <= today
func (d *DemoProvider) series(symbol string) []PriceBar {
	rng := rand.New(rand.NewSource(seedFor(symbol)))
	price := 20 + float64(rng.Intn(480))
	baseVolume := int64(1_000_000 + rng.Intn(20_000_000))

	end := d.now().UTC().Truncate(24 * time.Hour)
	var dates []time.Time
	for day := end; len(dates) < demoHistoryDays; day = day.AddDate(0, 0, -1) {
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		dates = append(dates, day)
	}

	bars := make([]PriceBar, 0, demoHistoryDays)
	for i := len(dates) - 1; i >= 0; i-- {
		open := price
		price = price * (1 + (rng.Float64()-0.5)*0.04)
		high := max(open, price) * (1 + rng.Float64()*0.01)
		low := min(open, price) * (1 - rng.Float64()*0.01)
		bars = append(bars, PriceBar{
			Date:   dates[i],
			Open:   decimal.NewFromFloat(open).Round(2),
			High:   decimal.NewFromFloat(high).Round(2),
			Low:    decimal.NewFromFloat(low).Round(2),
			Close:  decimal.NewFromFloat(price).Round(2),
			Volume: baseVolume/2 + rng.Int63n(baseVolume),
		})
	}
	return bars
}

// GetQuote derives the quote from the last two generated bars
func (d *DemoProvider) GetQuote(_ context.Context, symbol string) (*Quote, error) {
	bars := d.series(symbol)
	last, prev := bars[len(bars)-1], bars[len(bars)-2]
	change := last.Close.Sub(prev.Close)
	return &Quote{
		Symbol:           strings.ToUpper(symbol),
		Open:             last.Open,
		High:             last.High,
		Low:              last.Low,
		Price:            last.Close,
		Volume:           last.Volume,
		LatestTradingDay: last.Date.Format(dateLayout),
		PreviousClose:    prev.Close,
		Change:           change,
		ChangePercent:    analysis.PercentChange(prev.Close, last.Close).Round(4),
	}, nil
}

// GetDailyPrices returns the generated series. Compact and full are the same length.
func (d *DemoProvider) GetDailyPrices(_ context.Context, symbol string, _ OutputSize) (*PriceSeries, error) {
	return &PriceSeries{Symbol: strings.ToUpper(symbol), Bars: d.series(symbol)}, nil
}

func (d *DemoProvider) GetCompanyOverview(_ context.Context, symbol string) (*CompanyInfo, error) {
	symbol = strings.ToUpper(symbol)
	rng := rand.New(rand.NewSource(seedFor(symbol) + 1))
	meta, ok := demoCompanies[symbol]
	if !ok {
		meta = [3]string{fmt.Sprintf("%s Holdings", symbol), "FINANCE", "INVESTORS"}
	}
	bars := d.series(symbol)
	hi, lo := bars[0].High, bars[0].Low
	for _, b := range bars {
		if b.High.GreaterThan(hi) {
			hi = b.High
		}
		if b.Low.LessThan(lo) {
			lo = b.Low
		}
	}
	high52, _ := hi.Float64()
	low52, _ := lo.Float64()
	return &CompanyInfo{
		Symbol:               symbol,
		Name:                 meta[0],
		Description:          fmt.Sprintf("Demo profile for %s.", meta[0]),
		Exchange:             "NASDAQ",
		Sector:               meta[1],
		Industry:             meta[2],
		MarketCapitalization: (1 + rng.Int63n(2000)) * 1_000_000_000,
		PERatio:              roundTo(5+rng.Float64()*45, 2),
		EPS:                  roundTo(rng.Float64()*12, 2),
		DividendYield:        roundTo(rng.Float64()*0.04, 4),
		Beta:                 roundTo(0.5+rng.Float64()*1.5, 3),
		WeekHigh52:           high52,
		WeekLow52:            low52,
	}, nil
}

func (d *DemoProvider) GetBalanceSheet(_ context.Context, symbol string) (*BalanceSheet, error) {
	symbol = strings.ToUpper(symbol)
	rng := rand.New(rand.NewSource(seedFor(symbol) + 2))
	bs := &BalanceSheet{Symbol: symbol}
	year := d.now().UTC().Year() - 1
	assets := (10 + rng.Int63n(400)) * 1_000_000_000
	for i := 0; i < 3; i++ {
		liabilities := assets * (40 + rng.Int63n(40)) / 100
		bs.AnnualReports = append(bs.AnnualReports, BalanceSheetReport{
			FiscalDateEnding:       fmt.Sprintf("%d-12-31", year-i),
			ReportedCurrency:       "USD",
			TotalAssets:            assets,
			TotalLiabilities:       liabilities,
			TotalShareholderEquity: assets - liabilities,
			CashAndEquivalents:     assets * (5 + rng.Int63n(15)) / 100,
		})
		assets = assets * 90 / 100
	}
	return bs, nil
}

// GetRSI computes RSI over the generated closes
func (d *DemoProvider) GetRSI(_ context.Context, symbol, interval string, period int) (*RSISeries, error) {
	bars := d.series(symbol)
	closes := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	out := &RSISeries{Symbol: strings.ToUpper(symbol), Interval: interval, Period: period}
	for i := period; i < len(closes); i++ {
		v, err := analysis.CalculateRSI(closes[:i+1], period)
		if err != nil {
			return nil, err
		}
		f, _ := v.Round(4).Float64()
		out.Points = append(out.Points, RSIPoint{Date: bars[i].Date, Value: f})
	}
	if len(out.Points) == 0 {
		return nil, fmt.Errorf("rsi for %s: %w", symbol, ErrNoData)
	}
	return out, nil
}

func roundTo(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
