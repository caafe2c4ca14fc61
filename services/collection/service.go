// Package collection fetches market data facets per symbol and persists them.
package collection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"stock_alerts_backend/metrics"
	"stock_alerts_backend/models"
	"stock_alerts_backend/services/analysis"
	"stock_alerts_backend/services/marketdata"
	"stock_alerts_backend/services/store"
)

const (
	RSIPeriod   = 14
	RSIInterval = "daily"

	// bars read back when RSI has to be computed locally
	rsiHistoryBars = 100
)

// MarketStore is the persistence the collector writes to
type MarketStore interface {
	UpsertMarketRecord(ctx context.Context, symbol string, facet models.Facet, payload interface{}, collectedAt time.Time) (*models.MarketRecord, error)
	AppendPriceBars(ctx context.Context, bars []models.PriceBar) error
	RecentPriceBars(ctx context.Context, symbol string, n int) ([]models.PriceBar, error)
	ActiveSymbols(ctx context.Context) ([]string, error)
}

// Archiver mirrors stored snapshots elsewhere. Failures never fail a facet.
type Archiver interface {
	Archive(ctx context.Context, rec *models.MarketRecord) error
}

// FacetResult is the outcome of one facet fetch
type FacetResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func facetResult(err error) FacetResult {
	if err != nil {
		return FacetResult{Success: false, Error: err.Error()}
	}
	return FacetResult{Success: true}
}

// SymbolResult holds the per-facet outcomes for one symbol
type SymbolResult struct {
	Symbol       string      `json:"symbol"`
	Quote        FacetResult `json:"quote"`
	Company      FacetResult `json:"company"`
	BalanceSheet FacetResult `json:"balance_sheet"`
	RSI          FacetResult `json:"rsi"`
	// Error is set when the symbol could not be collected at all
	Error string `json:"error,omitempty"`
}

// Failed reports an explicit whole-symbol failure. Individual facet failures
// do not make the symbol fail unless every facet failed.
func (r SymbolResult) Failed() bool {
	if r.Error != "" {
		return true
	}
	return !r.Quote.Success && !r.Company.Success && !r.BalanceSheet.Success && !r.RSI.Success
}

// CollectionSummary is what a collection tick reports
type CollectionSummary struct {
	SymbolsProcessed int `json:"symbolsProcessed"`
	SuccessCount     int `json:"successCount"`
	ErrorCount       int `json:"errorCount"`
}

// Summarize counts outcomes
func Summarize(results []SymbolResult) CollectionSummary {
	s := CollectionSummary{SymbolsProcessed: len(results)}
	for _, r := range results {
		if r.Failed() {
			s.ErrorCount++
		} else {
			s.SuccessCount++
		}
	}
	return s
}

// Options for NewService. Zero values take defaults.
type Options struct {
	TrackedTickers []string
	Concurrency    int
	Now            func() time.Time
}

// Service is the DataCollectionService
type Service struct {
	provider marketdata.Provider
	store    MarketStore
	archive  Archiver
	tracked  []string
	limit    int
	now      func() time.Time
	log      logrus.FieldLogger
}

// NewService builds a collector. archive may be nil.
func NewService(provider marketdata.Provider, st MarketStore, archive Archiver, opts Options, log logrus.FieldLogger) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		provider: provider,
		store:    st,
		archive:  archive,
		tracked:  opts.TrackedTickers,
		limit:    opts.Concurrency,
		now:      opts.Now,
		log:      log.WithField("component", "collection"),
	}
}

// CollectAllDataForSymbol fetches quote, company, balance sheet and RSI
// concurrently. Each facet succeeds or fails on its own.
func (s *Service) CollectAllDataForSymbol(ctx context.Context, symbol string) SymbolResult {
	symbol = store.NormalizeSymbol(symbol)
	result := SymbolResult{Symbol: symbol}
	if symbol == "" {
		result.Error = "symbol is required"
		return result
	}

	var wg sync.WaitGroup
	run := func(facet models.Facet, out *FacetResult, fn func(context.Context, string) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fn(ctx, symbol)
			metrics.CollectionFacetsTotal.WithLabelValues(string(facet), metrics.Outcome(err)).Inc()
			if err != nil {
				s.log.WithError(err).WithFields(logrus.Fields{"symbol": symbol, "facet": facet}).Warn("Facet collection failed")
			}
			*out = facetResult(err)
		}()
	}
	run(models.FacetQuote, &result.Quote, s.collectQuote)
	run(models.FacetCompany, &result.Company, s.collectCompany)
	run(models.FacetBalanceSheet, &result.BalanceSheet, s.collectBalanceSheet)
	run(models.FacetRSI, &result.RSI, s.collectRSI)
	wg.Wait()

	s.log.WithFields(logrus.Fields{
		"symbol":        symbol,
		"quote":         result.Quote.Success,
		"company":       result.Company.Success,
		"balance_sheet": result.BalanceSheet.Success,
		"rsi":           result.RSI.Success,
	}).Debug("Symbol collected")
	return result
}

// CollectDataForWatchlist collects every distinct active symbol plus the
// configured tracked tickers. Only a failure to read the watchlist is an error.
func (s *Service) CollectDataForWatchlist(ctx context.Context) ([]SymbolResult, error) {
	symbols, err := s.store.ActiveSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("load watchlist symbols: %w", err)
	}
	symbols = mergeSymbols(symbols, s.tracked)
	if len(symbols) == 0 {
		s.log.Info("No symbols to collect")
		return []SymbolResult{}, nil
	}

	started := time.Now()
	results := make([]SymbolResult, len(symbols))
	g := new(errgroup.Group)
	g.SetLimit(s.limit)
	for i, sym := range symbols {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = SymbolResult{Symbol: sym, Error: err.Error()}
				return nil
			}
			results[i] = s.CollectAllDataForSymbol(ctx, sym)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summarize(results)
	s.log.WithFields(logrus.Fields{
		"symbols":  summary.SymbolsProcessed,
		"success":  summary.SuccessCount,
		"errors":   summary.ErrorCount,
		"duration": time.Since(started).Round(time.Millisecond).String(),
	}).Info("Watchlist collection complete")
	return results, nil
}

func mergeSymbols(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, sym := range list {
			sym = store.NormalizeSymbol(sym)
			if sym == "" {
				continue
			}
			if _, dup := seen[sym]; dup {
				continue
			}
			seen[sym] = struct{}{}
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Service) persist(ctx context.Context, symbol string, facet models.Facet, payload interface{}) error {
	rec, err := s.store.UpsertMarketRecord(ctx, symbol, facet, payload, s.now())
	if err != nil {
		return fmt.Errorf("store %s: %w", facet, err)
	}
	if s.archive != nil {
		if err := s.archive.Archive(ctx, rec); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"symbol": symbol, "facet": facet}).Warn("Snapshot archive failed")
		}
	}
	return nil
}

// collectQuote stores the quote and appends the daily series used by the volume rule
func (s *Service) collectQuote(ctx context.Context, symbol string) error {
	quote, err := s.provider.GetQuote(ctx, symbol)
	if err != nil {
		return err
	}
	if err := s.persist(ctx, symbol, models.FacetQuote, quote); err != nil {
		return err
	}

	series, err := s.provider.GetDailyPrices(ctx, symbol, marketdata.OutputCompact)
	if err != nil {
		s.log.WithError(err).WithField("symbol", symbol).Warn("Daily price history unavailable")
		return nil
	}
	if err := s.store.AppendPriceBars(ctx, toPriceBars(symbol, series, s.now())); err != nil {
		s.log.WithError(err).WithField("symbol", symbol).Warn("Failed to store price history")
	}
	return nil
}

func toPriceBars(symbol string, series *marketdata.PriceSeries, collectedAt time.Time) []models.PriceBar {
	bars := make([]models.PriceBar, 0, len(series.Bars))
	for _, b := range series.Bars {
		bars = append(bars, models.PriceBar{
			Symbol:      symbol,
			Date:        b.Date.UTC(),
			Open:        b.Open,
			High:        b.High,
			Low:         b.Low,
			Close:       b.Close,
			Volume:      b.Volume,
			CollectedAt: collectedAt,
		})
	}
	return bars
}

func (s *Service) collectCompany(ctx context.Context, symbol string) error {
	info, err := s.provider.GetCompanyOverview(ctx, symbol)
	if err != nil {
		return err
	}
	return s.persist(ctx, symbol, models.FacetCompany, info)
}

func (s *Service) collectBalanceSheet(ctx context.Context, symbol string) error {
	sheet, err := s.provider.GetBalanceSheet(ctx, symbol)
	if err != nil {
		return err
	}
	return s.persist(ctx, symbol, models.FacetBalanceSheet, sheet)
}

// collectRSI prefers the provider's RSI and falls back to computing it from
// stored daily closes
func (s *Service) collectRSI(ctx context.Context, symbol string) error {
	reading, err := s.providerRSI(ctx, symbol)
	if err != nil {
		computed, cerr := s.computedRSI(ctx, symbol)
		if cerr != nil {
			return err
		}
		s.log.WithError(err).WithField("symbol", symbol).Debug("Using locally computed RSI")
		reading = computed
	}
	return s.persist(ctx, symbol, models.FacetRSI, reading)
}

func (s *Service) providerRSI(ctx context.Context, symbol string) (*models.RSIReading, error) {
	series, err := s.provider.GetRSI(ctx, symbol, RSIInterval, RSIPeriod)
	if err != nil {
		return nil, err
	}
	latest, ok := series.Latest()
	if !ok {
		return nil, marketdata.ErrNoData
	}
	return &models.RSIReading{Value: latest.Value, Date: latest.Date, Period: RSIPeriod, Source: "provider"}, nil
}

func (s *Service) computedRSI(ctx context.Context, symbol string) (*models.RSIReading, error) {
	bars, err := s.store.RecentPriceBars(ctx, symbol, rsiHistoryBars)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, errors.New("no stored price history")
	}
	closes := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	value, err := analysis.CalculateRSI(closes, RSIPeriod)
	if err != nil {
		return nil, err
	}
	v, _ := value.Float64()
	return &models.RSIReading{Value: v, Date: bars[len(bars)-1].Date, Period: RSIPeriod, Source: "computed"}, nil
}
