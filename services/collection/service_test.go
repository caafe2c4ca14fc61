package collection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"stock_alerts_backend/models"
	"stock_alerts_backend/services/marketdata"
	"stock_alerts_backend/services/store"
	"stock_alerts_backend/services/store/storetest"
)

var fixedNow = time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)

// failingProvider wraps the demo provider and fails the named calls
type failingProvider struct {
	*marketdata.DemoProvider
	balanceSheet bool
	rsi          bool
	all          bool
}

var errOutage = errors.New("provider outage")

func (p *failingProvider) GetQuote(ctx context.Context, symbol string) (*marketdata.Quote, error) {
	if p.all {
		return nil, errOutage
	}
	return p.DemoProvider.GetQuote(ctx, symbol)
}

func (p *failingProvider) GetCompanyOverview(ctx context.Context, symbol string) (*marketdata.CompanyInfo, error) {
	if p.all {
		return nil, errOutage
	}
	return p.DemoProvider.GetCompanyOverview(ctx, symbol)
}

func (p *failingProvider) GetBalanceSheet(ctx context.Context, symbol string) (*marketdata.BalanceSheet, error) {
	if p.balanceSheet || p.all {
		return nil, errOutage
	}
	return p.DemoProvider.GetBalanceSheet(ctx, symbol)
}

func (p *failingProvider) GetRSI(ctx context.Context, symbol, interval string, period int) (*marketdata.RSISeries, error) {
	if p.rsi || p.all {
		return nil, errOutage
	}
	return p.DemoProvider.GetRSI(ctx, symbol, interval, period)
}

type recordingArchive struct {
	mu     sync.Mutex
	facets []models.Facet
}

func (a *recordingArchive) Archive(_ context.Context, rec *models.MarketRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.facets = append(a.facets, rec.Facet)
	return nil
}

func newService(t *testing.T, p marketdata.Provider, archive Archiver, tracked ...string) (*Service, *store.Store) {
	t.Helper()
	st := storetest.New(t)
	log, _ := test.NewNullLogger()
	svc := NewService(p, st, archive, Options{
		TrackedTickers: tracked,
		Now:            func() time.Time { return fixedNow },
	}, log)
	return svc, st
}

func demo() *marketdata.DemoProvider {
	return marketdata.NewDemoProvider(func() time.Time { return fixedNow })
}

func TestCollectAllDataForSymbolIsolatesFacetFailure(t *testing.T) {
	archive := &recordingArchive{}
	svc, st := newService(t, &failingProvider{DemoProvider: demo(), balanceSheet: true}, archive)
	ctx := context.Background()

	res := svc.CollectAllDataForSymbol(ctx, "aapl")

	if res.Symbol != "AAPL" {
		t.Fatalf("symbol = %q", res.Symbol)
	}
	if !res.Quote.Success || !res.Company.Success || !res.RSI.Success {
		t.Fatalf("unaffected facets failed: %+v", res)
	}
	if res.BalanceSheet.Success || res.BalanceSheet.Error == "" {
		t.Fatalf("balance sheet = %+v, want failure with error", res.BalanceSheet)
	}
	if res.Failed() {
		t.Fatal("partial failure should not fail the symbol")
	}

	for _, facet := range []models.Facet{models.FacetQuote, models.FacetCompany, models.FacetRSI} {
		if _, err := st.LatestMarketRecord(ctx, "AAPL", facet); err != nil {
			t.Fatalf("%s not stored: %v", facet, err)
		}
	}
	if _, err := st.LatestMarketRecord(ctx, "AAPL", models.FacetBalanceSheet); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("balance sheet lookup err = %v, want ErrNotFound", err)
	}
	if len(archive.facets) != 3 {
		t.Fatalf("archived %v, want 3 facets", archive.facets)
	}

	bars, err := st.RecentPriceBars(ctx, "AAPL", 200)
	if err != nil || len(bars) == 0 {
		t.Fatalf("price history not appended: %d bars, err %v", len(bars), err)
	}
}

func TestCollectRSIFallsBackToStoredHistory(t *testing.T) {
	svc, st := newService(t, &failingProvider{DemoProvider: demo(), rsi: true}, nil)
	ctx := context.Background()

	// first pass stores the price history the fallback reads
	svc.CollectAllDataForSymbol(ctx, "MSFT")
	res := svc.CollectAllDataForSymbol(ctx, "MSFT")
	if !res.RSI.Success {
		t.Fatalf("rsi = %+v, want computed fallback", res.RSI)
	}

	rec, err := st.LatestMarketRecord(ctx, "MSFT", models.FacetRSI)
	if err != nil {
		t.Fatalf("LatestMarketRecord: %v", err)
	}
	var reading models.RSIReading
	if err := rec.Decode(&reading); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reading.Source != "computed" || reading.Value < 0 || reading.Value > 100 {
		t.Fatalf("reading = %+v", reading)
	}
}

func TestCollectAllFacetsFailing(t *testing.T) {
	svc, _ := newService(t, &failingProvider{DemoProvider: demo(), all: true}, nil)
	res := svc.CollectAllDataForSymbol(context.Background(), "TSLA")
	if !res.Failed() {
		t.Fatalf("every facet failed but symbol not failed: %+v", res)
	}
}

func TestCollectDataForWatchlistDedupes(t *testing.T) {
	svc, st := newService(t, demo(), nil, "nvda", "SPY")
	ctx := context.Background()

	a := storetest.User(t, st, "a@example.com")
	b := storetest.User(t, st, "b@example.com")
	if _, err := st.BulkAddToWatchlist(ctx, a.ID, []string{"NVDA", "AAPL"}); err != nil {
		t.Fatalf("bulk add: %v", err)
	}
	if _, err := st.AddToWatchlist(ctx, b.ID, "nvda", ""); err != nil {
		t.Fatalf("add: %v", err)
	}

	results, err := svc.CollectDataForWatchlist(ctx)
	if err != nil {
		t.Fatalf("CollectDataForWatchlist: %v", err)
	}
	var got []string
	for _, r := range results {
		got = append(got, r.Symbol)
	}
	want := []string{"AAPL", "NVDA", "SPY"}
	if len(got) != len(want) {
		t.Fatalf("symbols = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("symbols = %v, want %v", got, want)
		}
	}

	summary := Summarize(results)
	if summary != (CollectionSummary{SymbolsProcessed: 3, SuccessCount: 3}) {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestSummarize(t *testing.T) {
	ok := FacetResult{Success: true}
	bad := FacetResult{Error: "boom"}
	results := []SymbolResult{
		{Symbol: "A", Quote: ok, Company: bad, BalanceSheet: bad, RSI: bad},
		{Symbol: "B", Quote: bad, Company: bad, BalanceSheet: bad, RSI: bad},
		{Symbol: "C", Error: "context canceled"},
	}
	got := Summarize(results)
	if got != (CollectionSummary{SymbolsProcessed: 3, SuccessCount: 1, ErrorCount: 2}) {
		t.Fatalf("summary = %+v", got)
	}
}
