package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"stock_alerts_backend/config"
)

const dateLayout = "2006-01-02"

// AlphaVantageClient reads the Alpha Vantage query API
type AlphaVantageClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	demo       *DemoProvider // set when DEMO_MODE is on
	log        logrus.FieldLogger
}

// NewAlphaVantageClient creates a client. Without an API key every call fails
// with ErrNotConfigured unless demo mode is on, in which case demo data is served.
func NewAlphaVantageClient(cfg config.ProviderConfig, log logrus.FieldLogger) *AlphaVantageClient {
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &AlphaVantageClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		log:        log.WithField("component", "alphavantage"),
	}
	if cfg.DemoMode {
		c.demo = NewDemoProvider(nil)
		c.log.Info("DEMO_MODE enabled, serving generated market data when the provider is unavailable")
	}
	if c.apiKey == "" && c.demo == nil {
		c.log.Warn("ALPHA_VANTAGE_API_KEY not set, market data collection is disabled")
	}
	return c
}

// query performs one rate-limited call and returns the top-level JSON fields
func (c *AlphaVantageClient) query(ctx context.Context, params url.Values) (map[string]json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params.Set("apikey", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"function": params.Get("function"),
		"symbol":   params.Get("symbol"),
	}).Debug("Requesting market data")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", params.Get("function"), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", params.Get("function"), err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s returned status %d", params.Get("function"), resp.StatusCode)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", params.Get("function"), err)
	}

	if raw, ok := fields["Error Message"]; ok {
		return nil, fmt.Errorf("%s: %s", params.Get("function"), rawString(raw))
	}
	for _, key := range []string{"Note", "Information"} {
		if raw, ok := fields[key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, rawString(raw))
		}
	}
	return fields, nil
}

// fallback serves demo data in demo mode when the real call failed
func (c *AlphaVantageClient) fallback(fn, symbol string, err error) bool {
	if c.demo == nil {
		return false
	}
	entry := c.log.WithError(err).WithFields(logrus.Fields{"function": fn, "symbol": symbol})
	if errors.Is(err, ErrNotConfigured) {
		entry.Debug("Serving demo data")
	} else {
		entry.Warn("Falling back to demo data")
	}
	return true
}

// GetQuote fetches GLOBAL_QUOTE
func (c *AlphaVantageClient) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	fields, err := c.query(ctx, url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {symbol}})
	if err == nil {
		var q quoteBody
		if raw, ok := fields["Global Quote"]; !ok || json.Unmarshal(raw, &q) != nil || q.Symbol == "" {
			err = fmt.Errorf("quote for %s: %w", symbol, ErrNoData)
		} else {
			return q.toQuote(), nil
		}
	}
	if c.fallback("GLOBAL_QUOTE", symbol, err) {
		return c.demo.GetQuote(ctx, symbol)
	}
	return nil, err
}

// GetDailyPrices fetches TIME_SERIES_DAILY, returned oldest first
func (c *AlphaVantageClient) GetDailyPrices(ctx context.Context, symbol string, size OutputSize) (*PriceSeries, error) {
	if size == "" {
		size = OutputCompact
	}
	fields, err := c.query(ctx, url.Values{
		"function":   {"TIME_SERIES_DAILY"},
		"symbol":     {symbol},
		"outputsize": {string(size)},
	})
	if err == nil {
		var series map[string]dailyBarBody
		if raw, ok := fields["Time Series (Daily)"]; !ok || json.Unmarshal(raw, &series) != nil || len(series) == 0 {
			err = fmt.Errorf("daily prices for %s: %w", symbol, ErrNoData)
		} else {
			return toPriceSeries(symbol, series), nil
		}
	}
	if c.fallback("TIME_SERIES_DAILY", symbol, err) {
		return c.demo.GetDailyPrices(ctx, symbol, size)
	}
	return nil, err
}

// GetCompanyOverview fetches OVERVIEW
func (c *AlphaVantageClient) GetCompanyOverview(ctx context.Context, symbol string) (*CompanyInfo, error) {
	fields, err := c.query(ctx, url.Values{"function": {"OVERVIEW"}, "symbol": {symbol}})
	if err == nil {
		// unknown symbols come back as {}
		if _, ok := fields["Symbol"]; !ok {
			err = fmt.Errorf("company overview for %s: %w", symbol, ErrNoData)
		} else {
			return toCompanyInfo(fields), nil
		}
	}
	if c.fallback("OVERVIEW", symbol, err) {
		return c.demo.GetCompanyOverview(ctx, symbol)
	}
	return nil, err
}

// GetBalanceSheet fetches BALANCE_SHEET annual reports
func (c *AlphaVantageClient) GetBalanceSheet(ctx context.Context, symbol string) (*BalanceSheet, error) {
	fields, err := c.query(ctx, url.Values{"function": {"BALANCE_SHEET"}, "symbol": {symbol}})
	if err == nil {
		var reports []balanceReportBody
		if raw, ok := fields["annualReports"]; !ok || json.Unmarshal(raw, &reports) != nil || len(reports) == 0 {
			err = fmt.Errorf("balance sheet for %s: %w", symbol, ErrNoData)
		} else {
			bs := &BalanceSheet{Symbol: symbol}
			for _, r := range reports {
				bs.AnnualReports = append(bs.AnnualReports, r.toReport())
			}
			return bs, nil
		}
	}
	if c.fallback("BALANCE_SHEET", symbol, err) {
		return c.demo.GetBalanceSheet(ctx, symbol)
	}
	return nil, err
}

// GetRSI fetches the RSI technical indicator on closing prices
func (c *AlphaVantageClient) GetRSI(ctx context.Context, symbol, interval string, period int) (*RSISeries, error) {
	if interval == "" {
		interval = "daily"
	}
	fields, err := c.query(ctx, url.Values{
		"function":    {"RSI"},
		"symbol":      {symbol},
		"interval":    {interval},
		"time_period": {strconv.Itoa(period)},
		"series_type": {"close"},
	})
	if err == nil {
		var points map[string]map[string]string
		if raw, ok := fields["Technical Analysis: RSI"]; !ok || json.Unmarshal(raw, &points) != nil || len(points) == 0 {
			err = fmt.Errorf("rsi for %s: %w", symbol, ErrNoData)
		} else {
			return toRSISeries(symbol, interval, period, points), nil
		}
	}
	if c.fallback("RSI", symbol, err) {
		return c.demo.GetRSI(ctx, symbol, interval, period)
	}
	return nil, err
}

type quoteBody struct {
	Symbol           string `json:"01. symbol"`
	Open             string `json:"02. open"`
	High             string `json:"03. high"`
	Low              string `json:"04. low"`
	Price            string `json:"05. price"`
	Volume           string `json:"06. volume"`
	LatestTradingDay string `json:"07. latest trading day"`
	PreviousClose    string `json:"08. previous close"`
	Change           string `json:"09. change"`
	ChangePercent    string `json:"10. change percent"`
}

func (q quoteBody) toQuote() *Quote {
	return &Quote{
		Symbol:           q.Symbol,
		Open:             parseDecimal(q.Open),
		High:             parseDecimal(q.High),
		Low:              parseDecimal(q.Low),
		Price:            parseDecimal(q.Price),
		Volume:           parseInt(q.Volume),
		LatestTradingDay: q.LatestTradingDay,
		PreviousClose:    parseDecimal(q.PreviousClose),
		Change:           parseDecimal(q.Change),
		ChangePercent:    parseDecimal(strings.TrimSuffix(q.ChangePercent, "%")),
	}
}

type dailyBarBody struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

func toPriceSeries(symbol string, series map[string]dailyBarBody) *PriceSeries {
	out := &PriceSeries{Symbol: symbol}
	for day, b := range series {
		date, err := time.Parse(dateLayout, day)
		if err != nil {
			continue
		}
		out.Bars = append(out.Bars, PriceBar{
			Date:   date,
			Open:   parseDecimal(b.Open),
			High:   parseDecimal(b.High),
			Low:    parseDecimal(b.Low),
			Close:  parseDecimal(b.Close),
			Volume: parseInt(b.Volume),
		})
	}
	sort.Slice(out.Bars, func(i, j int) bool { return out.Bars[i].Date.Before(out.Bars[j].Date) })
	return out
}

func toCompanyInfo(fields map[string]json.RawMessage) *CompanyInfo {
	get := func(k string) string { return rawString(fields[k]) }
	return &CompanyInfo{
		Symbol:               get("Symbol"),
		Name:                 get("Name"),
		Description:          get("Description"),
		Exchange:             get("Exchange"),
		Sector:               get("Sector"),
		Industry:             get("Industry"),
		MarketCapitalization: parseInt(get("MarketCapitalization")),
		PERatio:              parseFloat(get("PERatio")),
		EPS:                  parseFloat(get("EPS")),
		DividendYield:        parseFloat(get("DividendYield")),
		Beta:                 parseFloat(get("Beta")),
		WeekHigh52:           parseFloat(get("52WeekHigh")),
		WeekLow52:            parseFloat(get("52WeekLow")),
	}
}

type balanceReportBody struct {
	FiscalDateEnding       string `json:"fiscalDateEnding"`
	ReportedCurrency       string `json:"reportedCurrency"`
	TotalAssets            string `json:"totalAssets"`
	TotalLiabilities       string `json:"totalLiabilities"`
	TotalShareholderEquity string `json:"totalShareholderEquity"`
	Cash                   string `json:"cashAndCashEquivalentsAtCarryingValue"`
}

func (r balanceReportBody) toReport() BalanceSheetReport {
	return BalanceSheetReport{
		FiscalDateEnding:       r.FiscalDateEnding,
		ReportedCurrency:       r.ReportedCurrency,
		TotalAssets:            parseInt(r.TotalAssets),
		TotalLiabilities:       parseInt(r.TotalLiabilities),
		TotalShareholderEquity: parseInt(r.TotalShareholderEquity),
		CashAndEquivalents:     parseInt(r.Cash),
	}
}

func toRSISeries(symbol, interval string, period int, points map[string]map[string]string) *RSISeries {
	out := &RSISeries{Symbol: symbol, Interval: interval, Period: period}
	for day, v := range points {
		// intraday intervals carry a time component
		date, err := time.Parse(dateLayout, day)
		if err != nil {
			if date, err = time.Parse("2006-01-02 15:04", day); err != nil {
				continue
			}
		}
		out.Points = append(out.Points, RSIPoint{Date: date, Value: parseFloat(v["RSI"])})
	}
	sort.Slice(out.Points, func(i, j int) bool { return out.Points[i].Date.Before(out.Points[j].Date) })
	return out
}

func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw)
	}
	return s
}

// numeric fields use "None" or "-" for missing values
func cleanNumber(s string) string {
	s = strings.TrimSpace(s)
	if s == "None" || s == "-" {
		return ""
	}
	return s
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(cleanNumber(s), 64)
	return f
}

func parseInt(s string) int64 {
	s = cleanNumber(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	return int64(parseFloat(s))
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(cleanNumber(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
