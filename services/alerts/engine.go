// Package alerts evaluates alert rules against the latest collected market data.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"stock_alerts_backend/config"
	"stock_alerts_backend/metrics"
	"stock_alerts_backend/models"
	"stock_alerts_backend/services/analysis"
	"stock_alerts_backend/services/marketdata"
	"stock_alerts_backend/services/store"
	"stock_alerts_backend/services/triggers"
)

const (
	RulePriceChanges    = "price-changes"
	RulePriceThresholds = "price-thresholds"
	RuleVolumeSurges    = "volume-surges"
	RuleRSIAlerts       = "rsi-alerts"

	// Source is stamped on every trigger the engine raises
	Source = "price_alerts"

	volumeWindow = 20
)

// MarketReader is the store surface the engine reads
type MarketReader interface {
	ActiveSymbols(ctx context.Context) ([]string, error)
	LatestMarketRecord(ctx context.Context, symbol string, facet models.Facet) (*models.MarketRecord, error)
	RecentPriceBars(ctx context.Context, symbol string, n int) ([]models.PriceBar, error)
	ActiveThresholds(ctx context.Context) ([]models.PriceThreshold, error)
	MarkThresholdTriggered(ctx context.Context, id uint, at time.Time) error
	RecentTriggerExists(ctx context.Context, ticker, eventType string, since time.Time) (bool, error)
}

// TriggerSink receives rule violations, normally the trigger service
type TriggerSink interface {
	ProcessAITrigger(ctx context.Context, p triggers.Payload) (*models.TriggerEvent, error)
}

// Alert is one rule violation
type Alert struct {
	Symbol    string                 `json:"symbol"`
	EventType string                 `json:"event_type"`
	Details   map[string]interface{} `json:"details"`
}

// RuleResult is the outcome of one rule check
type RuleResult struct {
	Rule      string  `json:"rule"`
	Processed int     `json:"processed"`
	Notified  int     `json:"notified"`
	Failed    int     `json:"failed,omitempty"` // symbols skipped after a read error
	Alerts    []Alert `json:"alerts,omitempty"`
}

// AlertRunSummary aggregates one run of every rule
type AlertRunSummary struct {
	PriceChanges    RuleResult        `json:"priceChanges"`
	PriceThresholds RuleResult        `json:"priceThresholds"`
	VolumeSurges    RuleResult        `json:"volumeSurges"`
	RSIAlerts       RuleResult        `json:"rsiAlerts"`
	AlertsProcessed int               `json:"alertsProcessed"`
	TriggeredAlerts int               `json:"triggeredAlerts"`
	Errors          map[string]string `json:"errors,omitempty"`
}

// Engine is the AlertRuleEngine
type Engine struct {
	store    MarketReader
	sink     TriggerSink
	defaults config.AlertDefaults
	now      func() time.Time
	log      logrus.FieldLogger
}

// NewEngine builds an engine. sink may be nil, in which case violations are
// only logged and counted.
func NewEngine(st MarketReader, sink TriggerSink, defaults config.AlertDefaults, log logrus.FieldLogger) *Engine {
	return &Engine{
		store:    st,
		sink:     sink,
		defaults: defaults,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.WithField("component", "alerts"),
	}
}

// Defaults returns the configured rule parameters
func (e *Engine) Defaults() config.AlertDefaults {
	return e.defaults
}

// RunAllAlertChecks runs price-changes, price-thresholds, volume-surges and
// rsi-alerts in that order. A failing check is recorded and the rest still run.
func (e *Engine) RunAllAlertChecks(ctx context.Context) AlertRunSummary {
	summary := AlertRunSummary{}
	checks := []struct {
		rule string
		out  *RuleResult
		run  func(context.Context) (RuleResult, error)
	}{
		{RulePriceChanges, &summary.PriceChanges, func(ctx context.Context) (RuleResult, error) {
			return e.CheckPriceChanges(ctx, e.defaults.PriceChangeThreshold)
		}},
		{RulePriceThresholds, &summary.PriceThresholds, e.CheckPriceThresholds},
		{RuleVolumeSurges, &summary.VolumeSurges, func(ctx context.Context) (RuleResult, error) {
			return e.CheckVolumeSurges(ctx, e.defaults.VolumeSurgeMultiple)
		}},
		{RuleRSIAlerts, &summary.RSIAlerts, e.CheckRSIAlerts},
	}

	for _, c := range checks {
		res, err := e.safeRun(ctx, c.rule, c.run)
		if err != nil {
			if summary.Errors == nil {
				summary.Errors = make(map[string]string)
			}
			summary.Errors[c.rule] = err.Error()
			e.log.WithError(err).WithField("rule", c.rule).Error("Alert check failed")
		}
		res.Rule = c.rule
		*c.out = res
		summary.AlertsProcessed += res.Processed
		summary.TriggeredAlerts += res.Notified
	}

	e.log.WithFields(logrus.Fields{
		"processed": summary.AlertsProcessed,
		"triggered": summary.TriggeredAlerts,
		"errors":    len(summary.Errors),
	}).Info("Alert run complete")
	return summary
}

// safeRun turns a panic inside one check into an error for that check
func (e *Engine) safeRun(ctx context.Context, rule string, run func(context.Context) (RuleResult, error)) (res RuleResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", rule, r)
		}
	}()
	return run(ctx)
}

// latestQuote loads the stored quote. ok is false when the symbol was never
// collected or the payload is unreadable.
func (e *Engine) latestQuote(ctx context.Context, symbol string) (*marketdata.Quote, bool, error) {
	rec, err := e.store.LatestMarketRecord(ctx, symbol, models.FacetQuote)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var q marketdata.Quote
	if err := rec.Decode(&q); err != nil {
		e.log.WithError(err).WithField("symbol", symbol).Warn("Unreadable quote record")
		return nil, false, nil
	}
	return &q, true, nil
}

// symbolFailed records a read error for one symbol; the rule moves on to the next
func (e *Engine) symbolFailed(res *RuleResult, symbol string, err error) {
	res.Failed++
	e.log.WithError(err).WithFields(logrus.Fields{"rule": res.Rule, "symbol": symbol}).Warn("Skipping symbol after read error")
}

// CheckPriceChanges alerts on an absolute daily move of at least thresholdPct percent
func (e *Engine) CheckPriceChanges(ctx context.Context, thresholdPct float64) (RuleResult, error) {
	res := RuleResult{Rule: RulePriceChanges}
	symbols, err := e.store.ActiveSymbols(ctx)
	if err != nil {
		return res, fmt.Errorf("load symbols: %w", err)
	}
	threshold := decimal.NewFromFloat(thresholdPct)

	for _, symbol := range symbols {
		q, ok, err := e.latestQuote(ctx, symbol)
		if err != nil {
			e.symbolFailed(&res, symbol, err)
			continue
		}
		if !ok {
			continue
		}
		res.Processed++

		change := q.ChangePercent
		if change.IsZero() {
			change = analysis.PercentChange(q.PreviousClose, q.Price)
		}
		if change.Abs().LessThan(threshold) {
			continue
		}
		res.record(e.raise(ctx, Alert{
			Symbol:    symbol,
			EventType: models.EventPriceChange,
			Details: map[string]interface{}{
				"change_percent": change.StringFixed(2),
				"price":          q.Price.String(),
				"previous_close": q.PreviousClose.String(),
				"threshold_pct":  thresholdPct,
			},
		}, true))
	}
	return res, nil
}

// CheckPriceThresholds alerts when the last price crossed a stored level
// since the previous close. A threshold fires at most once per dedupe window.
func (e *Engine) CheckPriceThresholds(ctx context.Context) (RuleResult, error) {
	res := RuleResult{Rule: RulePriceThresholds}
	thresholds, err := e.store.ActiveThresholds(ctx)
	if err != nil {
		return res, fmt.Errorf("load thresholds: %w", err)
	}

	bySymbol := make(map[string][]models.PriceThreshold)
	var order []string
	for _, t := range thresholds {
		if _, seen := bySymbol[t.Symbol]; !seen {
			order = append(order, t.Symbol)
		}
		bySymbol[t.Symbol] = append(bySymbol[t.Symbol], t)
	}

	now := e.now()
	for _, symbol := range order {
		q, ok, err := e.latestQuote(ctx, symbol)
		if err != nil {
			e.symbolFailed(&res, symbol, err)
			continue
		}
		if !ok {
			continue
		}
		res.Processed++

		fired := false
		for _, t := range bySymbol[symbol] {
			if !t.Crossed(q.PreviousClose, q.Price) {
				continue
			}
			if t.LastTriggeredAt != nil && now.Sub(*t.LastTriggeredAt) < e.defaults.DedupeWindow {
				continue
			}
			a := e.raise(ctx, Alert{
				Symbol:    symbol,
				EventType: models.EventPriceThreshold,
				Details: map[string]interface{}{
					"level":          t.Level.String(),
					"direction":      t.Direction,
					"price":          q.Price.String(),
					"previous_close": q.PreviousClose.String(),
					"user_id":        t.UserID,
				},
			}, false)
			if a == nil {
				continue
			}
			fired = true
			res.Alerts = append(res.Alerts, *a)
			if err := e.store.MarkThresholdTriggered(ctx, t.ID, now); err != nil {
				e.log.WithError(err).WithField("threshold_id", t.ID).Warn("Failed to mark threshold triggered")
			}
		}
		if fired {
			res.Notified++
			metrics.AlertNotificationsTotal.WithLabelValues(RulePriceThresholds).Inc()
		}
	}
	return res, nil
}

// CheckVolumeSurges alerts when the latest volume is at least multiple times
// the trailing average of stored daily bars
func (e *Engine) CheckVolumeSurges(ctx context.Context, multiple float64) (RuleResult, error) {
	res := RuleResult{Rule: RuleVolumeSurges}
	symbols, err := e.store.ActiveSymbols(ctx)
	if err != nil {
		return res, fmt.Errorf("load symbols: %w", err)
	}
	factor := decimal.NewFromFloat(multiple)

	for _, symbol := range symbols {
		q, ok, err := e.latestQuote(ctx, symbol)
		if err != nil {
			e.symbolFailed(&res, symbol, err)
			continue
		}
		if !ok {
			continue
		}
		res.Processed++

		bars, err := e.store.RecentPriceBars(ctx, symbol, volumeWindow+1)
		if err != nil {
			e.symbolFailed(&res, symbol, fmt.Errorf("price history: %w", err))
			continue
		}
		volumes := trailingVolumes(bars, q.LatestTradingDay)
		if len(volumes) == 0 {
			continue
		}
		avg, err := analysis.AverageVolume(volumes, min(volumeWindow, len(volumes)))
		if err != nil || !avg.IsPositive() {
			continue
		}
		current := decimal.NewFromInt(q.Volume)
		if current.LessThan(avg.Mul(factor)) {
			continue
		}
		res.record(e.raise(ctx, Alert{
			Symbol:    symbol,
			EventType: models.EventVolumeSurge,
			Details: map[string]interface{}{
				"volume":         q.Volume,
				"average_volume": avg.Round(0).String(),
				"ratio":          current.Div(avg).StringFixed(2),
				"multiple":       multiple,
			},
		}, true))
	}
	return res, nil
}

// trailingVolumes drops the bar for the quote's own trading day so the
// average only covers prior sessions
func trailingVolumes(bars []models.PriceBar, tradingDay string) []int64 {
	if n := len(bars); n > 0 && bars[n-1].Date.Format("2006-01-02") == tradingDay {
		bars = bars[:n-1]
	}
	volumes := make([]int64, 0, len(bars))
	for _, b := range bars {
		volumes = append(volumes, b.Volume)
	}
	return volumes
}

// CheckRSIAlerts alerts on RSI at or above overbought, or at or below oversold
func (e *Engine) CheckRSIAlerts(ctx context.Context) (RuleResult, error) {
	res := RuleResult{Rule: RuleRSIAlerts}
	symbols, err := e.store.ActiveSymbols(ctx)
	if err != nil {
		return res, fmt.Errorf("load symbols: %w", err)
	}

	for _, symbol := range symbols {
		rec, err := e.store.LatestMarketRecord(ctx, symbol, models.FacetRSI)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			e.symbolFailed(&res, symbol, err)
			continue
		}
		var reading models.RSIReading
		if err := rec.Decode(&reading); err != nil {
			e.log.WithError(err).WithField("symbol", symbol).Warn("Unreadable RSI record")
			continue
		}
		res.Processed++

		var eventType string
		switch {
		case reading.Value >= e.defaults.RSIOverbought:
			eventType = models.EventRSIOverbought
		case reading.Value <= e.defaults.RSIOversold:
			eventType = models.EventRSIOversold
		default:
			continue
		}
		res.record(e.raise(ctx, Alert{
			Symbol:    symbol,
			EventType: eventType,
			Details: map[string]interface{}{
				"rsi":        fmt.Sprintf("%.2f", reading.Value),
				"period":     reading.Period,
				"overbought": e.defaults.RSIOverbought,
				"oversold":   e.defaults.RSIOversold,
			},
		}, true))
	}
	return res, nil
}

// record counts a raised alert; nil means nothing was raised
func (r *RuleResult) record(a *Alert) {
	if a == nil {
		return
	}
	r.Notified++
	r.Alerts = append(r.Alerts, *a)
	metrics.AlertNotificationsTotal.WithLabelValues(r.Rule).Inc()
}

// raise hands an alert to the sink and returns it, or nil when dedupe
// suppressed it or the sink failed
func (e *Engine) raise(ctx context.Context, a Alert, dedupe bool) *Alert {
	log := e.log.WithFields(logrus.Fields{"symbol": a.Symbol, "event_type": a.EventType})

	if dedupe && e.defaults.DedupeWindow > 0 {
		recent, err := e.store.RecentTriggerExists(ctx, a.Symbol, a.EventType, e.now().Add(-e.defaults.DedupeWindow))
		if err != nil {
			log.WithError(err).Warn("Dedupe lookup failed")
		} else if recent {
			log.Debug("Alert already raised within dedupe window")
			return nil
		}
	}

	if e.sink == nil {
		log.WithField("details", a.Details).Info("Alert condition met")
		return &a
	}
	if _, err := e.sink.ProcessAITrigger(ctx, triggers.Payload{
		Ticker:    a.Symbol,
		EventType: a.EventType,
		Details:   a.Details,
		Source:    Source,
	}); err != nil {
		log.WithError(err).Error("Failed to raise alert trigger")
		return nil
	}
	return &a
}
