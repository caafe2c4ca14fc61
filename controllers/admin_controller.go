package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"stock_alerts_backend/config"
	"stock_alerts_backend/scheduler"
	"stock_alerts_backend/services/alerts"
	"stock_alerts_backend/services/collection"
)

// CollectionControl is the collection scheduler surface
type CollectionControl interface {
	Start() (scheduler.Status, error)
	Stop() scheduler.Status
	Status() scheduler.Status
	ForceCollectWatchlistData(ctx context.Context) scheduler.TickResult
}

// SymbolCollector collects a single symbol on demand
type SymbolCollector interface {
	CollectAllDataForSymbol(ctx context.Context, symbol string) collection.SymbolResult
}

// AlertControl is the alert scheduler surface
type AlertControl interface {
	Start() (scheduler.AlertStatus, error)
	Stop() scheduler.AlertStatus
	Status() scheduler.AlertStatus
	RunNow(ctx context.Context) alerts.AlertRunSummary
}

// AlertChecker runs individual alert rules
type AlertChecker interface {
	CheckPriceChanges(ctx context.Context, thresholdPct float64) (alerts.RuleResult, error)
	CheckPriceThresholds(ctx context.Context) (alerts.RuleResult, error)
	CheckVolumeSurges(ctx context.Context, multiple float64) (alerts.RuleResult, error)
	CheckRSIAlerts(ctx context.Context) (alerts.RuleResult, error)
	Defaults() config.AlertDefaults
}

// AdminController exposes scheduler control, collection and alert checks
type AdminController struct {
	collection CollectionControl
	collector  SymbolCollector
	alerts     AlertControl
	checker    AlertChecker
}

func NewAdminController(cs CollectionControl, collector SymbolCollector, as AlertControl, checker AlertChecker) *AdminController {
	return &AdminController{
		collection: cs,
		collector:  collector,
		alerts:     as,
		checker:    checker,
	}
}

// GetCollectionStatus returns the collection scheduler state
// GET /api/v1/admin/collection/status
func (ac *AdminController) GetCollectionStatus(c *gin.Context) {
	respond(c, http.StatusOK, "Collection scheduler status", ac.collection.Status())
}

// StartCollection arms the collection scheduler
// POST /api/v1/admin/collection/start
func (ac *AdminController) StartCollection(c *gin.Context) {
	status, err := ac.collection.Start()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to start collection scheduler", err)
		return
	}
	respond(c, http.StatusOK, "Collection scheduler started", status)
}

// StopCollection stops the collection scheduler
// POST /api/v1/admin/collection/stop
func (ac *AdminController) StopCollection(c *gin.Context) {
	respond(c, http.StatusOK, "Collection scheduler stopped", gin.H{
		"stopped": true,
		"status":  ac.collection.Stop(),
	})
}

// ForceCollect collects the whole watchlist now
// POST /api/v1/admin/collection/force
func (ac *AdminController) ForceCollect(c *gin.Context) {
	result := ac.collection.ForceCollectWatchlistData(c.Request.Context())
	if result.Error != "" {
		respondError(c, http.StatusInternalServerError, "Watchlist collection failed", errors.New(result.Error))
		return
	}
	respond(c, http.StatusOK, "Watchlist collection complete", result)
}

// CollectSymbol collects every facet for one symbol
// POST /api/v1/admin/collection/symbols/:symbol
func (ac *AdminController) CollectSymbol(c *gin.Context) {
	result := ac.collector.CollectAllDataForSymbol(c.Request.Context(), c.Param("symbol"))
	if result.Error != "" {
		respondError(c, http.StatusBadRequest, "Symbol collection failed", errors.New(result.Error))
		return
	}
	respond(c, http.StatusOK, fmt.Sprintf("Collected data for %s", result.Symbol), result)
}

// GetAlertStatus returns the alert scheduler state
// GET /api/v1/admin/alerts/status
func (ac *AdminController) GetAlertStatus(c *gin.Context) {
	respond(c, http.StatusOK, "Alert scheduler status", ac.alerts.Status())
}

// StartAlerts arms the alert scheduler
// POST /api/v1/admin/alerts/start
func (ac *AdminController) StartAlerts(c *gin.Context) {
	status, err := ac.alerts.Start()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to start alert scheduler", err)
		return
	}
	respond(c, http.StatusOK, "Alert scheduler started", status)
}

// StopAlerts stops the alert scheduler
// POST /api/v1/admin/alerts/stop
func (ac *AdminController) StopAlerts(c *gin.Context) {
	respond(c, http.StatusOK, "Alert scheduler stopped", gin.H{
		"stopped": true,
		"status":  ac.alerts.Stop(),
	})
}

// RunAllAlerts runs every rule once
// POST /api/v1/admin/alerts/run
func (ac *AdminController) RunAllAlerts(c *gin.Context) {
	respond(c, http.StatusOK, "Alert checks complete", ac.alerts.RunNow(c.Request.Context()))
}

// CheckPriceChanges runs the price-changes rule
// POST /api/v1/admin/alerts/check/price-changes?threshold=5
func (ac *AdminController) CheckPriceChanges(c *gin.Context) {
	threshold, err := floatQuery(c, "threshold", ac.checker.Defaults().PriceChangeThreshold)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid threshold", err)
		return
	}
	ac.ruleResult(c, func(ctx context.Context) (alerts.RuleResult, error) {
		return ac.checker.CheckPriceChanges(ctx, threshold)
	})
}

// CheckPriceThresholds runs the price-thresholds rule
// POST /api/v1/admin/alerts/check/price-thresholds
func (ac *AdminController) CheckPriceThresholds(c *gin.Context) {
	ac.ruleResult(c, ac.checker.CheckPriceThresholds)
}

// CheckVolumeSurges runs the volume-surges rule
// POST /api/v1/admin/alerts/check/volume-surges?multiple=2
func (ac *AdminController) CheckVolumeSurges(c *gin.Context) {
	multiple, err := floatQuery(c, "multiple", ac.checker.Defaults().VolumeSurgeMultiple)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid multiple", err)
		return
	}
	ac.ruleResult(c, func(ctx context.Context) (alerts.RuleResult, error) {
		return ac.checker.CheckVolumeSurges(ctx, multiple)
	})
}

// CheckRSIAlerts runs the rsi-alerts rule
// POST /api/v1/admin/alerts/check/rsi
func (ac *AdminController) CheckRSIAlerts(c *gin.Context) {
	ac.ruleResult(c, ac.checker.CheckRSIAlerts)
}

func (ac *AdminController) ruleResult(c *gin.Context, run func(context.Context) (alerts.RuleResult, error)) {
	res, err := run(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Alert check failed", err)
		return
	}
	respond(c, http.StatusOK, fmt.Sprintf("%s check complete", res.Rule), res)
}

func floatQuery(c *gin.Context, key string, def float64) (float64, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", key)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return v, nil
}
