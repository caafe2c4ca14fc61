package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"stock_alerts_backend/models"
	"stock_alerts_backend/services/store"
)

// MarketReader reads collected market data
type MarketReader interface {
	LatestMarketRecord(ctx context.Context, symbol string, facet models.Facet) (*models.MarketRecord, error)
	RecentPriceBars(ctx context.Context, symbol string, n int) ([]models.PriceBar, error)
}

// StockController serves what collection stored for a symbol
type StockController struct {
	market MarketReader
}

func NewStockController(market MarketReader) *StockController {
	return &StockController{market: market}
}

// GetSnapshot returns the latest stored facet for a symbol
// GET /api/v1/stocks/:symbol/snapshots/:facet
func (sc *StockController) GetSnapshot(c *gin.Context) {
	facet := models.Facet(c.Param("facet"))
	valid := false
	for _, f := range models.Facets() {
		if f == facet {
			valid = true
		}
	}
	if !valid {
		respondError(c, http.StatusBadRequest, "Unknown facet", nil)
		return
	}

	rec, err := sc.market.LatestMarketRecord(c.Request.Context(), c.Param("symbol"), facet)
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, http.StatusNotFound, "No data collected for symbol", nil)
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to load market data", err)
		return
	}

	respond(c, http.StatusOK, "Market data loaded", gin.H{
		"symbol":       rec.Symbol,
		"facet":        rec.Facet,
		"collected_at": rec.CollectedAt,
		"payload":      json.RawMessage(rec.Payload),
	})
}

// GetStockPrice returns stored daily bars, oldest first
// GET /api/v1/stocks/:symbol/prices?limit=30
func (sc *StockController) GetStockPrice(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "30"))
	if err != nil || limit <= 0 || limit > 500 {
		respondError(c, http.StatusBadRequest, "limit must be between 1 and 500", nil)
		return
	}

	bars, err := sc.market.RecentPriceBars(c.Request.Context(), c.Param("symbol"), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to fetch prices", err)
		return
	}
	respond(c, http.StatusOK, "Prices loaded", bars)
}
