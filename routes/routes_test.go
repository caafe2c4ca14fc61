package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"

	"stock_alerts_backend/config"
	"stock_alerts_backend/controllers"
	"stock_alerts_backend/middleware"
	"stock_alerts_backend/scheduler"
	"stock_alerts_backend/services/alerts"
	"stock_alerts_backend/services/collection"
	"stock_alerts_backend/services/marketdata"
	"stock_alerts_backend/services/notify"
	"stock_alerts_backend/services/store/storetest"
	"stock_alerts_backend/services/triggers"
)

var fixedNow = time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)

type notifierFunc func(ctx context.Context, ticker, eventType string, details map[string]interface{}) (notify.FanOutResult, error)

func (f notifierFunc) Notify(ctx context.Context, ticker, eventType string, details map[string]interface{}) (notify.FanOutResult, error) {
	return f(ctx, ticker, eventType, details)
}

type noopTicker struct{}

func (noopTicker) Stop() {}

func noopFactory(time.Duration, func()) (scheduler.Ticker, error) {
	return noopTicker{}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newRouter(t *testing.T, secret string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := test.NewNullLogger()
	st := storetest.New(t)

	quiet := notifierFunc(func(context.Context, string, string, map[string]interface{}) (notify.FanOutResult, error) {
		return notify.FanOutResult{}, nil
	})
	triggerSvc := triggers.NewService(st, quiet, triggers.Options{}, log)
	provider := marketdata.NewDemoProvider(func() time.Time { return fixedNow })
	collector := collection.NewService(provider, st, nil, collection.Options{
		Now: func() time.Time { return fixedNow },
	}, log)
	engine := alerts.NewEngine(st, triggerSvc, config.AlertDefaults{
		PriceChangeThreshold: 5,
		VolumeSurgeMultiple:  2,
		RSIOverbought:        70,
		RSIOversold:          30,
		DedupeWindow:         24 * time.Hour,
	}, log)

	collectionSched := scheduler.NewCollectionScheduler(collector, scheduler.CollectionOptions{
		Factory: noopFactory,
		Now:     func() time.Time { return fixedNow },
	}, log)
	alertSched := scheduler.NewAlertScheduler(t.Context(), engine, time.Minute, noopFactory, log)

	router := gin.New()
	SetupRoutes(router, Deps{
		Admin:    controllers.NewAdminController(collectionSched, collector, alertSched, engine),
		Triggers: controllers.NewTriggerController(triggerSvc),
		Stocks:   controllers.NewStockController(st),
		IngestMiddleware: []gin.HandlerFunc{
			middleware.RateLimitMiddleware(middleware.NewRateLimiter(0, 1)),
			middleware.IngestAuthMiddleware(secret, log),
		},
		Ready: st.Ping,
	})
	return router
}

func do(t *testing.T, router *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: decode body %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w, env
}

func TestProbes(t *testing.T) {
	router := newRouter(t, "")

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		w, _ := do(t, router, http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200", path, w.Code)
		}
	}
}

func TestTriggerIngestAndList(t *testing.T) {
	router := newRouter(t, "")

	w, env := do(t, router, http.MethodPost, "/api/v1/triggers",
		`{"ticker":"aapl","event_type":"earnings_beat","details":{"eps":1.52},"source":"scanner"}`)
	if w.Code != http.StatusCreated || !env.Success {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}

	w, env = do(t, router, http.MethodPost, "/api/v1/triggers", `{"ticker":"AAPL"}`)
	if w.Code != http.StatusBadRequest || env.Success {
		t.Fatalf("missing event_type = %d %s", w.Code, w.Body.String())
	}

	w, env = do(t, router, http.MethodGet, "/api/v1/triggers/AAPL", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var events []map[string]interface{}
	if err := json.Unmarshal(env.Data, &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
}

func TestTriggerIngestRequiresTokenWhenSecretSet(t *testing.T) {
	router := newRouter(t, "ingest-secret")

	w, env := do(t, router, http.MethodPost, "/api/v1/triggers", `{"ticker":"AAPL","event_type":"x"}`)
	if w.Code != http.StatusUnauthorized || env.Error != "unauthorized" {
		t.Fatalf("no token = %d %s", w.Code, w.Body.String())
	}

	// reads stay open
	w, _ = do(t, router, http.MethodGet, "/api/v1/triggers/AAPL", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
}

func TestCollectionControl(t *testing.T) {
	router := newRouter(t, "")

	_, env := do(t, router, http.MethodGet, "/api/v1/admin/collection/status", "")
	var status scheduler.Status
	if err := json.Unmarshal(env.Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.IsRunning {
		t.Fatal("scheduler running before start")
	}

	_, env = do(t, router, http.MethodPost, "/api/v1/admin/collection/start", "")
	if err := json.Unmarshal(env.Data, &status); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	if !status.IsRunning || !status.IsMarketOpen {
		t.Fatalf("after start = %+v, want running with market open", status)
	}

	w, env := do(t, router, http.MethodPost, "/api/v1/admin/collection/stop", "")
	if w.Code != http.StatusOK || !strings.Contains(string(env.Data), `"stopped":true`) {
		t.Fatalf("stop = %d %s", w.Code, w.Body.String())
	}
}

func TestCollectSymbolThenReadStockData(t *testing.T) {
	router := newRouter(t, "")

	w, _ := do(t, router, http.MethodPost, "/api/v1/admin/collection/symbols/aapl", "")
	if w.Code != http.StatusOK {
		t.Fatalf("collect = %d %s", w.Code, w.Body.String())
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/stocks/AAPL/snapshots/quote", http.StatusOK},
		{"/api/v1/stocks/AAPL/snapshots/company", http.StatusOK},
		{"/api/v1/stocks/AAPL/snapshots/bogus", http.StatusBadRequest},
		{"/api/v1/stocks/MSFT/snapshots/quote", http.StatusNotFound},
		{"/api/v1/stocks/AAPL/prices?limit=10", http.StatusOK},
		{"/api/v1/stocks/AAPL/prices?limit=0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		w, _ := do(t, router, http.MethodGet, tt.path, "")
		if w.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, w.Code, tt.want)
		}
	}
}

func TestAlertChecks(t *testing.T) {
	router := newRouter(t, "")

	w, _ := do(t, router, http.MethodPost, "/api/v1/admin/alerts/check/price-changes?threshold=abc", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad threshold = %d", w.Code)
	}

	w, env := do(t, router, http.MethodPost, "/api/v1/admin/alerts/check/rsi", "")
	if w.Code != http.StatusOK || env.Message != "rsi-alerts check complete" {
		t.Fatalf("rsi = %d %s", w.Code, w.Body.String())
	}

	w, env = do(t, router, http.MethodPost, "/api/v1/admin/alerts/run", "")
	if w.Code != http.StatusOK {
		t.Fatalf("run = %d", w.Code)
	}
	var summary alerts.AlertRunSummary
	if err := json.Unmarshal(env.Data, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if len(summary.Errors) != 0 {
		t.Fatalf("errors = %v", summary.Errors)
	}
}
