package triggers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"stock_alerts_backend/models"
	"stock_alerts_backend/services/notify"
	"stock_alerts_backend/services/store"
	"stock_alerts_backend/services/store/storetest"
)

// flakyNotifier fails the first failures calls
type flakyNotifier struct {
	mu       sync.Mutex
	failures int
	calls    int
	tickers  []string
}

func (n *flakyNotifier) Notify(_ context.Context, ticker, _ string, _ map[string]interface{}) (notify.FanOutResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.calls <= n.failures {
		return notify.FanOutResult{}, errors.New("smtp unreachable")
	}
	n.tickers = append(n.tickers, ticker)
	return notify.FanOutResult{Recipients: 1, Sent: 1}, nil
}

type sleepRecorder struct {
	waits []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func newService(t *testing.T, n Notifier, opts Options) (*Service, *store.Store) {
	t.Helper()
	st := storetest.New(t)
	log, _ := test.NewNullLogger()
	return NewService(st, n, opts, log), st
}

func countEvents(t *testing.T, st *store.Store) int64 {
	t.Helper()
	var n int64
	if err := st.DB().Model(&models.TriggerEvent{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestProcessAITriggerRetriesWithoutDuplicates(t *testing.T) {
	n := &flakyNotifier{failures: 2}
	sleeps := &sleepRecorder{}
	svc, st := newService(t, n, Options{Sleep: sleeps.sleep})

	event, err := svc.ProcessAITrigger(context.Background(), Payload{
		Ticker:    "nvda",
		EventType: models.EventHedgeFundBuy,
		Details:   map[string]interface{}{"fund_name": "Example Capital"},
		Source:    "ai",
	})
	if err != nil {
		t.Fatalf("ProcessAITrigger: %v", err)
	}
	if got := countEvents(t, st); got != 1 {
		t.Fatalf("rows = %d, want 1", got)
	}
	if len(n.tickers) != 1 || n.tickers[0] != "NVDA" {
		t.Fatalf("successful fan-outs = %v, want one for NVDA", n.tickers)
	}
	want := []time.Duration{3 * time.Second, 2 * time.Second}
	if len(sleeps.waits) != len(want) || sleeps.waits[0] != want[0] || sleeps.waits[1] != want[1] {
		t.Fatalf("backoff = %v, want %v", sleeps.waits, want)
	}

	stored, err := st.GetTriggerEvent(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("GetTriggerEvent: %v", err)
	}
	if stored.ProcessingState != models.TriggerProcessed || stored.Attempts != 3 || stored.ProcessedAt == nil {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestProcessAITriggerExhaustsRetries(t *testing.T) {
	n := &flakyNotifier{failures: 100}
	sleeps := &sleepRecorder{}
	svc, st := newService(t, n, Options{Sleep: sleeps.sleep})

	event, err := svc.ProcessAITrigger(context.Background(), Payload{Ticker: "AAPL", EventType: models.EventPoliticianSell})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if n.calls != 4 {
		t.Fatalf("attempts = %d, want 4", n.calls)
	}
	if len(sleeps.waits) != 3 || sleeps.waits[2] != time.Second {
		t.Fatalf("backoff = %v", sleeps.waits)
	}
	if event == nil {
		t.Fatal("failed event should still be returned")
	}
	stored, err := st.GetTriggerEvent(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("GetTriggerEvent: %v", err)
	}
	if stored.ProcessingState != models.TriggerFailed || stored.LastError == "" {
		t.Fatalf("stored = %+v", stored)
	}
	if got := countEvents(t, st); got != 1 {
		t.Fatalf("rows = %d, want 1", got)
	}
}

func TestProcessAITriggerRejectsInvalidPayload(t *testing.T) {
	tests := []struct {
		name string
		p    Payload
	}{
		{"missing ticker", Payload{EventType: models.EventInvestorMention}},
		{"missing event type", Payload{Ticker: "MSFT"}},
		{"blank ticker", Payload{Ticker: "  ", EventType: models.EventInvestorMention}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &flakyNotifier{}
			sleeps := &sleepRecorder{}
			svc, st := newService(t, n, Options{Sleep: sleeps.sleep})

			_, err := svc.ProcessAITrigger(context.Background(), tt.p)
			if !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("err = %v, want ErrInvalidPayload", err)
			}
			if n.calls != 0 || len(sleeps.waits) != 0 {
				t.Fatal("invalid payload was retried")
			}
			if got := countEvents(t, st); got != 0 {
				t.Fatalf("rows = %d, want 0", got)
			}
		})
	}
}

func TestProcessAITriggerStopsOnCancel(t *testing.T) {
	n := &flakyNotifier{failures: 100}
	ctx, cancel := context.WithCancel(context.Background())
	svc, st := newService(t, n, Options{Sleep: func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}})

	event, err := svc.ProcessAITrigger(ctx, Payload{Ticker: "TSLA", EventType: models.EventHedgeFundSell})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n.calls != 1 {
		t.Fatalf("attempts = %d, want 1", n.calls)
	}
	stored, err := st.GetTriggerEvent(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("GetTriggerEvent: %v", err)
	}
	if stored.ProcessingState != models.TriggerPending || stored.NextRetryAt == nil {
		t.Fatalf("interrupted event should stay pending with a retry time: %+v", stored)
	}
}

func TestResumePendingFinishesInterruptedEvents(t *testing.T) {
	n := &flakyNotifier{}
	clock := time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)
	svc, st := newService(t, n, Options{Now: func() time.Time { return clock }})
	ctx := context.Background()

	due := &models.TriggerEvent{Ticker: "AMD", EventType: models.EventInvestorMention, Source: "ai", Timestamp: clock}
	later := &models.TriggerEvent{Ticker: "INTC", EventType: models.EventInvestorMention, Source: "ai", Timestamp: clock}
	for _, ev := range []*models.TriggerEvent{due, later} {
		if err := st.CreateTriggerEvent(ctx, ev); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	past, future := clock.Add(-time.Second), clock.Add(time.Hour)
	if err := st.UpdateTriggerState(ctx, due.ID, store.TriggerUpdate{State: models.TriggerPending, Attempts: 1, NextRetryAt: &past}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := st.UpdateTriggerState(ctx, later.ID, store.TriggerUpdate{State: models.TriggerPending, Attempts: 1, NextRetryAt: &future}); err != nil {
		t.Fatalf("update: %v", err)
	}

	resumed, err := svc.ResumePending(ctx)
	if err != nil {
		t.Fatalf("ResumePending: %v", err)
	}
	if resumed != 1 || len(n.tickers) != 1 || n.tickers[0] != "AMD" {
		t.Fatalf("resumed = %d, notified = %v", resumed, n.tickers)
	}
	stored, _ := st.GetTriggerEvent(ctx, due.ID)
	if stored.ProcessingState != models.TriggerProcessed || stored.Attempts != 2 {
		t.Fatalf("resumed event = %+v", stored)
	}
	untouched, _ := st.GetTriggerEvent(ctx, later.ID)
	if untouched.ProcessingState != models.TriggerPending {
		t.Fatalf("future retry was run early: %+v", untouched)
	}
}

func TestResumePendingMarksFailedOnLastAttempt(t *testing.T) {
	n := &flakyNotifier{failures: 100}
	clock := time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)
	svc, st := newService(t, n, Options{Now: func() time.Time { return clock }})
	ctx := context.Background()

	ev := &models.TriggerEvent{Ticker: "AMD", EventType: models.EventInvestorMention, Source: "ai", Timestamp: clock}
	if err := st.CreateTriggerEvent(ctx, ev); err != nil {
		t.Fatalf("create: %v", err)
	}
	past := clock.Add(-time.Second)
	if err := st.UpdateTriggerState(ctx, ev.ID, store.TriggerUpdate{State: models.TriggerPending, Attempts: 3, NextRetryAt: &past}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, err := svc.ResumePending(ctx); err != nil {
		t.Fatalf("ResumePending: %v", err)
	}
	stored, _ := st.GetTriggerEvent(ctx, ev.ID)
	if stored.ProcessingState != models.TriggerFailed || stored.Attempts != 4 {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestResumePendingSkipsInflight(t *testing.T) {
	n := &flakyNotifier{}
	clock := time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)
	svc, st := newService(t, n, Options{Now: func() time.Time { return clock }})
	ctx := context.Background()

	ev := &models.TriggerEvent{Ticker: "AMD", EventType: models.EventInvestorMention, Source: "ai", Timestamp: clock}
	if err := st.CreateTriggerEvent(ctx, ev); err != nil {
		t.Fatalf("create: %v", err)
	}
	past := clock.Add(-time.Second)
	if err := st.UpdateTriggerState(ctx, ev.ID, store.TriggerUpdate{State: models.TriggerPending, Attempts: 1, NextRetryAt: &past}); err != nil {
		t.Fatalf("update: %v", err)
	}

	svc.claim(ev.ID)
	resumed, err := svc.ResumePending(ctx)
	if err != nil || resumed != 0 || n.calls != 0 {
		t.Fatalf("resumed = %d, calls = %d, err = %v", resumed, n.calls, err)
	}
}

func TestGetAITriggersByTicker(t *testing.T) {
	svc, _ := newService(t, &flakyNotifier{}, Options{})
	ctx := context.Background()
	for _, tk := range []string{"NVDA", "NVDA", "AAPL"} {
		if _, err := svc.ProcessAITrigger(ctx, Payload{Ticker: tk, EventType: models.EventInvestorMention}); err != nil {
			t.Fatalf("ProcessAITrigger: %v", err)
		}
	}
	events, err := svc.GetAITriggersByTicker(ctx, "nvda")
	if err != nil {
		t.Fatalf("GetAITriggersByTicker: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
}
