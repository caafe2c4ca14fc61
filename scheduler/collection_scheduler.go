package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"stock_alerts_backend/services/collection"
)

// WatchlistCollector is implemented by collection.Service
type WatchlistCollector interface {
	CollectDataForWatchlist(ctx context.Context) ([]collection.SymbolResult, error)
}

// TickResult is the outcome of one collection run
type TickResult struct {
	SymbolsProcessed int    `json:"symbolsProcessed"`
	SuccessCount     int    `json:"successCount"`
	ErrorCount       int    `json:"errorCount"`
	Skipped          bool   `json:"skipped,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Status is what start/stop/status report for a scheduler
type Status struct {
	IsRunning    bool        `json:"isRunning"`
	IsMarketOpen bool        `json:"isMarketOpen"`
	Interval     string      `json:"interval"`
	LastRun      *time.Time  `json:"lastRun,omitempty"`
	LastResult   *TickResult `json:"lastResult,omitempty"`
}

// CollectionOptions configures a CollectionScheduler
type CollectionOptions struct {
	Interval time.Duration
	Calendar TradingCalendar
	Factory  TickerFactory
	Now      func() time.Time
	// Context bounds scheduled runs; defaults to context.Background
	Context context.Context
}

// CollectionScheduler drives market-hours gated watchlist collection
type CollectionScheduler struct {
	collector WatchlistCollector
	calendar  TradingCalendar
	now       func() time.Time
	ctx       context.Context
	loop      *periodic
	log       logrus.FieldLogger

	mu         sync.Mutex
	marketOpen bool
	lastRun    *time.Time
	lastResult *TickResult
}

func NewCollectionScheduler(collector WatchlistCollector, opts CollectionOptions, log logrus.FieldLogger) *CollectionScheduler {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Minute
	}
	if opts.Calendar == nil {
		opts.Calendar = NewWeekdayCalendar(time.UTC)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	return &CollectionScheduler{
		collector: collector,
		calendar:  opts.Calendar,
		now:       opts.Now,
		ctx:       opts.Context,
		loop:      newPeriodic("collection", opts.Interval, opts.Factory, log),
		log:       log.WithField("component", "collection_scheduler"),
	}
}

// CheckMarketHours evaluates the calendar at the current time
func (s *CollectionScheduler) CheckMarketHours() bool {
	return CheckMarketHours(s.calendar, s.now())
}

// Start arms the periodic tick. Calling it while running returns the current
// status without arming a second ticker.
func (s *CollectionScheduler) Start() (Status, error) {
	if s.loop.running() {
		return s.Status(), nil
	}
	s.setMarketOpen(s.CheckMarketHours())
	if _, err := s.loop.start(func() { s.Tick(s.ctx) }); err != nil {
		return s.Status(), err
	}
	return s.Status(), nil
}

// Stop prevents further ticks. It is a no-op when already stopped.
func (s *CollectionScheduler) Stop() Status {
	s.loop.stop()
	return s.Status()
}

func (s *CollectionScheduler) Status() Status {
	// read before taking mu, which a tick holds while recording
	running := s.loop.running()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		IsRunning:    running,
		IsMarketOpen: s.marketOpen,
		Interval:     s.loop.interval.String(),
		LastRun:      s.lastRun,
		LastResult:   s.lastResult,
	}
}

// ShouldCollectData is the per-tick gate
func (s *CollectionScheduler) ShouldCollectData() bool {
	return s.loop.running() && s.CheckMarketHours()
}

// Tick runs one scheduled collection if the gate allows it. Outside market
// hours it does nothing, so collection resumes by itself at the next open.
func (s *CollectionScheduler) Tick(ctx context.Context) TickResult {
	open := s.CheckMarketHours()
	s.setMarketOpen(open)
	if !s.loop.running() || !open {
		s.log.Debug("Outside market hours, skipping collection")
		return TickResult{Skipped: true}
	}
	return s.collect(ctx)
}

// ForceCollectWatchlistData collects immediately regardless of schedule state
func (s *CollectionScheduler) ForceCollectWatchlistData(ctx context.Context) TickResult {
	s.log.Info("Manual watchlist collection requested")
	return s.collect(ctx)
}

func (s *CollectionScheduler) collect(ctx context.Context) (result TickResult) {
	defer func() {
		if r := recover(); r != nil {
			result = TickResult{Error: fmt.Sprintf("collection panicked: %v", r)}
		}
		s.record(result)
	}()

	results, err := s.collector.CollectDataForWatchlist(ctx)
	if err != nil {
		s.log.WithError(err).Error("Watchlist collection failed")
		return TickResult{Error: err.Error()}
	}
	summary := collection.Summarize(results)
	return TickResult{
		SymbolsProcessed: summary.SymbolsProcessed,
		SuccessCount:     summary.SuccessCount,
		ErrorCount:       summary.ErrorCount,
	}
}

func (s *CollectionScheduler) record(r TickResult) {
	now := s.now()
	s.mu.Lock()
	s.lastRun = &now
	s.lastResult = &r
	s.mu.Unlock()
}

func (s *CollectionScheduler) setMarketOpen(open bool) {
	s.mu.Lock()
	s.marketOpen = open
	s.mu.Unlock()
}
