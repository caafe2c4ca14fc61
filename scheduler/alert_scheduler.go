package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"stock_alerts_backend/services/alerts"
)

// AlertRunner is implemented by alerts.Engine
type AlertRunner interface {
	RunAllAlertChecks(ctx context.Context) alerts.AlertRunSummary
}

// AlertStatus reports the alert scheduler state
type AlertStatus struct {
	IsRunning   bool                    `json:"isRunning"`
	Interval    string                  `json:"interval"`
	LastRun     *time.Time              `json:"lastRun,omitempty"`
	LastSummary *alerts.AlertRunSummary `json:"lastSummary,omitempty"`
}

// AlertScheduler runs every alert rule periodically. Unlike collection it is
// not gated on market hours, so after-hours snapshots are still evaluated.
type AlertScheduler struct {
	runner AlertRunner
	ctx    context.Context
	loop   *periodic
	log    logrus.FieldLogger

	mu          sync.Mutex
	lastRun     *time.Time
	lastSummary *alerts.AlertRunSummary
}

func NewAlertScheduler(ctx context.Context, runner AlertRunner, interval time.Duration, factory TickerFactory, log logrus.FieldLogger) *AlertScheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &AlertScheduler{
		runner: runner,
		ctx:    ctx,
		loop:   newPeriodic("alerts", interval, factory, log),
		log:    log.WithField("component", "alert_scheduler"),
	}
}

// Start is idempotent
func (s *AlertScheduler) Start() (AlertStatus, error) {
	if _, err := s.loop.start(func() { s.RunNow(s.ctx) }); err != nil {
		return s.Status(), err
	}
	return s.Status(), nil
}

func (s *AlertScheduler) Stop() AlertStatus {
	s.loop.stop()
	return s.Status()
}

func (s *AlertScheduler) Status() AlertStatus {
	// read before taking mu, which a tick holds while recording
	running := s.loop.running()
	s.mu.Lock()
	defer s.mu.Unlock()
	return AlertStatus{
		IsRunning:   running,
		Interval:    s.loop.interval.String(),
		LastRun:     s.lastRun,
		LastSummary: s.lastSummary,
	}
}

// RunNow evaluates every rule once
func (s *AlertScheduler) RunNow(ctx context.Context) alerts.AlertRunSummary {
	summary := s.runner.RunAllAlertChecks(ctx)
	now := time.Now().UTC()
	s.mu.Lock()
	s.lastRun = &now
	s.lastSummary = &summary
	s.mu.Unlock()
	return summary
}
