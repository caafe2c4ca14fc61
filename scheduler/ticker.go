package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"stock_alerts_backend/metrics"
)

// Ticker is a running periodic job
type Ticker interface {
	Stop()
}

// TickerFactory arms fn to run every interval. The first run happens one
// interval after arming.
type TickerFactory func(interval time.Duration, fn func()) (Ticker, error)

type gocronTicker struct {
	cron *gocron.Scheduler
}

func (t gocronTicker) Stop() {
	t.cron.Stop()
}

// GocronTicker is the default TickerFactory. Runs never overlap and Stop
// returns once the run in progress has finished.
func GocronTicker(interval time.Duration, fn func()) (Ticker, error) {
	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()
	if _, err := cron.Every(interval).WaitForSchedule().Do(fn); err != nil {
		return nil, fmt.Errorf("schedule job every %s: %w", interval, err)
	}
	cron.StartAsync()
	return gocronTicker{cron: cron}, nil
}

// periodic owns one ticker and the running flag shared by every scheduler here
type periodic struct {
	name     string
	interval time.Duration
	factory  TickerFactory
	log      logrus.FieldLogger

	mu     sync.Mutex
	ticker Ticker
}

func newPeriodic(name string, interval time.Duration, factory TickerFactory, log logrus.FieldLogger) *periodic {
	if factory == nil {
		factory = GocronTicker
	}
	return &periodic{
		name:     name,
		interval: interval,
		factory:  factory,
		log:      log.WithField("scheduler", name),
	}
}

// start arms the ticker unless it is already armed. It reports whether a new
// ticker was created.
func (p *periodic) start(fn func()) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ticker != nil {
		return false, nil
	}
	t, err := p.factory(p.interval, func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.WithField("panic", r).Error("Scheduled run panicked")
			}
		}()
		fn()
	})
	if err != nil {
		return false, err
	}
	p.ticker = t
	metrics.SetRunning(p.name, true)
	p.log.WithField("interval", p.interval.String()).Info("Scheduler started")
	return true, nil
}

// stop cancels the next tick and waits for a run already in progress. The
// ticker is stopped outside mu since that run may call running.
func (p *periodic) stop() bool {
	p.mu.Lock()
	t := p.ticker
	p.ticker = nil
	if t != nil {
		metrics.SetRunning(p.name, false)
	}
	p.mu.Unlock()
	if t == nil {
		return false
	}
	t.Stop()
	p.log.Info("Scheduler stopped")
	return true
}

func (p *periodic) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticker != nil
}
