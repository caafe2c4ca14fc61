package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// PendingResumer is implemented by triggers.Service
type PendingResumer interface {
	ResumePending(ctx context.Context) (int, error)
}

// RetrySweeper periodically finishes trigger events left pending, e.g. by a
// restart in the middle of their retry backoff
type RetrySweeper struct {
	resumer PendingResumer
	ctx     context.Context
	loop    *periodic
	log     logrus.FieldLogger
}

func NewRetrySweeper(ctx context.Context, resumer PendingResumer, interval time.Duration, factory TickerFactory, log logrus.FieldLogger) *RetrySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &RetrySweeper{
		resumer: resumer,
		ctx:     ctx,
		loop:    newPeriodic("trigger_retry", interval, factory, log),
		log:     log.WithField("component", "retry_sweeper"),
	}
}

func (s *RetrySweeper) Start() error {
	_, err := s.loop.start(func() { s.Sweep(s.ctx) })
	return err
}

func (s *RetrySweeper) Stop() {
	s.loop.stop()
}

// Sweep resumes due events once
func (s *RetrySweeper) Sweep(ctx context.Context) int {
	n, err := s.resumer.ResumePending(ctx)
	if err != nil {
		s.log.WithError(err).Error("Trigger retry sweep failed")
		return 0
	}
	if n > 0 {
		s.log.WithField("resumed", n).Info("Resumed pending triggers")
	}
	return n
}
