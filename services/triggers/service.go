package triggers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"stock_alerts_backend/metrics"
	"stock_alerts_backend/models"
	"stock_alerts_backend/services/notify"
	"stock_alerts_backend/services/store"
)

// ErrInvalidPayload marks payloads that can never succeed; they are not retried
var ErrInvalidPayload = errors.New("invalid trigger payload")

// DefaultMaxRetries is the number of retries after the first attempt
const DefaultMaxRetries = 3

// Payload is an externally sourced event
type Payload struct {
	Ticker    string                 `json:"ticker"`
	EventType string                 `json:"event_type"`
	Details   map[string]interface{} `json:"details"`
	Source    string                 `json:"source"`
	Timestamp *time.Time             `json:"timestamp,omitempty"`
}

// Validate checks the required fields
func (p Payload) Validate() error {
	if strings.TrimSpace(p.Ticker) == "" {
		return fmt.Errorf("%w: ticker is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.EventType) == "" {
		return fmt.Errorf("%w: event_type is required", ErrInvalidPayload)
	}
	return nil
}

// EventStore is the persistence the service needs
type EventStore interface {
	CreateTriggerEvent(ctx context.Context, event *models.TriggerEvent) error
	UpdateTriggerState(ctx context.Context, id string, u store.TriggerUpdate) error
	TriggerEventsByTicker(ctx context.Context, ticker string, limit int) ([]models.TriggerEvent, error)
	DueTriggerRetries(ctx context.Context, now, staleBefore time.Time, limit int) ([]models.TriggerEvent, error)
}

// Notifier fans an event out to its recipients
type Notifier interface {
	Notify(ctx context.Context, ticker, eventType string, details map[string]interface{}) (notify.FanOutResult, error)
}

// Options tunes retry behavior. Zero values take defaults.
type Options struct {
	MaxRetries int
	// Backoff returns the wait before the next attempt given the retries still left
	Backoff func(retriesLeft int) time.Duration
	Sleep   func(ctx context.Context, d time.Duration) error
	Now     func() time.Time
	// StaleAfter is how old a pending event with no retry time must be before
	// the sweeper treats it as abandoned
	StaleAfter time.Duration
	SweepBatch int
}

// DefaultBackoff waits retriesLeft seconds: 3s, 2s, 1s for three retries
func DefaultBackoff(retriesLeft int) time.Duration {
	return time.Duration(retriesLeft) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Service records trigger events and delivers their notifications with retry
type Service struct {
	store    EventStore
	notifier Notifier
	opts     Options
	log      logrus.FieldLogger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewService(st EventStore, notifier Notifier, opts Options, log logrus.FieldLogger) *Service {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Backoff == nil {
		opts.Backoff = DefaultBackoff
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 5 * time.Minute
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = 50
	}
	return &Service{
		store:    st,
		notifier: notifier,
		opts:     opts,
		log:      log.WithField("component", "triggers"),
		inflight: make(map[string]struct{}),
	}
}

// claim marks an event as being worked on in this process
func (s *Service) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// ProcessAITrigger persists the payload and notifies watchers, retrying with
// the default retry budget
func (s *Service) ProcessAITrigger(ctx context.Context, p Payload) (*models.TriggerEvent, error) {
	return s.ProcessAITriggerWithRetries(ctx, p, s.opts.MaxRetries)
}

// ProcessAITriggerWithRetries inserts the event once and retries the whole
// attempt (insert if still missing, then fan-out) up to retries more times.
// Attempts are strictly sequential. The returned event is non-nil whenever a
// row was written, including on failure.
func (s *Service) ProcessAITriggerWithRetries(ctx context.Context, p Payload, retries int) (*models.TriggerEvent, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	details, err := json.Marshal(p.Details)
	if err != nil {
		return nil, fmt.Errorf("%w: details: %v", ErrInvalidPayload, err)
	}

	ts := s.opts.Now()
	if p.Timestamp != nil {
		ts = p.Timestamp.UTC()
	}
	source := p.Source
	if source == "" {
		source = "external"
	}
	event := &models.TriggerEvent{
		Ticker:    store.NormalizeSymbol(p.Ticker),
		EventType: strings.TrimSpace(p.EventType),
		Details:   details,
		Source:    source,
		Timestamp: ts,
	}
	log := s.log.WithFields(logrus.Fields{"ticker": event.Ticker, "event_type": event.EventType})

	inserted := false
	defer func() {
		if inserted {
			s.release(event.ID)
		}
	}()

	retriesLeft := retries
	for attempt := 1; ; attempt++ {
		err := s.attempt(ctx, event, p.Details, &inserted, attempt)
		if err == nil {
			metrics.TriggerAttemptsTotal.WithLabelValues("success").Inc()
			log.WithFields(logrus.Fields{"event_id": event.ID, "attempt": attempt}).Info("Trigger processed")
			return event, nil
		}

		if retriesLeft <= 0 {
			metrics.TriggerAttemptsTotal.WithLabelValues("failed").Inc()
			log.WithError(err).WithField("attempts", attempt).Error("Trigger failed after exhausting retries")
			if inserted {
				s.record(ctx, event, store.TriggerUpdate{State: models.TriggerFailed, Attempts: attempt, LastError: err.Error()})
				return event, fmt.Errorf("trigger %s failed after %d attempts: %w", event.ID, attempt, err)
			}
			return nil, fmt.Errorf("trigger for %s failed after %d attempts: %w", event.Ticker, attempt, err)
		}

		metrics.TriggerAttemptsTotal.WithLabelValues("retry").Inc()
		delay := s.opts.Backoff(retriesLeft)
		log.WithError(err).WithFields(logrus.Fields{
			"attempt":      attempt,
			"retries_left": retriesLeft,
			"backoff":      delay,
		}).Warn("Trigger attempt failed, retrying")

		if inserted {
			next := s.opts.Now().Add(delay)
			s.record(ctx, event, store.TriggerUpdate{
				State: models.TriggerPending, Attempts: attempt, NextRetryAt: &next, LastError: err.Error(),
			})
		}
		if err := s.opts.Sleep(ctx, delay); err != nil {
			// the row stays pending with next_retry_at so the sweeper can finish it
			if inserted {
				return event, err
			}
			return nil, err
		}
		retriesLeft--
	}
}

// attempt runs one insert-if-needed plus fan-out
func (s *Service) attempt(ctx context.Context, event *models.TriggerEvent, details map[string]interface{}, inserted *bool, attempt int) error {
	if !*inserted {
		if err := s.store.CreateTriggerEvent(ctx, event); err != nil {
			return fmt.Errorf("persist trigger: %w", err)
		}
		*inserted = true
		s.claim(event.ID)
	}

	if _, err := s.notifier.Notify(ctx, event.Ticker, event.EventType, details); err != nil {
		return fmt.Errorf("notify: %w", err)
	}

	now := s.opts.Now()
	s.record(ctx, event, store.TriggerUpdate{State: models.TriggerProcessed, Attempts: attempt, ProcessedAt: &now})
	return nil
}

// record persists state; a failed write is logged and the in-memory copy still updated
func (s *Service) record(ctx context.Context, event *models.TriggerEvent, u store.TriggerUpdate) {
	event.ProcessingState = u.State
	event.Attempts = u.Attempts
	event.NextRetryAt = u.NextRetryAt
	event.LastError = u.LastError
	event.ProcessedAt = u.ProcessedAt
	if err := s.store.UpdateTriggerState(ctx, event.ID, u); err != nil {
		s.log.WithError(err).WithField("event_id", event.ID).Error("Failed to record trigger state")
	}
}

// GetAITriggersByTicker returns the newest events for ticker
func (s *Service) GetAITriggersByTicker(ctx context.Context, ticker string) ([]models.TriggerEvent, error) {
	return s.store.TriggerEventsByTicker(ctx, ticker, 100)
}

// ResumePending runs one attempt for every pending event whose retry time has
// passed, e.g. retries lost to a restart. It returns how many were resumed.
func (s *Service) ResumePending(ctx context.Context) (int, error) {
	now := s.opts.Now()
	due, err := s.store.DueTriggerRetries(ctx, now, now.Add(-s.opts.StaleAfter), s.opts.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("load due triggers: %w", err)
	}

	resumed := 0
	for i := range due {
		event := &due[i]
		if !s.claim(event.ID) {
			continue
		}
		s.resume(ctx, event)
		s.release(event.ID)
		resumed++
	}
	return resumed, nil
}

func (s *Service) resume(ctx context.Context, event *models.TriggerEvent) {
	log := s.log.WithFields(logrus.Fields{"event_id": event.ID, "ticker": event.Ticker})
	maxAttempts := s.opts.MaxRetries + 1
	attempt := event.Attempts + 1

	var details map[string]interface{}
	if len(event.Details) > 0 {
		if err := json.Unmarshal(event.Details, &details); err != nil {
			log.WithError(err).Error("Stored trigger details are unreadable, marking failed")
			s.record(ctx, event, store.TriggerUpdate{State: models.TriggerFailed, Attempts: attempt, LastError: err.Error()})
			return
		}
	}

	_, err := s.notifier.Notify(ctx, event.Ticker, event.EventType, details)
	switch {
	case err == nil:
		now := s.opts.Now()
		s.record(ctx, event, store.TriggerUpdate{State: models.TriggerProcessed, Attempts: attempt, ProcessedAt: &now})
		metrics.TriggerAttemptsTotal.WithLabelValues("success").Inc()
		log.WithField("attempt", attempt).Info("Resumed trigger processed")
	case attempt >= maxAttempts:
		s.record(ctx, event, store.TriggerUpdate{State: models.TriggerFailed, Attempts: attempt, LastError: err.Error()})
		metrics.TriggerAttemptsTotal.WithLabelValues("failed").Inc()
		log.WithError(err).Error("Resumed trigger failed after exhausting retries")
	default:
		next := s.opts.Now().Add(s.opts.Backoff(maxAttempts - attempt))
		s.record(ctx, event, store.TriggerUpdate{
			State: models.TriggerPending, Attempts: attempt, NextRetryAt: &next, LastError: err.Error(),
		})
		metrics.TriggerAttemptsTotal.WithLabelValues("retry").Inc()
		log.WithError(err).WithField("attempt", attempt).Warn("Resumed trigger failed, will retry")
	}
}
