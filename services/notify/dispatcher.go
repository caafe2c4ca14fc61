package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stock_alerts_backend/metrics"
)

// Recipient is a resolved notification target
type Recipient struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// Dispatcher delivers one rendered message to one recipient
type Dispatcher interface {
	Channel() string
	Send(ctx context.Context, to Recipient, msg *RenderedMessage) error
}

// MultiDispatcher sends through every channel; it fails if any channel fails
type MultiDispatcher struct {
	dispatchers []Dispatcher
}

// NewMultiDispatcher combines dispatchers, skipping nils
func NewMultiDispatcher(ds ...Dispatcher) *MultiDispatcher {
	m := &MultiDispatcher{}
	for _, d := range ds {
		if d != nil {
			m.dispatchers = append(m.dispatchers, d)
		}
	}
	return m
}

func (m *MultiDispatcher) Channel() string {
	names := make([]string, len(m.dispatchers))
	for i, d := range m.dispatchers {
		names[i] = d.Channel()
	}
	return strings.Join(names, "+")
}

func (m *MultiDispatcher) Send(ctx context.Context, to Recipient, msg *RenderedMessage) error {
	var errs []error
	for _, d := range m.dispatchers {
		err := d.Send(ctx, to, msg)
		metrics.NotificationsSentTotal.WithLabelValues(d.Channel(), metrics.Outcome(err)).Inc()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Channel(), err))
		}
	}
	return errors.Join(errs...)
}
