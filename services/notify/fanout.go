package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"stock_alerts_backend/models"
)

// RecipientSource resolves who watches a ticker
type RecipientSource interface {
	RecipientsForTicker(ctx context.Context, ticker string) ([]models.User, error)
}

// FanOutResult counts per-recipient outcomes of one notification
type FanOutResult struct {
	Recipients int `json:"recipients"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
}

// FanOut renders an event once and sends it to every watcher of the ticker
type FanOut struct {
	recipients RecipientSource
	renderer   *Renderer
	dispatcher Dispatcher
	log        logrus.FieldLogger
}

func NewFanOut(recipients RecipientSource, renderer *Renderer, dispatcher Dispatcher, log logrus.FieldLogger) *FanOut {
	return &FanOut{
		recipients: recipients,
		renderer:   renderer,
		dispatcher: dispatcher,
		log:        log.WithField("component", "fanout"),
	}
}

// Notify sends to all recipients concurrently and waits for every send to
// settle. Individual send failures are logged and counted, never returned;
// only a failure to resolve recipients or render the message is an error.
func (f *FanOut) Notify(ctx context.Context, ticker, eventType string, details map[string]interface{}) (FanOutResult, error) {
	users, err := f.recipients.RecipientsForTicker(ctx, ticker)
	if err != nil {
		return FanOutResult{}, fmt.Errorf("resolve recipients for %s: %w", ticker, err)
	}
	if len(users) == 0 {
		f.log.WithFields(logrus.Fields{"ticker": ticker, "event_type": eventType}).Debug("No recipients watching ticker")
		return FanOutResult{}, nil
	}

	msg, err := f.renderer.Render(ticker, eventType, details)
	if err != nil {
		return FanOutResult{Recipients: len(users)}, err
	}

	var sent, failed atomic.Int32
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(to Recipient) {
			defer wg.Done()
			if err := f.dispatcher.Send(ctx, to, msg); err != nil {
				failed.Add(1)
				f.log.WithError(err).WithFields(logrus.Fields{
					"ticker":  ticker,
					"user_id": to.UserID,
				}).Warn("Failed to notify recipient")
				return
			}
			sent.Add(1)
		}(Recipient{UserID: u.ID, Email: u.Email, Name: u.FullName})
	}
	wg.Wait()

	result := FanOutResult{Recipients: len(users), Sent: int(sent.Load()), Failed: int(failed.Load())}
	f.log.WithFields(logrus.Fields{
		"ticker":     ticker,
		"event_type": eventType,
		"sent":       result.Sent,
		"failed":     result.Failed,
	}).Info("Notification fan-out complete")
	return result, nil
}
