package triggers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus/hooks/test"

	"stock_alerts_backend/models"
)

// fakeReader serves queued messages then blocks until ctx is done
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	drained   chan struct{}
}

func newFakeReader(values ...string) *fakeReader {
	r := &fakeReader{drained: make(chan struct{})}
	for i, v := range values {
		r.msgs = append(r.msgs, kafka.Message{Offset: int64(i), Value: []byte(v)})
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	select {
	case <-r.drained:
	default:
		close(r.drained)
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type processorFunc func(ctx context.Context, p Payload) (*models.TriggerEvent, error)

func (f processorFunc) ProcessAITrigger(ctx context.Context, p Payload) (*models.TriggerEvent, error) {
	return f(ctx, p)
}

func runConsumer(t *testing.T, r *fakeReader, p TriggerProcessor) {
	t.Helper()
	log, _ := test.NewNullLogger()
	c := NewKafkaConsumer(r, p, log)
	c.retryDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-r.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not drain messages")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestKafkaConsumerCommitsAfterProcessing(t *testing.T) {
	r := newFakeReader(
		`{"ticker":"NVDA","event_type":"hedge_fund_buy","details":{"fund_name":"X"},"source":"ai"}`,
		`not json`,
		`{"event_type":"hedge_fund_buy"}`,
	)
	var seen []string
	proc := processorFunc(func(_ context.Context, p Payload) (*models.TriggerEvent, error) {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		seen = append(seen, p.Ticker)
		return &models.TriggerEvent{ID: "1"}, nil
	})

	runConsumer(t, r, proc)

	if len(seen) != 1 || seen[0] != "NVDA" {
		t.Fatalf("processed = %v", seen)
	}
	// malformed and invalid messages are committed so they are not redelivered
	if len(r.committed) != 3 {
		t.Fatalf("committed offsets = %v, want 3", r.committed)
	}
}

func TestKafkaConsumerRetriesUntilPersisted(t *testing.T) {
	r := newFakeReader(`{"ticker":"AAPL","event_type":"investor_mention"}`)
	calls := 0
	proc := processorFunc(func(context.Context, Payload) (*models.TriggerEvent, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("database is locked")
		}
		return &models.TriggerEvent{ID: "1"}, nil
	})

	runConsumer(t, r, proc)

	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if len(r.committed) != 1 {
		t.Fatalf("committed = %v, want one offset", r.committed)
	}
}

func TestKafkaConsumerCommitsFailedButStoredEvent(t *testing.T) {
	r := newFakeReader(`{"ticker":"AAPL","event_type":"investor_mention"}`)
	calls := 0
	proc := processorFunc(func(context.Context, Payload) (*models.TriggerEvent, error) {
		calls++
		return &models.TriggerEvent{ID: "1", ProcessingState: models.TriggerFailed}, errors.New("notify: smtp down")
	})

	runConsumer(t, r, proc)

	if calls != 1 || len(r.committed) != 1 {
		t.Fatalf("calls = %d committed = %v", calls, r.committed)
	}
}
