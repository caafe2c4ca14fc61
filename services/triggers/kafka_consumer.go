package triggers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"stock_alerts_backend/config"
	"stock_alerts_backend/models"
)

// MessageReader is the subset of *kafka.Reader the consumer uses
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TriggerProcessor is implemented by *Service
type TriggerProcessor interface {
	ProcessAITrigger(ctx context.Context, p Payload) (*models.TriggerEvent, error)
}

// NewKafkaReader builds a consumer-group reader with manual commits
func NewKafkaReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        []string{cfg.Broker},
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		CommitInterval: 0, // committed by KafkaConsumer after the event is persisted
	})
}

// KafkaConsumer feeds trigger payloads from a topic into the service.
// Offsets are committed only once the event row exists (or the message is
// unusable), so delivery is at-least-once.
type KafkaConsumer struct {
	reader     MessageReader
	processor  TriggerProcessor
	log        logrus.FieldLogger
	retryDelay time.Duration
}

func NewKafkaConsumer(reader MessageReader, processor TriggerProcessor, log logrus.FieldLogger) *KafkaConsumer {
	return &KafkaConsumer{
		reader:     reader,
		processor:  processor,
		log:        log.WithField("component", "trigger_consumer"),
		retryDelay: 2 * time.Second,
	}
}

// Run blocks until ctx is cancelled
func (c *KafkaConsumer) Run(ctx context.Context) error {
	c.log.Info("Starting trigger consumer")
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.log.Info("Trigger consumer stopped")
				return nil
			}
			c.log.WithError(err).Error("Kafka fetch error")
			if !c.wait(ctx) {
				return nil
			}
			continue
		}

		if !c.handle(ctx, m) {
			return nil
		}
		c.commit(m)
	}
}

// handle reports false when ctx ended before the message could be stored
func (c *KafkaConsumer) handle(ctx context.Context, m kafka.Message) bool {
	log := c.log.WithFields(logrus.Fields{"partition": m.Partition, "offset": m.Offset})

	var p Payload
	if err := json.Unmarshal(m.Value, &p); err != nil {
		log.WithError(err).Warn("Skipping malformed trigger message")
		return true
	}

	for {
		event, err := c.processor.ProcessAITrigger(ctx, p)
		switch {
		case err == nil:
			return true
		case errors.Is(err, ErrInvalidPayload):
			log.WithError(err).Warn("Skipping invalid trigger payload")
			return true
		case event != nil:
			// the row exists; its state records the failure
			return true
		}

		log.WithError(err).Error("Trigger not persisted, retrying")
		if !c.wait(ctx) {
			return false
		}
	}
}

func (c *KafkaConsumer) commit(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.log.WithError(err).Warn("Failed to commit offset")
	}
}

func (c *KafkaConsumer) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.retryDelay):
		return true
	}
}

// Close releases the underlying reader
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
