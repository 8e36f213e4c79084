// Package ingest bridges the portal's Kafka event stream into the delivery
// engine. Offsets are committed only after the event's deliveries are
// durably created, so a crash re-reads the message; delivery records and
// queue jobs are keyed deterministically, making the replay harmless.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/AbdullahHassan176/hookrelay/internal/domain"
)

// Publisher fans one event out to its subscribers.
type Publisher interface {
	Publish(ctx context.Context, event *domain.Event) ([]*domain.DeliveryRecord, error)
}

// reader is the subset of kafka.Reader the consumer uses.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// EventMessage is the wire form of one event on the topic.
type EventMessage struct {
	ID         string          `json:"eventId"`
	Type       string          `json:"eventType"`
	EntityID   string          `json:"entityId"`
	EntityType string          `json:"entityType"`
	Data       json.RawMessage `json:"data"`
	OccurredAt *time.Time      `json:"occurredAt,omitempty"`
}

type Consumer struct {
	config    Config
	reader    reader
	publisher Publisher
	logger    *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewConsumer(config Config, publisher Publisher, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		Topic:          config.Topic,
		GroupID:        config.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commits only
		StartOffset:    kafka.LastOffset,
	})
	return &Consumer{
		config:    config,
		reader:    r,
		publisher: publisher,
		logger:    logger,
	}
}

func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run(ctx)
	c.logger.Info("kafka consumer started",
		"topic", c.config.Topic,
		"group", c.config.GroupID,
	)
}

func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if err := c.reader.Close(); err != nil {
		c.logger.Error("failed to close kafka reader", "error", err)
	}
	c.logger.Info("kafka consumer stopped")
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			c.logger.Error("failed to fetch message", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if c.process(ctx, msg) {
			if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				c.logger.Error("failed to commit offset",
					"error", err,
					"partition", msg.Partition,
					"offset", msg.Offset,
				)
			}
		}
	}
}

// process handles one message and reports whether its offset may be
// committed. Malformed messages are committed too; replaying them can
// never succeed.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	event, err := decodeEvent(msg.Value)
	if err != nil {
		c.logger.Error("dropping malformed event message",
			"error", err,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		return true
	}

	records, err := c.publisher.Publish(ctx, event)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			c.logger.Error("dropping invalid event", "error", err, "event_id", event.ID)
			return true
		}
		c.logger.Error("failed to publish event, will re-read",
			"error", err,
			"event_id", event.ID,
		)
		return false
	}

	c.logger.Debug("event ingested",
		"event_id", event.ID,
		"event_type", event.Type,
		"deliveries", len(records),
	)
	return true
}

func decodeEvent(value []byte) (*domain.Event, error) {
	var msg EventMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return nil, err
	}

	occurredAt := time.Now().UTC()
	if msg.OccurredAt != nil {
		occurredAt = msg.OccurredAt.UTC()
	}
	event := &domain.Event{
		ID:         msg.ID,
		Type:       msg.Type,
		EntityID:   msg.EntityID,
		EntityType: msg.EntityType,
		Data:       msg.Data,
		OccurredAt: occurredAt,
	}
	return event, event.Validate()
}
