package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/AbdullahHassan176/hookrelay/internal/domain"
)

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*domain.Event
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, event *domain.Event) ([]*domain.DeliveryRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.events = append(p.events, event)
	return []*domain.DeliveryRecord{{ID: "d1", EventID: event.ID}}, nil
}

func (p *fakePublisher) published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func message(t *testing.T, v any) kafka.Message {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	return kafka.Message{Value: data}
}

func runConsumer(t *testing.T, r *fakeReader, p *fakePublisher) {
	t.Helper()
	c := &Consumer{
		config:    Config{Topic: "hookrelay.events", GroupID: "hookrelay"},
		reader:    r,
		publisher: p,
		logger:    discardLogger(),
	}
	c.Start(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		drained := len(r.messages) == 0
		r.mu.Unlock()
		if drained {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop()

	if !r.closed {
		t.Error("Stop should close the reader")
	}
}

func TestConsumer_PublishesAndCommits(t *testing.T) {
	r := &fakeReader{messages: []kafka.Message{
		message(t, EventMessage{ID: "evt_1", Type: "order.created", EntityID: "ord_1", EntityType: "order"}),
		message(t, EventMessage{ID: "evt_2", Type: "order.updated", EntityID: "ord_1", EntityType: "order"}),
	}}
	p := &fakePublisher{}

	runConsumer(t, r, p)

	if got := p.published(); got != 2 {
		t.Errorf("published = %d, want 2", got)
	}
	if got := r.committedCount(); got != 2 {
		t.Errorf("committed = %d, want 2", got)
	}
}

func TestConsumer_MalformedMessageIsCommittedAndDropped(t *testing.T) {
	r := &fakeReader{messages: []kafka.Message{
		{Value: []byte("{not json")},
		message(t, EventMessage{Type: "order.created"}), // missing eventId
		message(t, EventMessage{ID: "evt_1", Type: "order.created"}),
	}}
	p := &fakePublisher{}

	runConsumer(t, r, p)

	if got := p.published(); got != 1 {
		t.Errorf("published = %d, want 1 (malformed messages dropped)", got)
	}
	if got := r.committedCount(); got != 3 {
		t.Errorf("committed = %d, want 3 (bad messages are committed past)", got)
	}
}

func TestConsumer_PublishFailureHoldsOffset(t *testing.T) {
	r := &fakeReader{messages: []kafka.Message{
		message(t, EventMessage{ID: "evt_1", Type: "order.created"}),
	}}
	p := &fakePublisher{err: errors.New("store unavailable")}

	runConsumer(t, r, p)

	if got := r.committedCount(); got != 0 {
		t.Errorf("committed = %d, want 0 (offset held for re-read)", got)
	}
}

func TestDecodeEvent(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	raw, _ := json.Marshal(EventMessage{
		ID:         "evt_1",
		Type:       "order.created",
		EntityID:   "ord_42",
		EntityType: "order",
		Data:       json.RawMessage(`{"total":100}`),
		OccurredAt: &at,
	})

	event, err := decodeEvent(raw)
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	if event.ID != "evt_1" || event.Type != "order.created" {
		t.Errorf("event = %+v", event)
	}
	if !event.OccurredAt.Equal(at) {
		t.Errorf("occurredAt = %v, want %v", event.OccurredAt, at)
	}

	if _, err := decodeEvent([]byte(`{"eventType":"x"}`)); err == nil {
		t.Error("event without eventId should fail validation")
	}
}
