package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/port"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	sent []published
	err  error
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error { return nil }

func testEvent() port.OrderEvent {
	return port.OrderEvent{
		OrderID:    "o1",
		ItemID:     "A",
		Quantity:   3,
		Status:     domain.OrderStatusCommitted,
		OccurredAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}

	if err := p.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "o1" {
		t.Errorf("expected key o1, got %q", msg.Key)
	}
	if len(msg.Headers) == 0 || msg.Headers[0].Key != "event_type" || string(msg.Headers[0].Value) != "order.committed" {
		t.Errorf("unexpected headers: %v", msg.Headers)
	}

	var got port.OrderEvent
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := testEvent()
	if got.OrderID != want.OrderID || got.Quantity != want.Quantity || got.Status != want.Status || !got.OccurredAt.Equal(want.OccurredAt) {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("expected writer closed, err=%v", err)
	}
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: kafka.LeaderNotAvailable}}

	err := p.Publish(context.Background(), testEvent())
	if !errors.Is(err, kafka.LeaderNotAvailable) {
		t.Errorf("expected wrapped kafka error, got %v", err)
	}
}

func TestRabbitPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	p := &RabbitPublisher{ch: ch, exchange: "order.events"}

	event := testEvent()
	event.Status = domain.OrderStatusCompensated
	if err := p.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(ch.sent) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(ch.sent))
	}
	sent := ch.sent[0]
	if sent.exchange != "order.events" || sent.key != "order.compensated" {
		t.Errorf("unexpected route %s/%s", sent.exchange, sent.key)
	}
	if sent.msg.ContentType != "application/json" || sent.msg.DeliveryMode != amqp.Persistent {
		t.Errorf("unexpected publishing: %+v", sent.msg)
	}
	if sent.msg.MessageId != "o1:compensated" {
		t.Errorf("unexpected message id %q", sent.msg.MessageId)
	}
}

func TestRabbitPublisher_ChannelError(t *testing.T) {
	p := &RabbitPublisher{ch: &fakeChannel{err: amqp.ErrClosed}, exchange: "order.events"}

	if err := p.Publish(context.Background(), testEvent()); !errors.Is(err, amqp.ErrClosed) {
		t.Errorf("expected wrapped amqp error, got %v", err)
	}
}

func TestLogPublisher_Publish(t *testing.T) {
	var buf bytes.Buffer
	p := &LogPublisher{logger: zerolog.New(&buf)}

	if err := p.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"event":"order.committed"`) || !strings.Contains(out, `"order_id":"o1"`) {
		t.Errorf("unexpected log line: %s", out)
	}
}
