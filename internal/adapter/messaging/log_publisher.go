package messaging

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rl1809/stock-reservation/internal/port"
)

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{logger: log.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(ctx context.Context, event port.OrderEvent) error {
	p.logger.Info().
		Str("event", eventType(event)).
		Str("order_id", event.OrderID).
		Str("item_id", event.ItemID).
		Int64("quantity", event.Quantity).
		Time("occurred_at", event.OccurredAt).
		Msg("order event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
