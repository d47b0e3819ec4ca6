package port

import (
	"context"
	"time"

	"github.com/rl1809/stock-reservation/internal/core/domain"
)

type OrderEvent struct {
	OrderID    string             `json:"order_id"`
	ItemID     string             `json:"item_id"`
	Quantity   int64              `json:"quantity"`
	Status     domain.OrderStatus `json:"status"`
	OccurredAt time.Time          `json:"occurred_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event OrderEvent) error
	Close() error
}
