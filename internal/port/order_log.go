package port

import (
	"context"
	"time"

	"github.com/rl1809/stock-reservation/internal/core/domain"
)

type OrderLog interface {
	// Append durably stores a new record, or returns ErrDuplicateOrder.
	Append(ctx context.Context, record domain.OrderRecord) error

	// Get returns the record for orderID, or ErrOrderNotFound.
	Get(ctx context.Context, orderID string) (domain.OrderRecord, error)

	// Transition moves a record from one status to another and stores the
	// rejection reason. Returns ErrStatusConflict if the stored status is not from.
	Transition(ctx context.Context, orderID string, from, to domain.OrderStatus, reason domain.RejectReason) error

	// ListPending returns up to limit Pending records created before olderThan.
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]domain.OrderRecord, error)
}
