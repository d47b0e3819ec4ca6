package port

import (
	"context"

	"github.com/rl1809/stock-reservation/internal/core/domain"
)

// StockLedger is the single source of truth for available stock. Every
// method is one atomic unit; callers compose read and decrement through the
// version token.
type StockLedger interface {
	// ReadStock returns the current quantity and version, or ErrItemNotFound.
	ReadStock(ctx context.Context, itemID string) (domain.StockItem, error)

	// ConditionalDecrement applies d only if the stored version equals
	// d.ExpectedVersion and enough stock is available. Replaying a decrement
	// already applied for d.OrderID returns the recorded version.
	ConditionalDecrement(ctx context.Context, d domain.Decrement) (int64, error)

	// Restore gives back an order's decrement regardless of version. It is
	// applied at most once per order.
	Restore(ctx context.Context, r domain.Restoration) (domain.RestoreResult, error)
}

// Catalog is the plain get/put surface the ledger is layered on.
type Catalog interface {
	GetItem(ctx context.Context, itemID string) (domain.StockItem, error)

	// PutItem sets the available quantity, creating the item at version 0
	// when it does not exist.
	PutItem(ctx context.Context, itemID string, available int64) (domain.StockItem, error)
}

// Inventory is implemented by every ledger backend.
type Inventory interface {
	StockLedger
	Catalog
}
