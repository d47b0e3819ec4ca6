package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending     OrderStatus = "pending"
	OrderStatusCommitted   OrderStatus = "committed"
	OrderStatusFailed      OrderStatus = "failed"
	OrderStatusCompensated OrderStatus = "compensated"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCommitted, OrderStatusFailed, OrderStatusCompensated:
		return true
	}
	return false
}

// CanTransition reports whether a record may move from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	return s == OrderStatusPending && next.Terminal()
}

type OrderRequest struct {
	OrderID  string
	ItemID   string
	Quantity int64
}

func (r OrderRequest) Validate() error {
	if r.OrderID == "" || r.ItemID == "" {
		return ErrInvalidRequest
	}
	if r.Quantity <= 0 {
		return ErrInvalidRequest
	}
	return nil
}

type OrderRecord struct {
	OrderID   string
	ItemID    string
	Quantity  int64
	Status    OrderStatus
	Reason    RejectReason
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPendingRecord builds the claim written right before the first decrement.
func NewPendingRecord(req OrderRequest, now time.Time) OrderRecord {
	return OrderRecord{
		OrderID:   req.OrderID,
		ItemID:    req.ItemID,
		Quantity:  req.Quantity,
		Status:    OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Outcome converts a stored record into the result returned to callers.
func (r OrderRecord) Outcome() Outcome {
	switch r.Status {
	case OrderStatusCommitted:
		return Committed(r.OrderID)
	case OrderStatusCompensated:
		return Compensated(r.OrderID)
	case OrderStatusFailed:
		return Rejected(r.OrderID, r.Reason)
	default:
		return InProgress(r.OrderID)
	}
}
