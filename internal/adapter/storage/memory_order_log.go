package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/stock-reservation/internal/core/domain"
)

// MemoryOrderLog keeps order records in process memory. It is durable only
// for the life of the process.
type MemoryOrderLog struct {
	mu      sync.RWMutex
	records map[string]domain.OrderRecord
	now     func() time.Time
}

func NewMemoryOrderLog() *MemoryOrderLog {
	return &MemoryOrderLog{
		records: make(map[string]domain.OrderRecord),
		now:     time.Now,
	}
}

func (l *MemoryOrderLog) Append(ctx context.Context, record domain.OrderRecord) error {
	if err := ctx.Err(); err != nil {
		return domain.Unavailable("append order", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[record.OrderID]; ok {
		return domain.ErrDuplicateOrder
	}
	l.records[record.OrderID] = record
	return nil
}

func (l *MemoryOrderLog) Get(ctx context.Context, orderID string) (domain.OrderRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderRecord{}, domain.Unavailable("get order", err)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	record, ok := l.records[orderID]
	if !ok {
		return domain.OrderRecord{}, domain.ErrOrderNotFound
	}
	return record, nil
}

func (l *MemoryOrderLog) Transition(ctx context.Context, orderID string, from, to domain.OrderStatus, reason domain.RejectReason) error {
	if err := ctx.Err(); err != nil {
		return domain.Unavailable("transition order", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if record.Status != from || !from.CanTransition(to) {
		return domain.ErrStatusConflict
	}
	record.Status = to
	record.Reason = reason
	record.UpdatedAt = l.now()
	l.records[orderID] = record
	return nil
}

func (l *MemoryOrderLog) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]domain.OrderRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Unavailable("list pending", err)
	}

	l.mu.RLock()
	var pending []domain.OrderRecord
	for _, record := range l.records {
		if record.Status == domain.OrderStatusPending && record.CreatedAt.Before(olderThan) {
			pending = append(pending, record)
		}
	}
	l.mu.RUnlock()

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}
