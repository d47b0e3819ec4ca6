package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/stock-reservation/internal/core/domain"
)

type journalEntry struct {
	decremented      bool
	decrementVersion int64
	quantity         int64
	restored         bool
	restoreVersion   int64
	voided           bool
}

// MemoryLedger is a mutex-guarded ledger for single-process deployments and tests.
type MemoryLedger struct {
	mu      sync.Mutex
	items   map[string]*domain.StockItem
	journal map[string]*journalEntry
	now     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		items:   make(map[string]*domain.StockItem),
		journal: make(map[string]*journalEntry),
		now:     time.Now,
	}
}

func (m *MemoryLedger) ReadStock(ctx context.Context, itemID string) (domain.StockItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.StockItem{}, domain.Unavailable("read stock", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[itemID]
	if !ok {
		return domain.StockItem{}, domain.ErrItemNotFound
	}
	return *item, nil
}

func (m *MemoryLedger) ConditionalDecrement(ctx context.Context, d domain.Decrement) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.Unavailable("conditional decrement", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[d.ItemID]
	if !ok {
		return 0, domain.ErrItemNotFound
	}

	key := journalKey(d.ItemID, d.OrderID)
	if entry, ok := m.journal[key]; ok {
		if entry.decremented {
			return entry.decrementVersion, nil
		}
		if entry.voided {
			return 0, domain.ErrOrderVoided
		}
	}
	if item.Version != d.ExpectedVersion {
		return 0, domain.ErrVersionConflict
	}
	if item.Available < d.Quantity {
		return 0, domain.ErrInsufficientStock
	}

	item.Available -= d.Quantity
	item.Version++
	item.UpdatedAt = m.now()
	m.journal[key] = &journalEntry{
		decremented:      true,
		decrementVersion: item.Version,
		quantity:         d.Quantity,
	}
	return item.Version, nil
}

func (m *MemoryLedger) Restore(ctx context.Context, r domain.Restoration) (domain.RestoreResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.RestoreResult{}, domain.Unavailable("restore", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[r.ItemID]
	if !ok {
		return domain.RestoreResult{}, domain.ErrItemNotFound
	}

	key := journalKey(r.ItemID, r.OrderID)
	entry, ok := m.journal[key]
	if !ok {
		// Nothing to give back; a decrement arriving later must not apply.
		m.journal[key] = &journalEntry{voided: true}
		return domain.RestoreResult{Version: item.Version}, nil
	}
	if !entry.decremented {
		return domain.RestoreResult{Version: item.Version}, nil
	}
	if entry.restored {
		return domain.RestoreResult{Version: entry.restoreVersion, Restored: true}, nil
	}

	item.Available += entry.quantity
	item.Version++
	item.UpdatedAt = m.now()
	entry.restored = true
	entry.restoreVersion = item.Version
	return domain.RestoreResult{Version: item.Version, Restored: true}, nil
}

func (m *MemoryLedger) GetItem(ctx context.Context, itemID string) (domain.StockItem, error) {
	return m.ReadStock(ctx, itemID)
}

func (m *MemoryLedger) PutItem(ctx context.Context, itemID string, available int64) (domain.StockItem, error) {
	if available < 0 {
		return domain.StockItem{}, domain.ErrInvalidRequest
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[itemID]
	if !ok {
		item = &domain.StockItem{ItemID: itemID}
		m.items[itemID] = item
	} else {
		item.Version++
	}
	item.Available = available
	item.UpdatedAt = m.now()
	return *item, nil
}

func journalKey(itemID, orderID string) string {
	return itemID + "/" + orderID
}
