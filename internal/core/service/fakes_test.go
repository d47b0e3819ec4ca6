package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/rl1809/stock-reservation/internal/adapter/storage"
	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/port"
)

var errConnReset = errors.New("connection reset by peer")

func unavailable() error {
	return domain.Unavailable("test", errConnReset)
}

// flakyLedger wraps the memory ledger with injectable failures.
type flakyLedger struct {
	*storage.MemoryLedger

	mu                sync.Mutex
	readFailures      int
	decrementFailures int  // fail without applying
	lostAcks          int  // apply, then report failure
	alwaysConflict    bool // every decrement conflicts
	restoreFailures   int
	restoreGate       chan struct{}
	decrementCalls    int
	restoreCalls      int
}

func newFlakyLedger(stock map[string]int64) *flakyLedger {
	l := &flakyLedger{MemoryLedger: storage.NewMemoryLedger()}
	for id, qty := range stock {
		l.MemoryLedger.PutItem(context.Background(), id, qty)
	}
	return l
}

func (l *flakyLedger) ReadStock(ctx context.Context, itemID string) (domain.StockItem, error) {
	l.mu.Lock()
	if l.readFailures > 0 {
		l.readFailures--
		l.mu.Unlock()
		return domain.StockItem{}, unavailable()
	}
	l.mu.Unlock()
	return l.MemoryLedger.ReadStock(ctx, itemID)
}

func (l *flakyLedger) ConditionalDecrement(ctx context.Context, d domain.Decrement) (int64, error) {
	l.mu.Lock()
	l.decrementCalls++
	if l.alwaysConflict {
		l.mu.Unlock()
		return 0, domain.ErrVersionConflict
	}
	if l.decrementFailures > 0 {
		l.decrementFailures--
		l.mu.Unlock()
		return 0, unavailable()
	}
	lost := l.lostAcks > 0
	if lost {
		l.lostAcks--
	}
	l.mu.Unlock()

	version, err := l.MemoryLedger.ConditionalDecrement(ctx, d)
	if lost && err == nil {
		return 0, unavailable()
	}
	return version, err
}

func (l *flakyLedger) Restore(ctx context.Context, r domain.Restoration) (domain.RestoreResult, error) {
	l.mu.Lock()
	l.restoreCalls++
	gate := l.restoreGate
	if l.restoreFailures > 0 {
		l.restoreFailures--
		l.mu.Unlock()
		return domain.RestoreResult{}, unavailable()
	}
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.RestoreResult{}, domain.Unavailable("restore", ctx.Err())
		}
	}
	return l.MemoryLedger.Restore(ctx, r)
}

func (l *flakyLedger) available(t *testing.T, itemID string) int64 {
	t.Helper()
	item, err := l.MemoryLedger.ReadStock(context.Background(), itemID)
	if err != nil {
		t.Fatalf("read stock: %v", err)
	}
	return item.Available
}

func (l *flakyLedger) calls() (decrements, restores int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.decrementCalls, l.restoreCalls
}

// flakyOrderLog wraps the memory order log with injectable failures.
type flakyOrderLog struct {
	*storage.MemoryOrderLog

	mu             sync.Mutex
	failCommit     bool
	appendFailures int
	getFailures    int
}

func newFlakyOrderLog() *flakyOrderLog {
	return &flakyOrderLog{MemoryOrderLog: storage.NewMemoryOrderLog()}
}

func (l *flakyOrderLog) Append(ctx context.Context, record domain.OrderRecord) error {
	l.mu.Lock()
	if l.appendFailures > 0 {
		l.appendFailures--
		l.mu.Unlock()
		return unavailable()
	}
	l.mu.Unlock()
	return l.MemoryOrderLog.Append(ctx, record)
}

func (l *flakyOrderLog) Get(ctx context.Context, orderID string) (domain.OrderRecord, error) {
	l.mu.Lock()
	if l.getFailures > 0 {
		l.getFailures--
		l.mu.Unlock()
		return domain.OrderRecord{}, unavailable()
	}
	l.mu.Unlock()
	return l.MemoryOrderLog.Get(ctx, orderID)
}

func (l *flakyOrderLog) Transition(ctx context.Context, orderID string, from, to domain.OrderStatus, reason domain.RejectReason) error {
	l.mu.Lock()
	fail := l.failCommit && to == domain.OrderStatusCommitted
	l.mu.Unlock()
	if fail {
		return unavailable()
	}
	return l.MemoryOrderLog.Transition(ctx, orderID, from, to, reason)
}

func (l *flakyOrderLog) status(t *testing.T, orderID string) domain.OrderStatus {
	t.Helper()
	record, err := l.MemoryOrderLog.Get(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get order %s: %v", orderID, err)
	}
	return record.Status
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []port.OrderEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event port.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) statuses() []domain.OrderStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.OrderStatus, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Status)
	}
	return out
}

// hangingPublisher blocks until its context ends, like a broker that never
// acknowledges.
type hangingPublisher struct {
	calls atomic.Int32
}

func (p *hangingPublisher) Publish(ctx context.Context, event port.OrderEvent) error {
	p.calls.Add(1)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return nil
	}
}

func (p *hangingPublisher) Close() error { return nil }

var fastBackoff = Backoff{Base: 10 * time.Microsecond, Max: 100 * time.Microsecond}

func newTestController(t *testing.T, ledger port.StockLedger, orders port.OrderLog, events port.EventPublisher) *CompensationController {
	t.Helper()
	c := NewCompensationController(ledger, orders, events, CompensationConfig{
		Workers:    2,
		QueueSize:  16,
		Backoff:    fastBackoff,
		AlertAfter: 3,
	})
	c.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		c.Shutdown(ctx)
	})
	return c
}

func newTestService(t *testing.T, ledger port.StockLedger, orders port.OrderLog, events port.EventPublisher) *ReservationService {
	t.Helper()
	cfg := ReservationConfig{MaxConflictRetries: 3, MaxStorageRetries: 2, Backoff: fastBackoff}
	return NewReservationService(ledger, orders, newTestController(t, ledger, orders, events), events, cfg)
}
