package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/port"
)

func getRedisClient(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLedger_DecrementSuccess(t *testing.T) {
	ctx := context.Background()
	ledger := NewRedisLedger(getRedisClient(t))

	if _, err := ledger.PutItem(ctx, "test-item", 10); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	version, err := ledger.ConditionalDecrement(ctx, domain.Decrement{OrderID: "o1", ItemID: "test-item", Quantity: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != 1 {
		t.Errorf("expected version 1, got %d", version)
	}

	item, err := ledger.ReadStock(ctx, "test-item")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Available != 7 || item.Version != 1 {
		t.Errorf("expected available=7 version=1, got %+v", item)
	}
}

func TestRedisLedger_InsufficientStock(t *testing.T) {
	ctx := context.Background()
	ledger := NewRedisLedger(getRedisClient(t))
	ledger.PutItem(ctx, "test-item", 5)

	_, err := ledger.ConditionalDecrement(ctx, domain.Decrement{OrderID: "o1", ItemID: "test-item", Quantity: 10})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	item, _ := ledger.ReadStock(ctx, "test-item")
	if item.Available != 5 || item.Version != 0 {
		t.Errorf("stock must be unchanged, got %+v", item)
	}
}

func TestRedisLedger_VersionConflict(t *testing.T) {
	ctx := context.Background()
	ledger := NewRedisLedger(getRedisClient(t))
	ledger.PutItem(ctx, "test-item", 5)

	_, err := ledger.ConditionalDecrement(ctx, domain.Decrement{OrderID: "o1", ItemID: "test-item", Quantity: 1, ExpectedVersion: 4})
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestRedisLedger_KeyNotExists(t *testing.T) {
	ctx := context.Background()
	ledger := NewRedisLedger(getRedisClient(t))

	if _, err := ledger.ReadStock(ctx, "nonexistent"); !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound on read, got %v", err)
	}
	_, err := ledger.ConditionalDecrement(ctx, domain.Decrement{OrderID: "o1", ItemID: "nonexistent", Quantity: 1})
	if !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound on decrement, got %v", err)
	}
	_, err = ledger.Restore(ctx, domain.Restoration{OrderID: "o1", ItemID: "nonexistent", Quantity: 1})
	if !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound on restore, got %v", err)
	}
}

func TestRedisLedger_ReplayAndRestore(t *testing.T) {
	ctx := context.Background()
	ledger := NewRedisLedger(getRedisClient(t))
	ledger.PutItem(ctx, "test-item", 5)

	dec := domain.Decrement{OrderID: "o1", ItemID: "test-item", Quantity: 3}
	first, _ := ledger.ConditionalDecrement(ctx, dec)
	second, err := ledger.ConditionalDecrement(ctx, dec)
	if err != nil {
		t.Fatalf("replay should succeed, got %v", err)
	}
	if first != second {
		t.Errorf("replay returned %d, want %d", second, first)
	}

	res, err := ledger.Restore(ctx, domain.Restoration{OrderID: "o1", ItemID: "test-item", Quantity: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Restored || res.Version != 2 {
		t.Errorf("expected restore at version 2, got %+v", res)
	}

	res, _ = ledger.Restore(ctx, domain.Restoration{OrderID: "o1", ItemID: "test-item", Quantity: 3})
	if !res.Restored || res.Version != 2 {
		t.Errorf("second restore should report the first restore, got %+v", res)
	}

	item, _ := ledger.ReadStock(ctx, "test-item")
	if item.Available != 5 {
		t.Errorf("expected stock 5 after restore, got %d", item.Available)
	}
}

func TestRedisLedger_DecrementAfterEmptyRestore(t *testing.T) {
	ctx := context.Background()
	ledger := NewRedisLedger(getRedisClient(t))
	ledger.PutItem(ctx, "test-item", 5)

	res, err := ledger.Restore(ctx, domain.Restoration{OrderID: "o1", ItemID: "test-item", Quantity: 3})
	if err != nil || res.Restored {
		t.Fatalf("expected an empty restore, got %+v, %v", res, err)
	}

	_, err = ledger.ConditionalDecrement(ctx, domain.Decrement{OrderID: "o1", ItemID: "test-item", Quantity: 3})
	if !errors.Is(err, domain.ErrOrderVoided) {
		t.Errorf("expected ErrOrderVoided, got %v", err)
	}

	// Other orders are unaffected.
	if _, err := ledger.ConditionalDecrement(ctx, domain.Decrement{OrderID: "o2", ItemID: "test-item", Quantity: 3}); err != nil {
		t.Errorf("unexpected error for o2: %v", err)
	}

	item, _ := ledger.ReadStock(ctx, "test-item")
	if item.Available != 2 {
		t.Errorf("expected only o2 applied, available=%d", item.Available)
	}
}

func TestRedisLedger_Concurrent(t *testing.T) {
	ctx := context.Background()
	ledger := NewRedisLedger(getRedisClient(t))

	initialStock := 20
	totalRequests := 50
	ledger.PutItem(ctx, "concurrent-test", int64(initialStock))

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				item, err := ledger.ReadStock(ctx, "concurrent-test")
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				_, err = ledger.ConditionalDecrement(ctx, domain.Decrement{
					OrderID: fmt.Sprintf("o-%d", id), ItemID: "concurrent-test", Quantity: 1, ExpectedVersion: item.Version,
				})
				switch {
				case err == nil:
					successCount.Add(1)
					return
				case errors.Is(err, domain.ErrVersionConflict):
					continue
				case errors.Is(err, domain.ErrInsufficientStock):
					return
				default:
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}(i)
	}

	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successes, got %d", initialStock, successCount.Load())
	}

	item, _ := ledger.ReadStock(ctx, "concurrent-test")
	if item.Available != 0 {
		t.Errorf("expected stock 0, got %d", item.Available)
	}
	if item.Version != int64(initialStock) {
		t.Errorf("expected version %d, got %d", initialStock, item.Version)
	}
}

func TestRedisLedger_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	ledger := NewRedisLedger(client)
	mr.Close()

	_, err := ledger.ReadStock(context.Background(), "test-item")
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	locker := NewRedisLocker(getRedisClient(t))

	release, err := locker.Obtain(ctx, "reconciler", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := locker.Obtain(ctx, "reconciler", time.Minute); !errors.Is(err, port.ErrLockNotObtained) {
		t.Errorf("expected ErrLockNotObtained, got %v", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := locker.Obtain(ctx, "reconciler", time.Minute); err != nil {
		t.Errorf("expected lock after release, got %v", err)
	}
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	release, err := locker.Obtain(ctx, "job", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := locker.Obtain(ctx, "job", time.Minute); !errors.Is(err, port.ErrLockNotObtained) {
		t.Errorf("expected ErrLockNotObtained, got %v", err)
	}
	release(ctx)
	if _, err := locker.Obtain(ctx, "job", time.Minute); err != nil {
		t.Errorf("expected lock after release, got %v", err)
	}
}

func TestLocalLocker_ExpiredReleaseKeepsNewHolder(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	stale, err := locker.Obtain(ctx, "job", time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := locker.Obtain(ctx, "job", time.Minute); err != nil {
		t.Fatalf("expected expired lease to be taken over, got %v", err)
	}
	stale(ctx)

	if _, err := locker.Obtain(ctx, "job", time.Minute); !errors.Is(err, port.ErrLockNotObtained) {
		t.Errorf("stale release dropped the current lease, got %v", err)
	}
}
