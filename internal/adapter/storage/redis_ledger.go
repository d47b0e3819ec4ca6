package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stock-reservation/internal/core/domain"
)

const (
	stockKeyPrefix = "stock:"
	journalTTL     = 7 * 24 * time.Hour
)

// Script status codes shared by the Lua scripts below.
const (
	scriptOK           = 1
	scriptNoop         = 0
	scriptAlready      = 2
	scriptNotFound     = -1
	scriptInsufficient = -2
	scriptConflict     = -3
	scriptVoided       = -4
)

var decrementStockScript = redis.NewScript(`
local key = KEYS[1]
local journal = KEYS[2]
local order_id = ARGV[1]
local quantity = tonumber(ARGV[2])
local expected = tonumber(ARGV[3])

if redis.call('EXISTS', key) == 0 then
	return {-1, 0}
end

local prior = redis.call('HGET', journal, 'dec:' .. order_id)
if prior then
	return {1, tonumber(prior)}
end

local version = tonumber(redis.call('HGET', key, 'version'))
if redis.call('HEXISTS', journal, 'void:' .. order_id) == 1 then
	return {-4, version}
end
if version ~= expected then
	return {-3, version}
end

local available = tonumber(redis.call('HGET', key, 'available'))
if available < quantity then
	return {-2, version}
end

redis.call('HINCRBY', key, 'available', -quantity)
version = redis.call('HINCRBY', key, 'version', 1)
redis.call('HSET', key, 'updated_at', ARGV[4])
redis.call('HSET', journal, 'dec:' .. order_id, version, 'qty:' .. order_id, quantity)
redis.call('EXPIRE', journal, tonumber(ARGV[5]))
return {1, version}
`)

var restoreStockScript = redis.NewScript(`
local key = KEYS[1]
local journal = KEYS[2]
local order_id = ARGV[1]

if redis.call('EXISTS', key) == 0 then
	return {-1, 0}
end

local version = tonumber(redis.call('HGET', key, 'version'))
local quantity = redis.call('HGET', journal, 'qty:' .. order_id)
if not quantity then
	redis.call('HSET', journal, 'void:' .. order_id, version)
	redis.call('EXPIRE', journal, tonumber(ARGV[3]))
	return {0, version}
end

local restored = redis.call('HGET', journal, 'res:' .. order_id)
if restored then
	return {2, tonumber(restored)}
end

redis.call('HINCRBY', key, 'available', tonumber(quantity))
version = redis.call('HINCRBY', key, 'version', 1)
redis.call('HSET', key, 'updated_at', ARGV[2])
redis.call('HSET', journal, 'res:' .. order_id, version)
return {1, version}
`)

var putStockScript = redis.NewScript(`
local key = KEYS[1]
local available = tonumber(ARGV[1])

if redis.call('EXISTS', key) == 0 then
	redis.call('HSET', key, 'available', available, 'version', 0, 'updated_at', ARGV[2])
	return {available, 0}
end

redis.call('HSET', key, 'available', available, 'updated_at', ARGV[2])
local version = redis.call('HINCRBY', key, 'version', 1)
return {available, version}
`)

// RedisLedger stores each item as a hash and its per-order journal in a
// sibling hash sharing the same hash tag, so both live in one slot.
type RedisLedger struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client, now: time.Now}
}

func stockKey(itemID string) string {
	return stockKeyPrefix + "{" + itemID + "}"
}

func stockJournalKey(itemID string) string {
	return stockKey(itemID) + ":journal"
}

func (r *RedisLedger) ReadStock(ctx context.Context, itemID string) (domain.StockItem, error) {
	fields, err := r.client.HGetAll(ctx, stockKey(itemID)).Result()
	if err != nil {
		return domain.StockItem{}, domain.Unavailable("read stock", err)
	}
	if len(fields) == 0 {
		return domain.StockItem{}, domain.ErrItemNotFound
	}
	return parseStockHash(itemID, fields)
}

func (r *RedisLedger) ConditionalDecrement(ctx context.Context, d domain.Decrement) (int64, error) {
	keys := []string{stockKey(d.ItemID), stockJournalKey(d.ItemID)}
	res, err := decrementStockScript.Run(ctx, r.client, keys,
		d.OrderID, d.Quantity, d.ExpectedVersion,
		r.now().UnixMilli(), int64(journalTTL.Seconds()),
	).Int64Slice()
	if err != nil {
		return 0, domain.Unavailable("conditional decrement", err)
	}
	if len(res) != 2 {
		return 0, errors.Errorf("decrement script: unexpected reply %v", res)
	}

	switch res[0] {
	case scriptOK:
		return res[1], nil
	case scriptNotFound:
		return 0, domain.ErrItemNotFound
	case scriptInsufficient:
		return 0, domain.ErrInsufficientStock
	case scriptConflict:
		return 0, domain.ErrVersionConflict
	case scriptVoided:
		return 0, domain.ErrOrderVoided
	default:
		return 0, errors.Errorf("decrement script: unknown status %d", res[0])
	}
}

func (r *RedisLedger) Restore(ctx context.Context, rs domain.Restoration) (domain.RestoreResult, error) {
	keys := []string{stockKey(rs.ItemID), stockJournalKey(rs.ItemID)}
	res, err := restoreStockScript.Run(ctx, r.client, keys,
		rs.OrderID, r.now().UnixMilli(), int64(journalTTL.Seconds()),
	).Int64Slice()
	if err != nil {
		return domain.RestoreResult{}, domain.Unavailable("restore", err)
	}
	if len(res) != 2 {
		return domain.RestoreResult{}, errors.Errorf("restore script: unexpected reply %v", res)
	}

	switch res[0] {
	case scriptOK, scriptAlready:
		return domain.RestoreResult{Version: res[1], Restored: true}, nil
	case scriptNoop:
		return domain.RestoreResult{Version: res[1]}, nil
	case scriptNotFound:
		return domain.RestoreResult{}, domain.ErrItemNotFound
	default:
		return domain.RestoreResult{}, errors.Errorf("restore script: unknown status %d", res[0])
	}
}

func (r *RedisLedger) GetItem(ctx context.Context, itemID string) (domain.StockItem, error) {
	return r.ReadStock(ctx, itemID)
}

func (r *RedisLedger) PutItem(ctx context.Context, itemID string, available int64) (domain.StockItem, error) {
	if available < 0 {
		return domain.StockItem{}, domain.ErrInvalidRequest
	}

	now := r.now()
	res, err := putStockScript.Run(ctx, r.client, []string{stockKey(itemID)}, available, now.UnixMilli()).Int64Slice()
	if err != nil {
		return domain.StockItem{}, domain.Unavailable("put item", err)
	}
	if len(res) != 2 {
		return domain.StockItem{}, errors.Errorf("put script: unexpected reply %v", res)
	}

	return domain.StockItem{
		ItemID:    itemID,
		Available: res[0],
		Version:   res[1],
		UpdatedAt: time.UnixMilli(now.UnixMilli()),
	}, nil
}

func parseStockHash(itemID string, fields map[string]string) (domain.StockItem, error) {
	available, err := strconv.ParseInt(fields["available"], 10, 64)
	if err != nil {
		return domain.StockItem{}, errors.Wrapf(err, "parse available for %s", itemID)
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return domain.StockItem{}, errors.Wrapf(err, "parse version for %s", itemID)
	}

	item := domain.StockItem{ItemID: itemID, Available: available, Version: version}
	if ms, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		item.UpdatedAt = time.UnixMilli(ms)
	}
	return item, nil
}
