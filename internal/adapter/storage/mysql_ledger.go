package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/rl1809/stock-reservation/internal/core/domain"
)

const (
	movementDecrement = "decrement"
	movementRestore   = "restore"
	movementVoid      = "void"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS stock_items (
	item_id    VARCHAR(64) NOT NULL PRIMARY KEY,
	available  BIGINT      NOT NULL,
	version    BIGINT      NOT NULL DEFAULT 0,
	updated_at DATETIME(3) NOT NULL,
	CHECK (available >= 0)
);
CREATE TABLE IF NOT EXISTS stock_movements (
	order_id   VARCHAR(64) NOT NULL,
	kind       VARCHAR(16) NOT NULL,
	item_id    VARCHAR(64) NOT NULL,
	quantity   BIGINT      NOT NULL,
	version    BIGINT      NOT NULL,
	created_at DATETIME(3) NOT NULL,
	PRIMARY KEY (order_id, kind)
);`

// MySQLLedger keeps stock rows in stock_items and journals every applied
// decrement and restore in stock_movements within the same transaction.
// Restore and ConditionalDecrement both hold the stock row lock while they
// read the journal, so they serialize per item.
type MySQLLedger struct {
	db  *sql.DB
	now func() time.Time
}

func NewMySQLLedger(db *sql.DB) *MySQLLedger {
	return &MySQLLedger{db: db, now: time.Now}
}

// EnsureSchema creates the ledger tables when missing. The DSN must allow
// multiStatements.
func (m *MySQLLedger) EnsureSchema(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, ledgerSchema); err != nil {
		return errors.Wrap(err, "create ledger schema")
	}
	return nil
}

func (m *MySQLLedger) ReadStock(ctx context.Context, itemID string) (domain.StockItem, error) {
	item := domain.StockItem{ItemID: itemID}
	err := m.db.QueryRowContext(ctx, `
		SELECT available, version, updated_at
		FROM stock_items WHERE item_id = ?`, itemID,
	).Scan(&item.Available, &item.Version, &item.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockItem{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.StockItem{}, domain.Unavailable("read stock", err)
	}
	return item, nil
}

func (m *MySQLLedger) ConditionalDecrement(ctx context.Context, d domain.Decrement) (int64, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.Unavailable("begin tx", err)
	}
	defer tx.Rollback()

	prior, found, err := movementVersion(ctx, tx, d.OrderID, movementDecrement, false)
	if err != nil {
		return 0, err
	}
	if found {
		return prior, nil
	}

	now := m.now()
	result, err := tx.ExecContext(ctx, `
		UPDATE stock_items
		SET available = available - ?, version = version + 1, updated_at = ?
		WHERE item_id = ? AND version = ? AND available >= ?`,
		d.Quantity, now, d.ItemID, d.ExpectedVersion, d.Quantity,
	)
	if err != nil {
		return 0, domain.Unavailable("update stock", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, domain.Unavailable("update stock", err)
	}
	if rows == 0 {
		return 0, diagnoseRejectedDecrement(ctx, tx, d)
	}

	// The row lock is held now, so a void marker committed by Restore is visible.
	_, voided, err := movementVersion(ctx, tx, d.OrderID, movementVoid, true)
	if err != nil {
		return 0, err
	}
	if voided {
		return 0, domain.ErrOrderVoided
	}

	newVersion := d.ExpectedVersion + 1
	if err := insertMovement(ctx, tx, d.OrderID, movementDecrement, d.ItemID, d.Quantity, newVersion, now); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, domain.Unavailable("commit decrement", err)
	}
	return newVersion, nil
}

func (m *MySQLLedger) Restore(ctx context.Context, r domain.Restoration) (domain.RestoreResult, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.RestoreResult{}, domain.Unavailable("begin tx", err)
	}
	defer tx.Rollback()

	version, err := lockItem(ctx, tx, r.ItemID)
	if err != nil {
		return domain.RestoreResult{}, err
	}

	var quantity int64
	err = tx.QueryRowContext(ctx, `
		SELECT quantity FROM stock_movements
		WHERE order_id = ? AND kind = ? FOR UPDATE`, r.OrderID, movementDecrement,
	).Scan(&quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return m.void(ctx, tx, r, version)
	}
	if err != nil {
		return domain.RestoreResult{}, domain.Unavailable("read decrement movement", err)
	}

	prior, found, err := movementVersion(ctx, tx, r.OrderID, movementRestore, true)
	if err != nil {
		return domain.RestoreResult{}, err
	}
	if found {
		return domain.RestoreResult{Version: prior, Restored: true}, nil
	}

	now := m.now()
	_, err = tx.ExecContext(ctx, `
		UPDATE stock_items
		SET available = available + ?, version = version + 1, updated_at = ?
		WHERE item_id = ?`,
		quantity, now, r.ItemID,
	)
	if err != nil {
		return domain.RestoreResult{}, domain.Unavailable("restore stock", err)
	}

	version++
	if err := insertMovement(ctx, tx, r.OrderID, movementRestore, r.ItemID, quantity, version, now); err != nil {
		return domain.RestoreResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.RestoreResult{}, domain.Unavailable("commit restore", err)
	}
	return domain.RestoreResult{Version: version, Restored: true}, nil
}

// void records that orderID had nothing to restore, so a decrement that
// lands afterwards is refused.
func (m *MySQLLedger) void(ctx context.Context, tx *sql.Tx, r domain.Restoration, version int64) (domain.RestoreResult, error) {
	_, found, err := movementVersion(ctx, tx, r.OrderID, movementVoid, true)
	if err != nil {
		return domain.RestoreResult{}, err
	}
	if found {
		return domain.RestoreResult{Version: version}, nil
	}
	if err := insertMovement(ctx, tx, r.OrderID, movementVoid, r.ItemID, 0, version, m.now()); err != nil {
		return domain.RestoreResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RestoreResult{}, domain.Unavailable("commit void", err)
	}
	return domain.RestoreResult{Version: version}, nil
}

func (m *MySQLLedger) GetItem(ctx context.Context, itemID string) (domain.StockItem, error) {
	return m.ReadStock(ctx, itemID)
}

func (m *MySQLLedger) PutItem(ctx context.Context, itemID string, available int64) (domain.StockItem, error) {
	if available < 0 {
		return domain.StockItem{}, domain.ErrInvalidRequest
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO stock_items (item_id, available, version, updated_at)
		VALUES (?, ?, 0, ?)
		ON DUPLICATE KEY UPDATE available = VALUES(available), version = version + 1, updated_at = VALUES(updated_at)`,
		itemID, available, m.now(),
	)
	if err != nil {
		return domain.StockItem{}, domain.Unavailable("put item", err)
	}
	return m.ReadStock(ctx, itemID)
}

func movementVersion(ctx context.Context, tx *sql.Tx, orderID, kind string, forUpdate bool) (int64, bool, error) {
	query := `SELECT version FROM stock_movements WHERE order_id = ? AND kind = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var version int64
	err := tx.QueryRowContext(ctx, query, orderID, kind).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, domain.Unavailable("read movement", err)
	}
	return version, true, nil
}

func insertMovement(ctx context.Context, tx *sql.Tx, orderID, kind, itemID string, quantity, version int64, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (order_id, kind, item_id, quantity, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		orderID, kind, itemID, quantity, version, at,
	)
	if err != nil {
		return domain.Unavailable("insert movement", err)
	}
	return nil
}

func lockItem(ctx context.Context, tx *sql.Tx, itemID string) (int64, error) {
	var version int64
	err := tx.QueryRowContext(ctx, `SELECT version FROM stock_items WHERE item_id = ? FOR UPDATE`, itemID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrItemNotFound
	}
	if err != nil {
		return 0, domain.Unavailable("lock item", err)
	}
	return version, nil
}

// diagnoseRejectedDecrement explains why the guarded UPDATE touched no rows.
func diagnoseRejectedDecrement(ctx context.Context, tx *sql.Tx, d domain.Decrement) error {
	var available, version int64
	err := tx.QueryRowContext(ctx, `
		SELECT available, version FROM stock_items WHERE item_id = ?`, d.ItemID,
	).Scan(&available, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrItemNotFound
	}
	if err != nil {
		return domain.Unavailable("diagnose decrement", err)
	}
	if version != d.ExpectedVersion {
		return domain.ErrVersionConflict
	}
	if available < d.Quantity {
		return domain.ErrInsufficientStock
	}
	// The row changed between the UPDATE and this read.
	return domain.ErrVersionConflict
}
