package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"

	"github.com/rl1809/stock-reservation/internal/core/domain"
)

func newMockLedger(t *testing.T) (*MySQLLedger, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewMySQLLedger(db), mock
}

func TestMySQLLedger_ReadStock(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Now()

	mock.ExpectQuery("SELECT available, version, updated_at FROM stock_items").
		WithArgs("get-test-item").
		WillReturnRows(sqlmock.NewRows([]string{"available", "version", "updated_at"}).AddRow(50, 5, now))

	item, err := ledger.ReadStock(context.Background(), "get-test-item")
	if err != nil {
		t.Fatalf("ReadStock failed: %v", err)
	}
	if item.ItemID != "get-test-item" || item.Available != 50 || item.Version != 5 {
		t.Errorf("unexpected item %+v", item)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMySQLLedger_ReadStock_NotFound(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectQuery("SELECT available, version, updated_at FROM stock_items").
		WithArgs("nonexistent-item").
		WillReturnRows(sqlmock.NewRows([]string{"available", "version", "updated_at"}))

	_, err := ledger.ReadStock(context.Background(), "nonexistent-item")
	if !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got %v", err)
	}
}

func TestMySQLLedger_ReadStock_Unavailable(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectQuery("SELECT available, version, updated_at FROM stock_items").
		WillReturnError(errors.New("connection refused"))

	_, err := ledger.ReadStock(context.Background(), "item")
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestMySQLLedger_ConditionalDecrement_Success(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT version FROM stock_movements").
		WithArgs("o1", movementDecrement).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectExec("UPDATE stock_items").
		WithArgs(int64(3), sqlmock.AnyArg(), "A", int64(0), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT version FROM stock_movements").
		WithArgs("o1", movementVoid).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs("o1", movementDecrement, "A", int64(3), int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	version, err := ledger.ConditionalDecrement(context.Background(), domain.Decrement{OrderID: "o1", ItemID: "A", Quantity: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != 1 {
		t.Errorf("expected version 1, got %d", version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMySQLLedger_ConditionalDecrement_Replay(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT version FROM stock_movements").
		WithArgs("o1", movementDecrement).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(4))
	mock.ExpectRollback()

	version, err := ledger.ConditionalDecrement(context.Background(), domain.Decrement{OrderID: "o1", ItemID: "A", Quantity: 3, ExpectedVersion: 9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != 4 {
		t.Errorf("expected recorded version 4, got %d", version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMySQLLedger_ConditionalDecrement_Rejected(t *testing.T) {
	tests := []struct {
		name      string
		available int64
		version   int64
		want      error
	}{
		{"insufficient stock", 2, 0, domain.ErrInsufficientStock},
		{"optimistic lock", 10, 3, domain.ErrVersionConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, mock := newMockLedger(t)

			mock.ExpectBegin()
			mock.ExpectQuery("SELECT version FROM stock_movements").
				WillReturnRows(sqlmock.NewRows([]string{"version"}))
			mock.ExpectExec("UPDATE stock_items").
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery("SELECT available, version FROM stock_items").
				WithArgs("A").
				WillReturnRows(sqlmock.NewRows([]string{"available", "version"}).AddRow(tt.available, tt.version))
			mock.ExpectRollback()

			_, err := ledger.ConditionalDecrement(context.Background(), domain.Decrement{OrderID: "o1", ItemID: "A", Quantity: 3})
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestMySQLLedger_ConditionalDecrement_NotFound(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT version FROM stock_movements").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectExec("UPDATE stock_items").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT available, version FROM stock_items").
		WillReturnRows(sqlmock.NewRows([]string{"available", "version"}))
	mock.ExpectRollback()

	_, err := ledger.ConditionalDecrement(context.Background(), domain.Decrement{OrderID: "o1", ItemID: "missing", Quantity: 1})
	if !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got %v", err)
	}
}

func TestMySQLLedger_ConditionalDecrement_Voided(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT version FROM stock_movements").
		WithArgs("o1", movementDecrement).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectExec("UPDATE stock_items").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT version FROM stock_movements").
		WithArgs("o1", movementVoid).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(0))
	mock.ExpectRollback()

	_, err := ledger.ConditionalDecrement(context.Background(), domain.Decrement{OrderID: "o1", ItemID: "A", Quantity: 3})
	if !errors.Is(err, domain.ErrOrderVoided) {
		t.Errorf("expected ErrOrderVoided, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMySQLLedger_Restore(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT version FROM stock_items").
		WithArgs("A").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))
	mock.ExpectQuery("SELECT quantity FROM stock_movements").
		WithArgs("o1", movementDecrement).
		WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(3))
	mock.ExpectQuery("SELECT version FROM stock_movements").
		WithArgs("o1", movementRestore).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectExec("UPDATE stock_items").
		WithArgs(int64(3), sqlmock.AnyArg(), "A").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs("o1", movementRestore, "A", int64(3), int64(2), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := ledger.Restore(context.Background(), domain.Restoration{OrderID: "o1", ItemID: "A", Quantity: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Restored || res.Version != 2 {
		t.Errorf("expected restore at version 2, got %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMySQLLedger_Restore_NothingDecremented(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT version FROM stock_items").
		WithArgs("A").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(7))
	mock.ExpectQuery("SELECT quantity FROM stock_movements").
		WillReturnRows(sqlmock.NewRows([]string{"quantity"}))
	mock.ExpectQuery("SELECT version FROM stock_movements").
		WithArgs("ghost", movementVoid).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs("ghost", movementVoid, "A", int64(0), int64(7), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := ledger.Restore(context.Background(), domain.Restoration{OrderID: "ghost", ItemID: "A", Quantity: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Restored || res.Version != 7 {
		t.Errorf("expected no-op at version 7, got %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMySQLLedger_Restore_AlreadyVoided(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT version FROM stock_items").
		WithArgs("A").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(7))
	mock.ExpectQuery("SELECT quantity FROM stock_movements").
		WillReturnRows(sqlmock.NewRows([]string{"quantity"}))
	mock.ExpectQuery("SELECT version FROM stock_movements").
		WithArgs("ghost", movementVoid).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(7))
	mock.ExpectRollback()

	res, err := ledger.Restore(context.Background(), domain.Restoration{OrderID: "ghost", ItemID: "A", Quantity: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Restored {
		t.Errorf("expected no-op, got %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
