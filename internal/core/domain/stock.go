package domain

import "time"

// StockItem is the ledger's view of one item. Version increments on every
// successful decrement or restore.
type StockItem struct {
	ItemID    string
	Available int64
	Version   int64
	UpdatedAt time.Time
}

// Decrement is a conditional decrement issued on behalf of one order.
type Decrement struct {
	OrderID         string
	ItemID          string
	Quantity        int64
	ExpectedVersion int64
}

// Restoration gives back the stock an order's decrement took.
type Restoration struct {
	OrderID  string
	ItemID   string
	Quantity int64
}

// RestoreResult reports the state of an order's stock after a restore.
// Restored is true once the order's decrement has been given back, by this
// call or an earlier one, and false if the order never decremented.
type RestoreResult struct {
	Version  int64
	Restored bool
}
