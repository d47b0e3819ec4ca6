package rpc

import "time"

type PlaceOrderRequest struct {
	OrderID  string `json:"order_id,omitempty"`
	ItemID   string `json:"item_id"`
	Quantity int64  `json:"quantity"`
}

type PlaceOrderResponse struct {
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Replayed bool   `json:"replayed,omitempty"`
}

type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

type Order struct {
	OrderID   string    `json:"order_id"`
	ItemID    string    `json:"item_id"`
	Quantity  int64     `json:"quantity"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ReadStockRequest struct {
	ItemID string `json:"item_id"`
}

type StockItem struct {
	ItemID    string    `json:"item_id"`
	Available int64     `json:"available"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DecrementRequest struct {
	OrderID         string `json:"order_id"`
	ItemID          string `json:"item_id"`
	Quantity        int64  `json:"quantity"`
	ExpectedVersion int64  `json:"expected_version"`
}

type DecrementResponse struct {
	Version int64 `json:"version"`
}

type RestoreRequest struct {
	OrderID  string `json:"order_id"`
	ItemID   string `json:"item_id"`
	Quantity int64  `json:"quantity"`
}

type RestoreResponse struct {
	Version  int64 `json:"version"`
	Restored bool  `json:"restored"`
}

type PutItemRequest struct {
	ItemID    string `json:"item_id"`
	Available int64  `json:"available"`
}
