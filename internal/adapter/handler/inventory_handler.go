package handler

import (
	"context"

	"github.com/pkg/errors"

	"github.com/rl1809/stock-reservation/internal/adapter/handler/rpc"
	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/port"
	"github.com/rl1809/stock-reservation/internal/telemetry"
)

// InventoryHandler serves a local Inventory over gRPC.
type InventoryHandler struct {
	rpc.UnimplementedInventoryServiceServer
	inventory port.Inventory
}

func NewInventoryHandler(inventory port.Inventory) *InventoryHandler {
	return &InventoryHandler{inventory: inventory}
}

func (h *InventoryHandler) ReadStock(ctx context.Context, req *rpc.ReadStockRequest) (*rpc.StockItem, error) {
	item, err := h.inventory.ReadStock(ctx, req.ItemID)
	observe("ReadStock", err)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStockItem(item), nil
}

func (h *InventoryHandler) ConditionalDecrement(ctx context.Context, req *rpc.DecrementRequest) (*rpc.DecrementResponse, error) {
	version, err := h.inventory.ConditionalDecrement(ctx, domain.Decrement{
		OrderID:         req.OrderID,
		ItemID:          req.ItemID,
		Quantity:        req.Quantity,
		ExpectedVersion: req.ExpectedVersion,
	})
	observe("ConditionalDecrement", err)
	if err != nil {
		return nil, grpcError(err)
	}
	return &rpc.DecrementResponse{Version: version}, nil
}

func (h *InventoryHandler) Restore(ctx context.Context, req *rpc.RestoreRequest) (*rpc.RestoreResponse, error) {
	res, err := h.inventory.Restore(ctx, domain.Restoration{
		OrderID:  req.OrderID,
		ItemID:   req.ItemID,
		Quantity: req.Quantity,
	})
	observe("Restore", err)
	if err != nil {
		return nil, grpcError(err)
	}
	return &rpc.RestoreResponse{Version: res.Version, Restored: res.Restored}, nil
}

func (h *InventoryHandler) PutItem(ctx context.Context, req *rpc.PutItemRequest) (*rpc.StockItem, error) {
	item, err := h.inventory.PutItem(ctx, req.ItemID, req.Available)
	observe("PutItem", err)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStockItem(item), nil
}

func observe(method string, err error) {
	result := "ok"
	if err != nil {
		result = resultLabel(err)
	}
	telemetry.LedgerRequests.WithLabelValues(method, result).Inc()
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrItemNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient"
	case errors.Is(err, domain.ErrVersionConflict):
		return "conflict"
	case errors.Is(err, domain.ErrStorageUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func toStockItem(item domain.StockItem) *rpc.StockItem {
	return &rpc.StockItem{
		ItemID:    item.ItemID,
		Available: item.Available,
		Version:   item.Version,
		UpdatedAt: item.UpdatedAt,
	}
}
