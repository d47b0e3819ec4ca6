package handler

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stock-reservation/internal/adapter/handler/rpc"
	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/core/service"
)

type GRPCHandler struct {
	rpc.UnimplementedOrderServiceServer
	reservations *service.ReservationService
}

func NewGRPCHandler(reservations *service.ReservationService) *GRPCHandler {
	return &GRPCHandler{reservations: reservations}
}

// PlaceOrder answers every final outcome in the response. An order that is
// still being resolved returns Aborted so the caller retries with the same id.
func (h *GRPCHandler) PlaceOrder(ctx context.Context, req *rpc.PlaceOrderRequest) (*rpc.PlaceOrderResponse, error) {
	out, err := h.reservations.PlaceOrder(ctx, domain.OrderRequest{
		OrderID:  req.OrderID,
		ItemID:   req.ItemID,
		Quantity: req.Quantity,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	if out.Kind == domain.OutcomeInProgress {
		return nil, status.Errorf(codes.Aborted, "%s: %s", domain.ErrOrderInFlight, out.OrderID)
	}

	return &rpc.PlaceOrderResponse{
		OrderID:  out.OrderID,
		Status:   string(out.Kind),
		Reason:   string(out.Reason),
		Replayed: out.Replayed,
	}, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *rpc.GetOrderRequest) (*rpc.Order, error) {
	if req.OrderID == "" {
		return nil, grpcError(domain.ErrInvalidRequest)
	}
	record, err := h.reservations.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &rpc.Order{
		OrderID:   record.OrderID,
		ItemID:    record.ItemID,
		Quantity:  record.Quantity,
		Status:    string(record.Status),
		Reason:    string(record.Reason),
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}, nil
}
