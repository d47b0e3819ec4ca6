package client

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stock-reservation/internal/adapter/handler/rpc"
	"github.com/rl1809/stock-reservation/internal/core/domain"
)

// RemoteLedger is a StockLedger and Catalog served by the inventory service.
type RemoteLedger struct {
	client  rpc.InventoryServiceClient
	timeout time.Duration
}

func NewRemoteLedger(client rpc.InventoryServiceClient, timeout time.Duration) *RemoteLedger {
	return &RemoteLedger{client: client, timeout: timeout}
}

// Dial connects to the inventory service at addr.
func Dial(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(rpc.CallOption()),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "dial inventory %s", addr)
	}
	return conn, nil
}

func (l *RemoteLedger) ReadStock(ctx context.Context, itemID string) (domain.StockItem, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	resp, err := l.client.ReadStock(ctx, &rpc.ReadStockRequest{ItemID: itemID})
	if err != nil {
		return domain.StockItem{}, fromStatus("read stock", err)
	}
	return toDomainItem(resp), nil
}

func (l *RemoteLedger) GetItem(ctx context.Context, itemID string) (domain.StockItem, error) {
	return l.ReadStock(ctx, itemID)
}

// ConditionalDecrement reports a timeout as ErrStorageUnavailable: the
// decrement may have landed and the caller must retry with the same order id.
func (l *RemoteLedger) ConditionalDecrement(ctx context.Context, d domain.Decrement) (int64, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	resp, err := l.client.ConditionalDecrement(ctx, &rpc.DecrementRequest{
		OrderID:         d.OrderID,
		ItemID:          d.ItemID,
		Quantity:        d.Quantity,
		ExpectedVersion: d.ExpectedVersion,
	})
	if err != nil {
		return 0, fromStatus("conditional decrement", err)
	}
	return resp.Version, nil
}

func (l *RemoteLedger) Restore(ctx context.Context, r domain.Restoration) (domain.RestoreResult, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	resp, err := l.client.Restore(ctx, &rpc.RestoreRequest{
		OrderID:  r.OrderID,
		ItemID:   r.ItemID,
		Quantity: r.Quantity,
	})
	if err != nil {
		return domain.RestoreResult{}, fromStatus("restore", err)
	}
	return domain.RestoreResult{Version: resp.Version, Restored: resp.Restored}, nil
}

func (l *RemoteLedger) PutItem(ctx context.Context, itemID string, available int64) (domain.StockItem, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	resp, err := l.client.PutItem(ctx, &rpc.PutItemRequest{ItemID: itemID, Available: available})
	if err != nil {
		return domain.StockItem{}, fromStatus("put item", err)
	}
	return toDomainItem(resp), nil
}

func (l *RemoteLedger) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.timeout)
}

// fromStatus maps a gRPC status back to the domain error taxonomy.
func fromStatus(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return domain.Unavailable(op, err)
	}
	switch st.Code() {
	case codes.NotFound:
		return errors.Wrap(domain.ErrItemNotFound, st.Message())
	case codes.FailedPrecondition:
		return errors.Wrap(domain.ErrInsufficientStock, st.Message())
	case codes.Aborted:
		return errors.Wrap(domain.ErrVersionConflict, st.Message())
	case codes.AlreadyExists:
		// The inventory service only reports this for a voided order.
		return errors.Wrap(domain.ErrOrderVoided, st.Message())
	case codes.InvalidArgument:
		return errors.Wrap(domain.ErrInvalidRequest, st.Message())
	default:
		return domain.Unavailable(op, err)
	}
}

func toDomainItem(item *rpc.StockItem) domain.StockItem {
	return domain.StockItem{
		ItemID:    item.ItemID,
		Available: item.Available,
		Version:   item.Version,
		UpdatedAt: item.UpdatedAt,
	}
}
