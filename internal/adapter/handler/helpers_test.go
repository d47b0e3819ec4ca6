package handler

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/stock-reservation/internal/adapter/handler/rpc"
	"github.com/rl1809/stock-reservation/internal/adapter/storage"
	"github.com/rl1809/stock-reservation/internal/core/service"
)

func newTestStack(t *testing.T, stock map[string]int64) (*service.ReservationService, *storage.MemoryLedger) {
	t.Helper()
	ledger := storage.NewMemoryLedger()
	for id, qty := range stock {
		if _, err := ledger.PutItem(context.Background(), id, qty); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	orders := storage.NewMemoryOrderLog()

	backoff := service.Backoff{Base: time.Microsecond, Max: 10 * time.Microsecond}
	ctrl := service.NewCompensationController(ledger, orders, nil, service.CompensationConfig{
		Workers: 1, QueueSize: 8, Backoff: backoff, AlertAfter: 3,
	})
	ctrl.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		ctrl.Shutdown(ctx)
	})

	svc := service.NewReservationService(ledger, orders, ctrl, nil, service.ReservationConfig{
		MaxConflictRetries: 3, MaxStorageRetries: 1, Backoff: backoff,
	})
	return svc, ledger
}

// startGRPC serves register on an in-memory listener and returns a client
// connection to it.
func startGRPC(t *testing.T, register func(*grpc.Server)) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryInterceptor))
	register(srv)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(rpc.CallOption()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}
