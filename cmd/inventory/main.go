package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/stock-reservation/internal/adapter/handler"
	"github.com/rl1809/stock-reservation/internal/adapter/handler/rpc"
	"github.com/rl1809/stock-reservation/internal/bootstrap"
	"github.com/rl1809/stock-reservation/internal/config"
	"github.com/rl1809/stock-reservation/internal/telemetry"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Ledger.Backend == "remote" {
		log.Fatal().Msg("inventory service needs a local ledger backend")
	}
	telemetry.InitLogger(cfg.Service.Name, cfg.Service.LogLevel)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("inventory stopped with error")
	}
	log.Info().Msg("inventory stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The inventory service only serves the ledger.
	cfg.OrderLog.Backend = "memory"
	cfg.Events.Backend = "none"

	backends, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	if err := bootstrap.Seed(ctx, backends.Inventory, cfg.Seed); err != nil {
		return err
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryInterceptor))
	rpc.RegisterInventoryServiceServer(grpcServer, handler.NewInventoryHandler(backends.Inventory))
	lis, err := net.Listen("tcp", cfg.Service.GRPCAddr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.Service.GRPCAddr)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Service.GRPCAddr).Str("backend", cfg.Ledger.Backend).Msg("inventory gRPC server listening")
		return grpcServer.Serve(lis)
	})

	var metricsServer *http.Server
	if cfg.Service.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Service.HTTPAddr, Handler: mux}
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
		defer cancel()
		if metricsServer != nil {
			metricsServer.Shutdown(shutdownCtx)
		}
		grpcServer.GracefulStop()
		return nil
	})

	return g.Wait()
}
