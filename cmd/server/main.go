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
	"github.com/rl1809/stock-reservation/internal/core/service"
	"github.com/rl1809/stock-reservation/internal/telemetry"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	telemetry.InitLogger(cfg.Service.Name, cfg.Service.LogLevel)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("server stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracerProvider(cfg.Service.Name, cfg.Tracing.JaegerEndpoint)
	if err != nil {
		return errors.Wrap(err, "init tracer")
	}

	backends, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	if err := bootstrap.Seed(ctx, backends.Inventory, cfg.Seed); err != nil {
		return err
	}

	compensator := service.NewCompensationController(backends.Inventory, backends.Orders, backends.Events, service.CompensationConfig{
		Workers:        cfg.Compensation.Workers,
		QueueSize:      cfg.Compensation.QueueSize,
		AlertAfter:     cfg.Compensation.AlertAfter,
		Backoff:        service.Backoff{Base: cfg.Compensation.BackoffBase, Max: cfg.Compensation.BackoffMax},
		PublishTimeout: cfg.Events.PublishTimeout,
	})
	compensator.Start()

	reservations := service.NewReservationService(backends.Inventory, backends.Orders, compensator, backends.Events, service.ReservationConfig{
		MaxConflictRetries: cfg.Reservation.MaxConflictRetries,
		MaxStorageRetries:  cfg.Reservation.MaxStorageRetries,
		Backoff:            service.Backoff{Base: cfg.Reservation.BackoffBase, Max: cfg.Reservation.BackoffMax},
		PublishTimeout:     cfg.Events.PublishTimeout,
	})

	// gRPC
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryInterceptor))
	rpc.RegisterOrderServiceServer(grpcServer, handler.NewGRPCHandler(reservations))
	lis, err := net.Listen("tcp", cfg.Service.GRPCAddr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.Service.GRPCAddr)
	}

	// HTTP
	mux := http.NewServeMux()
	handler.NewHTTPHandler(reservations, backends.Inventory).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	httpServer := &http.Server{Addr: cfg.Service.HTTPAddr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Service.GRPCAddr).Msg("gRPC server listening")
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.Service.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Reconciler.Enabled {
		reconciler := service.NewReconciler(backends.Orders, compensator, backends.Locker, service.ReconcilerConfig{
			Interval:   cfg.Reconciler.Interval,
			StaleAfter: cfg.Reconciler.StaleAfter,
			BatchSize:  cfg.Reconciler.BatchSize,
		})
		g.Go(func() error { return reconciler.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown")
		}
		log.Info().Msg("HTTP server stopped")

		grpcServer.GracefulStop()
		log.Info().Msg("gRPC server stopped")

		// In-flight orders may still hand work to the compensator, so it
		// drains after the front doors close.
		if err := compensator.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("compensation did not drain, pending orders left for the reconciler")
		}
		log.Info().Msg("compensation workers stopped")

		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown")
		}
		return nil
	})

	return g.Wait()
}
