package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/port"
	"github.com/rl1809/stock-reservation/internal/telemetry"
)

const reconcilerLockKey = "reconciler"

type ReconcilerConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
	LockTTL    time.Duration
}

// Reconciler closes Pending orders left behind by crashed or abandoned
// attempts by running them through compensation.
type Reconciler struct {
	orders      port.OrderLog
	compensator *CompensationController
	locker      port.Locker
	cfg         ReconcilerConfig
	now         func() time.Time
}

func NewReconciler(orders port.OrderLog, compensator *CompensationController, locker port.Locker, cfg ReconcilerConfig) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	return &Reconciler{
		orders:      orders,
		compensator: compensator,
		locker:      locker,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Run sweeps every Interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				log.Warn().Err(err).Msg("reconciler sweep failed")
			}
		}
	}
}

// Sweep resolves one batch of stale Pending orders and returns how many
// reached a terminal status.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	release, err := r.locker.Obtain(ctx, reconcilerLockKey, r.cfg.LockTTL)
	if errors.Is(err, port.ErrLockNotObtained) {
		log.Debug().Msg("reconciler lock held elsewhere, skipping sweep")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("failed to release reconciler lock")
		}
	}()

	stale, err := r.orders.ListPending(ctx, r.now().Add(-r.cfg.StaleAfter), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	telemetry.ReconcilerStalePending.Set(float64(len(stale)))
	if len(stale) == 0 {
		return 0, nil
	}
	log.Warn().Int("count", len(stale)).Msg("reconciling stale pending orders")

	resolved := 0
	for _, record := range stale {
		select {
		case out := <-r.compensator.Submit(record):
			if out.Kind != domain.OutcomeInProgress {
				resolved++
			}
			log.Info().Str("order_id", record.OrderID).Str("outcome", string(out.Kind)).Msg("stale order reconciled")
		case <-ctx.Done():
			return resolved, ctx.Err()
		}
	}
	return resolved, nil
}
