package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/port"
	"github.com/rl1809/stock-reservation/internal/telemetry"
)

var tracer = otel.Tracer("github.com/rl1809/stock-reservation/internal/core/service")

const defaultPublishTimeout = 2 * time.Second

type ReservationConfig struct {
	// MaxConflictRetries bounds restarts after a version conflict.
	MaxConflictRetries int
	// MaxStorageRetries bounds retries of a single storage call.
	MaxStorageRetries int
	Backoff           Backoff
	// PublishTimeout bounds the best-effort event publish after a commit.
	PublishTimeout time.Duration
}

func DefaultReservationConfig() ReservationConfig {
	return ReservationConfig{
		MaxConflictRetries: 3,
		MaxStorageRetries:  3,
		Backoff:            Backoff{Base: 5 * time.Millisecond, Max: 100 * time.Millisecond},
		PublishTimeout:     defaultPublishTimeout,
	}
}

// ReservationService runs the check-and-decrement protocol for each order.
type ReservationService struct {
	ledger      port.StockLedger
	orders      port.OrderLog
	compensator *CompensationController
	events      port.EventPublisher
	cfg         ReservationConfig
	inflight    singleflight.Group
	now         func() time.Time
}

func NewReservationService(
	ledger port.StockLedger,
	orders port.OrderLog,
	compensator *CompensationController,
	events port.EventPublisher,
	cfg ReservationConfig,
) *ReservationService {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	return &ReservationService{
		ledger:      ledger,
		orders:      orders,
		compensator: compensator,
		events:      events,
		cfg:         cfg,
		now:         time.Now,
	}
}

// reservation is the per-order protocol state.
type reservation struct {
	req     domain.OrderRequest
	state   State
	claimed bool
	logger  zerolog.Logger
	span    trace.Span
}

func (r *reservation) to(next State) {
	if !r.state.CanTransition(next) {
		r.logger.Error().Str("from", r.state.String()).Str("to", next.String()).Msg("illegal protocol transition")
	}
	r.logger.Debug().Str("from", r.state.String()).Str("to", next.String()).Msg("transition")
	r.span.AddEvent("state." + next.String())
	r.state = next
}

// PlaceOrder runs the protocol for req. An empty OrderID is assigned.
// Known failure modes are reported through the Outcome; the error is only
// set for invalid input or a reused order id with different contents.
func (s *ReservationService) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Outcome, error) {
	if req.OrderID == "" {
		req.OrderID = uuid.NewString()
	}
	if err := req.Validate(); err != nil {
		return domain.Outcome{}, err
	}

	v, err, _ := s.inflight.Do(req.OrderID, func() (interface{}, error) {
		return s.reserve(ctx, req)
	})
	if err != nil {
		return domain.Outcome{}, err
	}
	return v.(domain.Outcome), nil
}

// GetOrder returns the stored record for orderID.
func (s *ReservationService) GetOrder(ctx context.Context, orderID string) (domain.OrderRecord, error) {
	return s.orders.Get(ctx, orderID)
}

func (s *ReservationService) reserve(callerCtx context.Context, req domain.OrderRequest) (out domain.Outcome, err error) {
	start := s.now()
	ctx, span := tracer.Start(callerCtx, "reservation.PlaceOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("item.id", req.ItemID),
		attribute.Int64("item.quantity", req.Quantity),
	)

	r := &reservation{
		req:    req,
		state:  StateStart,
		logger: log.With().Str("order_id", req.OrderID).Str("item_id", req.ItemID).Logger(),
		span:   span,
	}

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		span.SetAttributes(attribute.String("outcome", string(out.Kind)), attribute.String("reason", string(out.Reason)))
		telemetry.ReservationOutcomes.WithLabelValues(string(out.Kind), string(out.Reason)).Inc()
		telemetry.ReservationDuration.Observe(time.Since(start).Seconds())
	}()

	if prior, found, err := s.replay(ctx, r); err != nil || found {
		return prior, err
	}

	var version int64
	for attempt := 1; ; attempt++ {
		// Start -> Quoted
		item, err := s.readStock(ctx, r)
		switch {
		case errors.Is(err, domain.ErrItemNotFound):
			return s.reject(ctx, r, domain.ReasonUnknownItem), nil
		case err != nil:
			return s.reject(ctx, r, domain.ReasonStorageUnavailable), nil
		}
		r.to(StateQuoted)

		// A rejected order never touches the ledger.
		if req.Quantity > item.Available {
			return s.reject(ctx, r, domain.ReasonInsufficientStock), nil
		}

		if !r.claimed {
			prior, done, err := s.claim(ctx, r)
			if err != nil || done {
				return prior, err
			}
		}

		// Quoted -> Decremented
		version, err = s.decrement(ctx, r, item.Version)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrVersionConflict):
			if attempt > s.cfg.MaxConflictRetries {
				return s.reject(ctx, r, domain.ReasonContention), nil
			}
			telemetry.ReservationRetries.WithLabelValues("version_conflict").Inc()
			r.logger.Debug().Int("attempt", attempt).Msg("version conflict, retrying from start")
			if err := sleep(ctx, s.cfg.Backoff.Delay(attempt)); err != nil {
				return s.reject(ctx, r, domain.ReasonContention), nil
			}
			r.to(StateStart)
			continue
		case errors.Is(err, domain.ErrInsufficientStock):
			return s.reject(ctx, r, domain.ReasonInsufficientStock), nil
		case errors.Is(err, domain.ErrItemNotFound):
			return s.reject(ctx, r, domain.ReasonUnknownItem), nil
		case errors.Is(err, domain.ErrOrderVoided):
			// Compensation already closed this order id.
			return s.reject(ctx, r, domain.ReasonStorageUnavailable), nil
		default:
			// The decrement may or may not have landed.
			r.logger.Warn().Err(err).Msg("decrement outcome unknown, compensating")
			return s.compensate(callerCtx, r), nil
		}
		break
	}
	r.to(StateDecremented)

	// Past the decrement the protocol must reach a terminal state even if
	// the caller goes away.
	durable := context.WithoutCancel(ctx)

	// Decremented -> Recorded
	err = s.withStorageRetry(durable, func() error {
		return s.orders.Transition(durable, req.OrderID, domain.OrderStatusPending, domain.OrderStatusCommitted, domain.ReasonNone)
	})
	if err != nil {
		r.logger.Warn().Err(err).Int64("version", version).Msg("commit failed after decrement, compensating")
		return s.compensate(callerCtx, r), nil
	}
	r.to(StateRecorded)
	r.logger.Info().Int64("version", version).Int64("quantity", req.Quantity).Msg("order committed")

	publish(durable, s.events, s.cfg.PublishTimeout, domain.OrderRecord{OrderID: req.OrderID, ItemID: req.ItemID, Quantity: req.Quantity}, domain.OrderStatusCommitted)
	return domain.Committed(req.OrderID), nil
}

// replay short-circuits when orderID already has a record.
func (s *ReservationService) replay(ctx context.Context, r *reservation) (domain.Outcome, bool, error) {
	var record domain.OrderRecord
	err := s.withStorageRetry(ctx, func() error {
		var err error
		record, err = s.orders.Get(ctx, r.req.OrderID)
		return err
	})
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return domain.Outcome{}, false, nil
	case err != nil:
		r.logger.Warn().Err(err).Msg("order log unavailable before claim")
		return s.reject(ctx, r, domain.ReasonStorageUnavailable), true, nil
	}
	return s.replayed(r, record)
}

func (s *ReservationService) replayed(r *reservation, record domain.OrderRecord) (domain.Outcome, bool, error) {
	if record.ItemID != r.req.ItemID || record.Quantity != r.req.Quantity {
		return domain.Outcome{}, true, errors.Wrapf(domain.ErrDuplicateOrder, "order %s was placed for %d x %s", record.OrderID, record.Quantity, record.ItemID)
	}
	out := record.Outcome()
	out.Replayed = true
	r.span.AddEvent("replayed")
	r.logger.Info().Str("status", string(record.Status)).Msg("replaying existing order")
	return out, true, nil
}

// claim appends the Pending record that owns orderID for this attempt.
func (s *ReservationService) claim(ctx context.Context, r *reservation) (domain.Outcome, bool, error) {
	record := domain.NewPendingRecord(r.req, s.now().UTC())
	err := s.withStorageRetry(ctx, func() error {
		return s.orders.Append(ctx, record)
	})
	switch {
	case err == nil:
		r.claimed = true
		return domain.Outcome{}, false, nil
	case errors.Is(err, domain.ErrDuplicateOrder):
		existing, getErr := s.orders.Get(ctx, r.req.OrderID)
		if getErr != nil {
			return domain.InProgress(r.req.OrderID), true, nil
		}
		return s.replayed(r, existing)
	default:
		r.logger.Warn().Err(err).Msg("could not claim order id")
		return s.reject(ctx, r, domain.ReasonStorageUnavailable), true, nil
	}
}

func (s *ReservationService) readStock(ctx context.Context, r *reservation) (domain.StockItem, error) {
	var item domain.StockItem
	err := s.withStorageRetry(ctx, func() error {
		var err error
		item, err = s.ledger.ReadStock(ctx, r.req.ItemID)
		return err
	})
	return item, err
}

// decrement retries transport failures with the same order id and version;
// the ledger journal makes a repeated decrement a replay.
func (s *ReservationService) decrement(ctx context.Context, r *reservation, expectedVersion int64) (int64, error) {
	var version int64
	err := s.withStorageRetry(ctx, func() error {
		var err error
		version, err = s.ledger.ConditionalDecrement(ctx, domain.Decrement{
			OrderID:         r.req.OrderID,
			ItemID:          r.req.ItemID,
			Quantity:        r.req.Quantity,
			ExpectedVersion: expectedVersion,
		})
		return err
	})
	return version, err
}

func (s *ReservationService) reject(ctx context.Context, r *reservation, reason domain.RejectReason) domain.Outcome {
	r.to(StateRejected)
	r.logger.Info().Str("reason", string(reason)).Msg("order rejected")

	if r.claimed {
		ctx := context.WithoutCancel(ctx)
		err := s.withStorageRetry(ctx, func() error {
			return s.orders.Transition(ctx, r.req.OrderID, domain.OrderStatusPending, domain.OrderStatusFailed, reason)
		})
		if err != nil {
			// Left Pending; the reconciler will close it.
			r.logger.Warn().Err(err).Msg("could not record rejection")
		}
	}
	return domain.Rejected(r.req.OrderID, reason)
}

// compensate hands the order to the controller and waits for it, or for
// the caller to leave, whichever comes first.
func (s *ReservationService) compensate(callerCtx context.Context, r *reservation) domain.Outcome {
	r.to(StateCompensating)
	done := s.compensator.Submit(domain.NewPendingRecord(r.req, s.now().UTC()))

	select {
	case out := <-done:
		switch out.Kind {
		case domain.OutcomeCompensated:
			r.to(StateCompensated)
		case domain.OutcomeCommitted:
			r.to(StateRecorded)
		case domain.OutcomeRejected:
			r.to(StateRejected)
		}
		return out
	case <-callerCtx.Done():
		r.logger.Info().Msg("caller left during compensation, continuing in background")
		return domain.InProgress(r.req.OrderID)
	}
}

func (s *ReservationService) withStorageRetry(ctx context.Context, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, domain.ErrStorageUnavailable) || attempt > s.cfg.MaxStorageRetries {
			return err
		}
		telemetry.ReservationRetries.WithLabelValues("storage_unavailable").Inc()
		if ctxErr := sleep(ctx, s.cfg.Backoff.Delay(attempt)); ctxErr != nil {
			return err
		}
	}
}
