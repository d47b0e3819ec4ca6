package service

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/port"
	"github.com/rl1809/stock-reservation/internal/telemetry"
)

type CompensationConfig struct {
	Workers   int
	QueueSize int
	Backoff   Backoff
	// AlertAfter is the attempt count at which a still-failing step is
	// escalated as an alert. Retries continue afterwards.
	AlertAfter     int
	PublishTimeout time.Duration
}

type compensationTask struct {
	record domain.OrderRecord
	done   chan domain.Outcome
}

// CompensationController drives orders whose decrement may have happened
// but whose record never reached a terminal status. Tasks run on the
// controller's own context, so a departed caller never cancels them.
type CompensationController struct {
	ledger port.StockLedger
	orders port.OrderLog
	events port.EventPublisher
	cfg    CompensationConfig

	queue  chan compensationTask
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewCompensationController(ledger port.StockLedger, orders port.OrderLog, events port.EventPublisher, cfg CompensationConfig) *CompensationController {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.AlertAfter <= 0 {
		cfg.AlertAfter = 5
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &CompensationController{
		ledger: ledger,
		orders: orders,
		events: events,
		cfg:    cfg,
		queue:  make(chan compensationTask, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker pool.
func (c *CompensationController) Start() {
	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go func(id int) {
			defer c.wg.Done()
			c.workerLoop(id)
		}(i)
	}
	log.Info().Int("workers", c.cfg.Workers).Msg("compensation workers started")
}

// Submit queues record for compensation. The returned channel receives the
// final outcome exactly once.
func (c *CompensationController) Submit(record domain.OrderRecord) <-chan domain.Outcome {
	task := compensationTask{record: record, done: make(chan domain.Outcome, 1)}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		// The record stays Pending and the reconciler compensates it.
		log.Warn().Str("order_id", record.OrderID).Msg("compensation submitted after shutdown, leaving to reconciler")
		task.done <- domain.InProgress(record.OrderID)
		return task.done
	}

	select {
	case c.queue <- task:
	case <-c.ctx.Done():
		task.done <- domain.InProgress(record.OrderID)
	}
	return task.done
}

// Shutdown stops accepting queued work and waits for in-flight tasks. When
// ctx expires first the remaining retries are abandoned; their records stay
// Pending for the reconciler.
func (c *CompensationController) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	c.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-drained
		return errors.Wrap(ctx.Err(), "compensation drain")
	}
}

func (c *CompensationController) workerLoop(id int) {
	for task := range c.queue {
		out := c.compensate(c.ctx, task.record)
		log.Debug().Int("worker", id).Str("order_id", task.record.OrderID).Str("outcome", string(out.Kind)).Msg("compensation finished")
		task.done <- out
	}
}

func (c *CompensationController) compensate(ctx context.Context, record domain.OrderRecord) domain.Outcome {
	ctx, span := tracer.Start(ctx, "compensation.Compensate")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", record.OrderID), attribute.String("item.id", record.ItemID))

	logger := log.With().Str("order_id", record.OrderID).Str("item_id", record.ItemID).Logger()

	// A commit whose acknowledgement was lost may already be durable.
	if current, err := c.orders.Get(ctx, record.OrderID); err == nil && current.Status.Terminal() {
		logger.Info().Str("status", string(current.Status)).Msg("order already terminal, nothing to compensate")
		return current.Outcome()
	}

	res, err := c.restore(ctx, logger, record)
	if err != nil {
		return domain.InProgress(record.OrderID)
	}

	status, reason := domain.OrderStatusCompensated, domain.ReasonNone
	if !res.Restored {
		// The decrement never landed, so there is nothing to give back.
		status, reason = domain.OrderStatusFailed, domain.ReasonStorageUnavailable
	}

	out, err := c.finalize(ctx, logger, record, status, reason)
	if err != nil {
		return domain.InProgress(record.OrderID)
	}
	if out.Kind == domain.OutcomeCompensated {
		publish(ctx, c.events, c.cfg.PublishTimeout, record, domain.OrderStatusCompensated)
	}
	return out
}

// restore retries until the ledger answers or the controller stops.
func (c *CompensationController) restore(ctx context.Context, logger zerolog.Logger, record domain.OrderRecord) (domain.RestoreResult, error) {
	restoration := domain.Restoration{OrderID: record.OrderID, ItemID: record.ItemID, Quantity: record.Quantity}
	alerted := false
	defer func() {
		if alerted {
			telemetry.CompensationStuck.Dec()
		}
	}()

	for attempt := 1; ; attempt++ {
		res, err := c.ledger.Restore(ctx, restoration)
		if err == nil {
			telemetry.CompensationAttempts.WithLabelValues("restored").Inc()
			logger.Info().Bool("restored", res.Restored).Int64("version", res.Version).Msg("stock restore completed")
			return res, nil
		}
		if errors.Is(err, domain.ErrItemNotFound) {
			telemetry.CompensationAttempts.WithLabelValues("item_missing").Inc()
			logger.Error().Str("alert", "compensation_item_missing").Err(err).Msg("CRITICAL item vanished before stock could be restored")
			return domain.RestoreResult{}, nil
		}

		telemetry.CompensationAttempts.WithLabelValues("failed").Inc()
		if attempt == c.cfg.AlertAfter {
			alerted = true
			telemetry.CompensationStuck.Inc()
			logger.Error().Str("alert", "compensation_stuck").Int("attempt", attempt).Err(err).Msg("CRITICAL stock restore keeps failing")
		} else {
			logger.Warn().Int("attempt", attempt).Err(err).Msg("stock restore failed, retrying")
		}

		if err := sleep(ctx, c.cfg.Backoff.Delay(attempt)); err != nil {
			logger.Error().Str("alert", "compensation_abandoned").Err(err).Msg("CRITICAL controller stopped before stock was restored")
			return domain.RestoreResult{}, err
		}
	}
}

// finalize moves the Pending record to its terminal status.
func (c *CompensationController) finalize(ctx context.Context, logger zerolog.Logger, record domain.OrderRecord, status domain.OrderStatus, reason domain.RejectReason) (domain.Outcome, error) {
	target := domain.OrderRecord{OrderID: record.OrderID, Status: status, Reason: reason}

	for attempt := 1; ; attempt++ {
		err := c.orders.Transition(ctx, record.OrderID, domain.OrderStatusPending, status, reason)
		switch {
		case err == nil, errors.Is(err, domain.ErrOrderNotFound):
			return target.Outcome(), nil
		case errors.Is(err, domain.ErrStatusConflict):
			current, getErr := c.orders.Get(ctx, record.OrderID)
			if getErr != nil {
				err = getErr
				break
			}
			if current.Status == domain.OrderStatusCommitted && status == domain.OrderStatusCompensated {
				logger.Error().Str("alert", "committed_after_restore").Msg("CRITICAL order committed after its stock was restored, reconcile manually")
			}
			return current.Outcome(), nil
		}

		if attempt == c.cfg.AlertAfter {
			logger.Error().Str("alert", "compensation_stuck").Int("attempt", attempt).Err(err).Msg("CRITICAL cannot record compensation")
		} else {
			logger.Warn().Int("attempt", attempt).Err(err).Msg("recording compensation failed, retrying")
		}
		if err := sleep(ctx, c.cfg.Backoff.Delay(attempt)); err != nil {
			return domain.Outcome{}, err
		}
	}
}

// publish is best effort and gives up after timeout.
func publish(ctx context.Context, events port.EventPublisher, timeout time.Duration, record domain.OrderRecord, status domain.OrderStatus) {
	if events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	event := port.OrderEvent{
		OrderID:    record.OrderID,
		ItemID:     record.ItemID,
		Quantity:   record.Quantity,
		Status:     status,
		OccurredAt: time.Now().UTC(),
	}
	if err := events.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("order_id", record.OrderID).Str("status", string(status)).Msg("failed to publish order event")
	}
}
