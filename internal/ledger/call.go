package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
)

const DefaultCallTimeout = 5 * time.Second

// Metrics receives operation outcomes. pkg/metrics provides the prometheus
// implementation.
type Metrics interface {
	ObserveOperation(operation string, duration time.Duration, err error)
	CompensationFailed(operation string)
	ObserveAccount(accountID, currency string, reserved, freeToPlan domain.Amount)
}

// Notifier is told about every successful mutation. Implementations must
// not block the caller for long; delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, notice domain.Notice)
}

type nopMetrics struct{}

func (nopMetrics) ObserveOperation(string, time.Duration, error) {}
func (nopMetrics) CompensationFailed(string) {}
func (nopMetrics) ObserveAccount(string, string, domain.Amount, domain.Amount) {}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, domain.Notice) {}

type Options struct {
	// CallTimeout bounds every store call. Zero means DefaultCallTimeout.
	CallTimeout time.Duration
	Logger      *slog.Logger
	Metrics     Metrics
	Notifier    Notifier
}

// caller wraps store calls with the timeout, metrics and compensation rules
// shared by the engines.
type caller struct {
	timeout  time.Duration
	logger   *slog.Logger
	metrics  Metrics
	notifier Notifier
}

func newCaller(opts Options) *caller {
	c := &caller{
		timeout:  opts.CallTimeout,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		notifier: opts.Notifier,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultCallTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = nopMetrics{}
	}
	if c.notifier == nil {
		c.notifier = nopNotifier{}
	}
	return c
}

// call runs one store call under the configured timeout. An expired
// deadline surfaces as domain.ErrNetwork.
func (c *caller) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := fn(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrNetwork) {
		return fmt.Errorf("%w: store call timed out after %s: %v", domain.ErrNetwork, c.timeout, err)
	}
	return err
}

// observe is deferred by every public operation with a pointer to its
// named error result.
func (c *caller) observe(operation string, start time.Time, err *error) {
	c.metrics.ObserveOperation(operation, time.Since(start), *err)
	if *err != nil {
		c.logger.Debug("ledger operation rejected",
			slog.String("operation", operation),
			slog.String("error", (*err).Error()))
	}
}

// compensate unwinds a partially applied saga. Each step is retried at most
// once. It returns cause when every step succeeded, and a
// *domain.CompensationError otherwise. The unwind ignores cancellation of
// ctx: once a write is issued the operation is no longer cancellable.
func (c *caller) compensate(ctx context.Context, operation, entityID string, cause error, steps ...func(ctx context.Context) error) error {
	ctx = context.WithoutCancel(ctx)

	for i, step := range steps {
		err := c.call(ctx, step)
		if err != nil {
			c.logger.Warn("compensation step failed, retrying",
				slog.String("operation", operation),
				slog.String("entity_id", entityID),
				slog.Int("step", i),
				slog.String("error", err.Error()))
			err = c.call(ctx, step)
		}
		if err != nil {
			c.logger.Error("compensation failed, ledger left inconsistent",
				slog.String("operation", operation),
				slog.String("entity_id", entityID),
				slog.Int("step", i),
				slog.String("cause", cause.Error()),
				slog.String("error", err.Error()))
			c.metrics.CompensationFailed(operation)
			c.notify(ctx, domain.Notice{
				Kind:      domain.NoticeCompensationFailed,
				SubjectID: entityID,
				Attributes: map[string]string{
					"operation": operation,
					"cause":     cause.Error(),
					"error":     err.Error(),
				},
			})
			return &domain.CompensationError{Operation: operation, EntityID: entityID, Cause: cause, Err: err}
		}
	}

	c.logger.Info("operation compensated",
		slog.String("operation", operation),
		slog.String("entity_id", entityID),
		slog.String("cause", cause.Error()))
	return cause
}

func (c *caller) notify(ctx context.Context, notice domain.Notice) {
	if notice.At.IsZero() {
		notice.At = time.Now().UTC()
	}
	c.notifier.Notify(ctx, notice)
}

// ignoreNotFound makes a compensating delete idempotent.
func ignoreNotFound(step func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := step(ctx); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return nil
	}
}

// ignoreDuplicate makes a compensating re-insert idempotent.
func ignoreDuplicate(step func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := step(ctx); err != nil && !errors.Is(err, repository.ErrDuplicate) {
			return err
		}
		return nil
	}
}
