package alert

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const DefaultTimeout = 30 * time.Second

// Dispatcher delivers alerts asynchronously to all notifiers.
type Dispatcher struct {
	notifiers []Notifier
	logger    *slog.Logger
	timeout   time.Duration
	wg        sync.WaitGroup
}

func NewDispatcher(logger *slog.Logger, timeout time.Duration, notifiers ...Notifier) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		notifiers: notifiers,
		logger:    logger,
		timeout:   timeout,
	}
}

// Dispatch starts delivery and returns immediately.
func (d *Dispatcher) Dispatch(a Alert) {
	d.logger.Warn("site alert raised",
		slog.String("site", a.Site),
		slog.String("alert_id", a.ID),
		slog.Int("consecutive_failures", a.ConsecutiveFailures),
		slog.Int("threshold", a.Threshold),
	)

	for _, n := range d.notifiers {
		d.wg.Add(1)
		go d.deliver(n, a)
	}
}

func (d *Dispatcher) deliver(n Notifier, a Alert) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("alert notifier panicked",
				slog.String("notifier", n.Name()),
				slog.String("site", a.Site),
				slog.Any("panic", r),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := n.Notify(ctx, a)
	switch {
	case errors.Is(err, ErrNoDestinations):
		d.logger.Debug("alert notifier skipped, no destinations",
			slog.String("notifier", n.Name()),
			slog.String("site", a.Site),
		)
	case err != nil:
		d.logger.Error("alert delivery failed",
			slog.String("notifier", n.Name()),
			slog.String("site", a.Site),
			slog.Any("err", err),
		)
	default:
		d.logger.Info("alert delivered",
			slog.String("notifier", n.Name()),
			slog.String("site", a.Site),
		)
	}
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
