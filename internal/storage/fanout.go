package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/angeloszaimis/site-monitor/internal/circuitbreaker"
	"github.com/angeloszaimis/site-monitor/internal/metrics"
	"github.com/angeloszaimis/site-monitor/internal/outcome"
	"github.com/angeloszaimis/site-monitor/internal/site"
)

// Fanout writes to every configured sink, each guarded by a circuit breaker
// from the shared registry keyed by sink name.
type Fanout struct {
	sinks    []Sink
	breakers *circuitbreaker.Registry
	logger   *slog.Logger
	events   chan<- metrics.MetricEvent
}

type FanoutOption func(*Fanout)

// WithEvents reports sink failures to the metrics collector.
func WithEvents(ch chan<- metrics.MetricEvent) FanoutOption {
	return func(f *Fanout) {
		f.events = ch
	}
}

func WithLogger(logger *slog.Logger) FanoutOption {
	return func(f *Fanout) {
		f.logger = logger
	}
}

func NewFanout(breakers *circuitbreaker.Registry, sinks []Sink, opts ...FanoutOption) *Fanout {
	f := &Fanout{
		sinks:    sinks,
		breakers: breakers,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fanout) Name() string { return "fanout" }

// Append writes sample to every sink. Sinks whose breaker is open are skipped
// with ErrUnavailable. The returned error joins all per-sink failures.
func (f *Fanout) Append(ctx context.Context, sample outcome.Sample) error {
	var errs []error
	for _, s := range f.sinks {
		err := f.guard(s.Name(), func() error {
			return s.Append(ctx, sample)
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordSites upserts the catalogue into every sink that keeps one.
func (f *Fanout) RecordSites(ctx context.Context, sites []site.Config) error {
	var errs []error
	for _, s := range f.sinks {
		recorder, ok := s.(SiteRecorder)
		if !ok {
			continue
		}
		err := f.guard(s.Name(), func() error {
			return recorder.RecordSites(ctx, sites)
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recent reads from the first sink that supports history.
func (f *Fanout) Recent(ctx context.Context, siteName string, limit int) ([]outcome.Sample, error) {
	for _, s := range f.sinks {
		if h, ok := s.(History); ok {
			return h.Recent(ctx, siteName, limit)
		}
	}
	return nil, ErrUnavailable
}

// Breakers returns breaker states by sink name.
func (f *Fanout) Breakers() map[string]string {
	return f.breakers.Stats()
}

func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) guard(name string, fn func() error) error {
	err := f.breakers.GetBreaker(name).Execute(fn)
	if err == nil {
		return nil
	}

	if errors.Is(err, circuitbreaker.ErrOpen) {
		f.logger.Debug("sink skipped, breaker open", slog.String("sink", name))
		err = ErrUnavailable
	}

	metrics.Publish(f.events, metrics.MetricEvent{
		Type: metrics.EventSinkFailed,
		Sink: name,
	})
	return fmt.Errorf("%s: %w", name, err)
}
