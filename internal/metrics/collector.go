package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventSampleCompleted EventType = "sample_completed"
	EventAlertRaised     EventType = "alert_raised"
	EventSinkFailed      EventType = "sink_failed"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Site       string
	Kind       string
	Duration   time.Duration
	StatusCode int
	Sink       string
}

type Collector struct {
	eventCh  chan MetricEvent
	metrics  *Metrics
	exporter *Exporter
	logger   *slog.Logger
}

type CollectorOption func(*Collector)

// WithExporter forwards every processed event to a Prometheus exporter.
func WithExporter(e *Exporter) CollectorOption {
	return func(c *Collector) {
		c.exporter = e
	}
}

func NewCollector(bufferSize int, logger *slog.Logger, opts ...CollectorOption) *Collector {
	c := &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("metrics collector started")
	defer c.logger.Info("metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventSampleCompleted:
		c.metrics.RecordSample(event.Site, event.Kind, event.Duration, event.StatusCode)

	case EventAlertRaised:
		c.metrics.RecordAlert(event.Site)

	case EventSinkFailed:
		c.metrics.RecordSinkFailure(event.Sink)
	}

	if c.exporter != nil {
		c.exporter.observe(event)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}

// Publish sends an event without blocking. Events are dropped when the buffer
// is full.
func Publish(ch chan<- MetricEvent, event MetricEvent) bool {
	if ch == nil {
		return false
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case ch <- event:
		return true
	default:
		return false
	}
}
