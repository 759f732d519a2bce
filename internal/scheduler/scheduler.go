package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/angeloszaimis/site-monitor/internal/alert"
	"github.com/angeloszaimis/site-monitor/internal/metrics"
	"github.com/angeloszaimis/site-monitor/internal/outcome"
	"github.com/angeloszaimis/site-monitor/internal/probe"
	"github.com/angeloszaimis/site-monitor/internal/site"
)

const DefaultWriteTimeout = 5 * time.Second

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrDuplicateSite  = errors.New("duplicate site name")
)

// Sink receives every classified sample.
type Sink interface {
	Append(ctx context.Context, sample outcome.Sample) error
}

// Alerter receives alerts. Dispatch must not block.
type Alerter interface {
	Dispatch(a alert.Alert)
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithSink(sink Sink) Option {
	return func(s *Scheduler) {
		s.sink = sink
	}
}

func WithAlerter(alerter Alerter) Option {
	return func(s *Scheduler) {
		s.alerter = alerter
	}
}

// WithEvents publishes sample and alert events to a metrics collector.
func WithEvents(ch chan<- metrics.MetricEvent) Option {
	return func(s *Scheduler) {
		s.events = ch
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithProbeTimeout bounds every probe, independently of the prober's own client timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.probeTimeout = d
		}
	}
}

type Scheduler struct {
	prober       probe.Prober
	sink         Sink
	alerter      Alerter
	events       chan<- metrics.MetricEvent
	logger       *slog.Logger
	writeTimeout time.Duration
	probeTimeout time.Duration

	mu           sync.Mutex
	sites        []*site.State
	inFlight     bool
	current      string
	started      bool
	stopped      bool
	timer        *time.Timer
	generation   uint64
	baseCtx      context.Context
	lastSampleAt time.Time
	lastError    *outcome.Sample

	done    chan struct{}
	settled sync.WaitGroup
}

// New creates a scheduler for sites. Site names must be unique.
func New(prober probe.Prober, sites []site.Config, opts ...Option) (*Scheduler, error) {
	if err := checkUnique(sites); err != nil {
		return nil, err
	}

	s := &Scheduler{
		prober:       prober,
		logger:       slog.New(slog.DiscardHandler),
		writeTimeout: DefaultWriteTimeout,
		probeTimeout: probe.DefaultTimeout,
		baseCtx:      context.Background(),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.sites = make([]*site.State, 0, len(sites))
	for _, cfg := range sites {
		s.sites = append(s.sites, site.NewState(cfg))
	}

	return s, nil
}

// Start makes every active site due and begins sampling. Cancelling ctx stops
// the scheduler; probes already running are not interrupted.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.baseCtx = context.WithoutCancel(ctx)

	active := 0
	for _, st := range s.sites {
		st.MarkDueNow()
		if st.Active() {
			active++
		}
	}

	s.logger.Info("scheduler started",
		slog.Int("sites", len(s.sites)),
		slog.Int("active", active),
	)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()

	s.queueNextLocked()
	return nil
}

// Stop halts scheduling and cancels the pending timer. It does not interrupt
// an in-flight probe. Calling Stop more than once has no further effect.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	s.disarmLocked()
	close(s.done)

	s.logger.Info("scheduler stopped", slog.String("in_flight", s.current))
}

// Done is closed once Stop has been called.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the scheduler is stopped and the in-flight sample, if
// any, has been committed and persisted.
func (s *Scheduler) Wait(ctx context.Context) error {
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	settled := make(chan struct{})
	go func() {
		s.settled.Wait()
		close(settled)
	}()

	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconfigure replaces the site list. State is kept for names that remain,
// new names are due immediately and removed names are dropped. A probe in
// flight for a removed site completes but its result only reaches the sink.
func (s *Scheduler) Reconfigure(sites []site.Config) error {
	if err := checkUnique(sites); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]*site.State, len(s.sites))
	for _, st := range s.sites {
		existing[st.Name()] = st
	}

	next := make([]*site.State, 0, len(sites))
	added := 0
	for _, cfg := range sites {
		st, ok := existing[cfg.Name]
		if ok {
			st.Update(cfg)
			delete(existing, cfg.Name)
		} else {
			st = site.NewState(cfg)
			added++
		}
		next = append(next, st)
	}
	s.sites = next

	s.logger.Info("sites reconfigured",
		slog.Int("sites", len(next)),
		slog.Int("added", added),
		slog.Int("removed", len(existing)),
	)

	s.queueNextLocked()
	return nil
}

// Sites returns the current configuration in order.
func (s *Scheduler) Sites() []site.Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]site.Config, 0, len(s.sites))
	for _, st := range s.sites {
		out = append(out, st.Config())
	}
	return out
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running      bool            `json:"running"`
	InFlight     string          `json:"in_flight,omitempty"`
	LastSampleAt *time.Time      `json:"last_sample_at,omitempty"`
	LastError    *outcome.Sample `json:"last_error,omitempty"`
	Sites        []site.Status   `json:"sites"`
}

func (s *Scheduler) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:  s.started && !s.stopped,
		InFlight: s.current,
		Sites:    make([]site.Status, 0, len(s.sites)),
	}
	if !s.lastSampleAt.IsZero() {
		at := s.lastSampleAt
		status.LastSampleAt = &at
	}
	if s.lastError != nil {
		last := *s.lastError
		status.LastError = &last
	}
	for _, st := range s.sites {
		status.Sites = append(status.Sites, st.Status())
	}
	return status
}

// queueNextLocked either dispatches the most overdue active site or arms a
// single timer for the earliest one. It is the only place that starts probes.
func (s *Scheduler) queueNextLocked() {
	if !s.started || s.stopped || s.inFlight {
		return
	}
	s.disarmLocked()

	next := s.earliestLocked()
	if next == nil {
		s.logger.Debug("no active sites to sample")
		return
	}

	delay := time.Until(next.NextDueAt())
	if delay <= 0 {
		s.dispatchLocked(next)
		return
	}

	gen := s.generation
	s.timer = time.AfterFunc(delay, func() {
		s.wake(gen)
	})
}

// earliestLocked returns the active site with the smallest due time. Ties go
// to the site listed first.
func (s *Scheduler) earliestLocked() *site.State {
	var best *site.State
	for _, st := range s.sites {
		due := st.NextDueAt()
		if !st.Active() || due.IsZero() {
			continue
		}
		if best == nil || due.Before(best.NextDueAt()) {
			best = st
		}
	}
	return best
}

func (s *Scheduler) disarmLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.generation++
}

func (s *Scheduler) wake(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return
	}
	s.timer = nil
	s.queueNextLocked()
}

func (s *Scheduler) dispatchLocked(st *site.State) {
	s.inFlight = true
	s.current = st.Name()
	s.settled.Add(1)

	go s.sample(st, st.Config())
}

func (s *Scheduler) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight = false
	s.current = ""
	s.queueNextLocked()
}

func (s *Scheduler) sample(st *site.State, cfg site.Config) {
	defer s.settled.Done()
	defer s.release()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sample pipeline panicked",
				slog.String("site", cfg.Name),
				slog.Any("panic", r),
			)
		}
	}()

	sample := s.probeAndClassify(cfg)

	raise, streak, current, tracked := s.commit(st, sample)
	s.logSample(sample)
	s.persist(sample)

	metrics.Publish(s.events, metrics.MetricEvent{
		Type:       metrics.EventSampleCompleted,
		Site:       sample.Site,
		Kind:       string(sample.Kind),
		Duration:   sample.Elapsed,
		StatusCode: sample.StatusCode,
	})

	if !tracked {
		s.logger.Debug("site removed while sampling", slog.String("site", cfg.Name))
		return
	}
	if raise {
		s.raise(current, streak, sample)
	}
}

// probeAndClassify never panics; a panicking prober is reported as a
// transport failure.
func (s *Scheduler) probeAndClassify(cfg site.Config) (sample outcome.Sample) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			completed := time.Now()
			sample = outcome.Classify(cfg.Name, probe.Result{
				URL:         cfg.URL,
				StartedAt:   started,
				CompletedAt: completed,
				Elapsed:     completed.Sub(started),
				Err:         fmt.Errorf("probe panicked: %v", r),
			}, cfg.Policy())
		}
	}()

	ctx, cancel := context.WithTimeout(s.baseContext(), s.probeTimeout)
	defer cancel()

	res := s.prober.Probe(ctx, cfg.URL)
	return outcome.Classify(cfg.Name, res, cfg.Policy())
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// commit applies sample to st if st is still part of the configuration.
func (s *Scheduler) commit(st *site.State, sample outcome.Sample) (raise bool, streak int, cfg site.Config, tracked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSampleAt = sample.Timestamp
	if sample.Kind.IsFailure() {
		last := sample
		s.lastError = &last
	}

	for _, candidate := range s.sites {
		if candidate == st {
			tracked = true
			break
		}
	}
	if !tracked {
		return false, 0, site.Config{}, false
	}

	raise = st.Record(sample, time.Now())
	return raise, st.ConsecutiveFailures(), st.Config(), true
}

func (s *Scheduler) persist(sample outcome.Sample) {
	if s.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(s.baseContext(), s.writeTimeout)
	defer cancel()

	if err := s.sink.Append(ctx, sample); err != nil {
		s.logger.Warn("failed to persist sample",
			slog.String("site", sample.Site),
			slog.String("sample_id", sample.ID),
			slog.Any("err", err),
		)
	}
}

func (s *Scheduler) raise(cfg site.Config, streak int, sample outcome.Sample) {
	metrics.Publish(s.events, metrics.MetricEvent{
		Type: metrics.EventAlertRaised,
		Site: cfg.Name,
	})

	if s.alerter == nil {
		s.logger.Warn("alert threshold reached, no alerter configured",
			slog.String("site", cfg.Name),
			slog.Int("consecutive_failures", streak),
		)
		return
	}
	s.alerter.Dispatch(alert.New(cfg, streak, sample))
}

func (s *Scheduler) logSample(sample outcome.Sample) {
	attrs := []any{
		slog.String("site", sample.Site),
		slog.String("outcome", string(sample.Kind)),
		slog.Int("status", sample.StatusCode),
		slog.Duration("elapsed", sample.Elapsed),
	}

	if sample.Kind == outcome.KindSuccess {
		s.logger.Info("site sampled", attrs...)
		return
	}
	if sample.Message != "" {
		attrs = append(attrs, slog.String("message", sample.Message))
	}
	s.logger.Warn("site sample failed", attrs...)
}

func checkUnique(sites []site.Config) error {
	seen := make(map[string]struct{}, len(sites))
	for _, cfg := range sites {
		if _, ok := seen[cfg.Name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateSite, cfg.Name)
		}
		seen[cfg.Name] = struct{}{}
	}
	return nil
}
