package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/site-monitor/internal/alert"
	"github.com/angeloszaimis/site-monitor/internal/outcome"
	"github.com/angeloszaimis/site-monitor/internal/probe"
)

const token = "enginesis"

type probeCall struct {
	URL string
	At  time.Time
}

// fakeProber answers with respond, or a fast healthy page when respond is nil.
type fakeProber struct {
	mu      sync.Mutex
	calls   []probeCall
	perURL  map[string]int
	respond func(ctx context.Context, url string, n int) probe.Result

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeProber(respond func(ctx context.Context, url string, n int) probe.Result) *fakeProber {
	return &fakeProber{perURL: make(map[string]int), respond: respond}
}

func (f *fakeProber) Probe(ctx context.Context, url string) probe.Result {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxInFlight.Load()
		if cur <= prev || f.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	f.mu.Lock()
	n := f.perURL[url]
	f.perURL[url] = n + 1
	f.calls = append(f.calls, probeCall{URL: url, At: time.Now()})
	respond := f.respond
	f.mu.Unlock()

	if respond == nil {
		return healthy(url, time.Millisecond)
	}
	return respond(ctx, url, n)
}

func (f *fakeProber) Calls() []probeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]probeCall(nil), f.calls...)
}

func (f *fakeProber) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeProber) CountFor(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perURL[url]
}

func healthy(url string, elapsed time.Duration) probe.Result {
	now := time.Now()
	return probe.Result{
		URL:         url,
		StatusCode:  200,
		Body:        "<html>" + token + "</html>",
		Elapsed:     elapsed,
		StartedAt:   now.Add(-elapsed),
		CompletedAt: now,
	}
}

func withStatus(url string, code int) probe.Result {
	res := healthy(url, time.Millisecond)
	res.StatusCode = code
	return res
}

func unreachable(url string) probe.Result {
	now := time.Now()
	return probe.Result{URL: url, Err: errors.New("connection refused"), StartedAt: now, CompletedAt: now}
}

type fakeSink struct {
	mu      sync.Mutex
	err     error
	samples []outcome.Sample
}

func (f *fakeSink) Append(_ context.Context, s outcome.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, s)
	return f.err
}

func (f *fakeSink) Samples() []outcome.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]outcome.Sample(nil), f.samples...)
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (f *fakeAlerter) Dispatch(a alert.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
}

func (f *fakeAlerter) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

func (f *fakeAlerter) Alerts() []alert.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]alert.Alert(nil), f.alerts...)
}
