// Package circuitbreaker guards storage sinks that keep failing.
//
// A breaker stops the monitor from spending its write budget on a database
// that is down. It has three states:
//
//   - CLOSED: Normal operation, writes pass through
//   - OPEN: Sink failing, writes rejected without an attempt
//   - HALF-OPEN: One trial write decides whether the sink recovered
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 30*time.Second)
//	err := registry.GetBreaker("mysql").Execute(func() error {
//	    return sink.Append(ctx, sample)
//	})
//	if errors.Is(err, circuitbreaker.ErrOpen) {
//	    // skipped
//	}
package circuitbreaker
