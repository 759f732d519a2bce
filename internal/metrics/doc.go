// Package metrics aggregates monitoring activity into a live snapshot.
//
// The scheduler and the storage fan-out publish events on a buffered channel
// without blocking; a single collector goroutine folds them into per-site
// counters:
//   - Samples and failures per site, broken down by outcome kind
//   - Response times with percentile calculations (P50, P95, P99)
//   - HTTP status code distribution
//   - Alerts raised per site
//   - Write failures per storage sink
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.EventChannel() <- metrics.MetricEvent{
//		Type:       metrics.EventSampleCompleted,
//		Site:       "games",
//		Kind:       "success",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	}
//
//	snapshot := collector.Snapshot()
package metrics
