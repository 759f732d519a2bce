// Package site defines monitored site configuration and the per-site health
// state tracked between samples: counters, the consecutive-failure streak, the
// alert guard and the next due time.
//
// State is not safe for concurrent use; the scheduler owns every State and
// serialises access to it.
package site
