// Package scheduler runs the sampling loop.
//
// A Scheduler owns the health state of every configured site. At any moment it
// either has exactly one probe in flight or a single timer armed for the
// earliest due site. When a probe settles, its classified sample is committed
// to the site's state, the site is rescheduled one interval after completion,
// the sample is persisted, an alert is raised if the site just crossed its
// threshold, and the loop picks the next site.
//
// Timers are tagged with a generation number; re-arming stops the previous
// timer and bumps the generation so a timer that already fired does nothing.
package scheduler
