package site

import (
	"time"

	"github.com/angeloszaimis/site-monitor/internal/outcome"
)

// Config describes one monitored site.
type Config struct {
	Name           string
	URL            string
	ExpectedToken  string
	SampleInterval time.Duration
	AlertLoadTime  time.Duration
	AlertThreshold int
	Active         bool
	AlertEmails    []string
}

// Policy returns the classification thresholds for this site.
func (c Config) Policy() outcome.Policy {
	return outcome.Policy{
		ExpectedToken: c.ExpectedToken,
		AlertLoadTime: c.AlertLoadTime,
	}
}

// startupDue is an already-elapsed due time that makes every active site
// eligible for an immediate first sample.
var startupDue = time.Unix(1, 0)

// State is the mutable health record of one site.
type State struct {
	config              Config
	nextDueAt           time.Time
	totalSamples        int64
	totalFailures       int64
	consecutiveFailures int
	alertArmed          bool
	lastSample          *outcome.Sample
}

// NewState creates the health record for a site. Active sites are due
// immediately; inactive sites are never due.
func NewState(cfg Config) *State {
	s := &State{config: cfg}
	s.MarkDueNow()
	return s
}

// Config returns the site configuration.
func (s *State) Config() Config {
	return s.config
}

// Name returns the site identifier.
func (s *State) Name() string {
	return s.config.Name
}

// Active reports whether the site is eligible for sampling at all.
func (s *State) Active() bool {
	return s.config.Active
}

// NextDueAt returns when the site is next eligible. The zero time means never.
func (s *State) NextDueAt() time.Time {
	return s.nextDueAt
}

// MarkDueNow forces an active site to be sampled at the next opportunity.
func (s *State) MarkDueNow() {
	if s.config.Active {
		s.nextDueAt = startupDue
	} else {
		s.nextDueAt = time.Time{}
	}
}

// Update replaces the configuration while keeping accumulated counters. A site
// that becomes active is due immediately; one that becomes inactive is never due.
func (s *State) Update(cfg Config) {
	wasActive := s.config.Active
	s.config = cfg

	switch {
	case !cfg.Active:
		s.nextDueAt = time.Time{}
	case !wasActive:
		s.nextDueAt = startupDue
	}
}

// Record applies a classified sample and reschedules the site relative to
// completedAt. It returns true when the sample crosses the alert threshold
// for the first time in the current streak; the alert guard is already armed
// when Record returns.
func (s *State) Record(sample outcome.Sample, completedAt time.Time) (raiseAlert bool) {
	if sample.Kind == outcome.KindSuccess {
		s.consecutiveFailures = 0
		s.alertArmed = false
	}

	s.totalSamples++
	if sample.Kind.IsFailure() {
		s.totalFailures++
	}

	if sample.Kind.CountsTowardStreak() {
		s.consecutiveFailures++
		if s.consecutiveFailures >= s.config.AlertThreshold && !s.alertArmed {
			s.alertArmed = true
			raiseAlert = true
		}
	}

	last := sample
	s.lastSample = &last

	if s.config.Active {
		s.nextDueAt = completedAt.Add(s.config.SampleInterval)
	} else {
		s.nextDueAt = time.Time{}
	}

	return raiseAlert
}

// ConsecutiveFailures returns the length of the current streak.
func (s *State) ConsecutiveFailures() int {
	return s.consecutiveFailures
}

// AlertArmed reports whether an alert already fired for the current streak.
func (s *State) AlertArmed() bool {
	return s.alertArmed
}

// Status is a point-in-time copy of a site's health for reporting.
type Status struct {
	Name                string          `json:"name"`
	URL                 string          `json:"url"`
	Active              bool            `json:"active"`
	NextDueAt           *time.Time      `json:"next_due_at,omitempty"`
	TotalSamples        int64           `json:"total_samples"`
	TotalFailures       int64           `json:"total_failures"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	AlertArmed          bool            `json:"alert_armed"`
	LastSample          *outcome.Sample `json:"last_sample,omitempty"`
}

// Status returns a copy of the current health record.
func (s *State) Status() Status {
	st := Status{
		Name:                s.config.Name,
		URL:                 s.config.URL,
		Active:              s.config.Active,
		TotalSamples:        s.totalSamples,
		TotalFailures:       s.totalFailures,
		ConsecutiveFailures: s.consecutiveFailures,
		AlertArmed:          s.alertArmed,
	}
	if !s.nextDueAt.IsZero() {
		due := s.nextDueAt
		st.NextDueAt = &due
	}
	if s.lastSample != nil {
		last := *s.lastSample
		st.LastSample = &last
	}
	return st
}
