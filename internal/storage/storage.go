package storage

import (
	"context"
	"errors"

	"github.com/angeloszaimis/site-monitor/internal/outcome"
	"github.com/angeloszaimis/site-monitor/internal/site"
)

// ErrUnavailable reports that a sink was skipped or could not be reached.
var ErrUnavailable = errors.New("storage unavailable")

// Sink appends samples to durable storage.
type Sink interface {
	Name() string
	Append(ctx context.Context, sample outcome.Sample) error
}

// SiteRecorder is implemented by sinks that keep a copy of the site catalogue.
type SiteRecorder interface {
	RecordSites(ctx context.Context, sites []site.Config) error
}

// History is implemented by sinks that can read samples back.
type History interface {
	Recent(ctx context.Context, siteName string, limit int) ([]outcome.Sample, error)
}

// Discard drops every sample.
type Discard struct{}

func (Discard) Name() string { return "discard" }

func (Discard) Append(context.Context, outcome.Sample) error { return nil }
