package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/site-monitor/internal/outcome"
	"github.com/angeloszaimis/site-monitor/internal/site"
)

// ErrNoDestinations is returned by notifiers that have nowhere to deliver.
var ErrNoDestinations = errors.New("alert has no destinations")

// Alert describes a site that crossed its consecutive-failure threshold.
type Alert struct {
	ID                  string         `json:"id"`
	Site                string         `json:"site"`
	URL                 string         `json:"url"`
	Destinations        []string       `json:"destinations"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	Threshold           int            `json:"threshold"`
	AlertLoadTime       time.Duration  `json:"alert_load_time"`
	Sample              outcome.Sample `json:"sample"`
	RaisedAt            time.Time      `json:"raised_at"`
}

// New builds the alert for cfg triggered by sample.
func New(cfg site.Config, consecutiveFailures int, sample outcome.Sample) Alert {
	dest := make([]string, len(cfg.AlertEmails))
	copy(dest, cfg.AlertEmails)

	return Alert{
		ID:                  uuid.NewString(),
		Site:                cfg.Name,
		URL:                 cfg.URL,
		Destinations:        dest,
		ConsecutiveFailures: consecutiveFailures,
		Threshold:           cfg.AlertThreshold,
		AlertLoadTime:       cfg.AlertLoadTime,
		Sample:              sample,
		RaisedAt:            time.Now(),
	}
}

func (a Alert) Subject() string {
	return "Site monitor alert from " + a.Site
}

// Summary is the one-line human description of the alert.
func (a Alert) Summary() string {
	return fmt.Sprintf("%s (%s) responded slower than %s on %d consecutive samples; last response took %s",
		a.Site, a.URL, a.AlertLoadTime, a.ConsecutiveFailures, a.Sample.Elapsed.Round(time.Millisecond))
}

// Notifier delivers an alert over one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}
