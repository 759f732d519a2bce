// Package outcome classifies raw probe results into sample records.
package outcome

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/site-monitor/internal/probe"
)

// Kind is the classification of one sample.
type Kind string

const (
	KindTransportFailure Kind = "transport_failure"
	KindStatusFailure    Kind = "status_failure"
	KindTokenMissing     Kind = "token_missing"
	KindLatencyExceeded  Kind = "latency_exceeded"
	KindSuccess          Kind = "success"
)

// IsFailure reports whether the kind is anything other than success.
func (k Kind) IsFailure() bool {
	return k != KindSuccess
}

// CountsTowardStreak reports whether the kind extends a consecutive-failure
// streak. Only slow responses do; outages are recorded but do not page.
func (k Kind) CountsTowardStreak() bool {
	return k == KindLatencyExceeded
}

// ErrorCode is the short code persisted with a sample.
func (k Kind) ErrorCode() string {
	switch k {
	case KindSuccess:
		return "OK"
	case KindTransportFailure:
		return "TRANSPORT"
	case KindStatusFailure:
		return "STATUS"
	case KindTokenMissing:
		return "TOKEN"
	case KindLatencyExceeded:
		return "SLOW"
	default:
		return "UNKNOWN"
	}
}

// Policy holds the per-site thresholds used during classification.
type Policy struct {
	ExpectedToken string
	AlertLoadTime time.Duration
}

// Sample is the immutable record of one classified probe.
type Sample struct {
	ID         string        `json:"id"`
	Site       string        `json:"site"`
	Timestamp  time.Time     `json:"timestamp"`
	Elapsed    time.Duration `json:"elapsed"`
	StatusCode int           `json:"status_code"`
	Kind       Kind          `json:"kind"`
	Message    string        `json:"message,omitempty"`
}

// Classify maps a probe result onto exactly one Kind. Precedence is transport
// failure, status failure, missing token, latency breach, success.
func Classify(site string, res probe.Result, policy Policy) Sample {
	sample := Sample{
		ID:         uuid.NewString(),
		Site:       site,
		Timestamp:  res.CompletedAt,
		Elapsed:    res.Elapsed,
		StatusCode: res.StatusCode,
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	switch {
	case res.Err != nil:
		sample.Kind = KindTransportFailure
		sample.StatusCode = 0
		sample.Message = res.Err.Error()
	case res.StatusCode != http.StatusOK:
		sample.Kind = KindStatusFailure
		sample.Message = fmt.Sprintf("unexpected status %d %s", res.StatusCode, http.StatusText(res.StatusCode))
	case !strings.Contains(res.Body, policy.ExpectedToken):
		sample.Kind = KindTokenMissing
		sample.Message = fmt.Sprintf("expected token %q not found", policy.ExpectedToken)
	case res.Elapsed > policy.AlertLoadTime:
		sample.Kind = KindLatencyExceeded
		sample.Message = fmt.Sprintf("response time %s exceeded %s",
			res.Elapsed.Round(time.Millisecond), policy.AlertLoadTime)
	default:
		sample.Kind = KindSuccess
	}

	return sample
}
