package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxResponseWindow = 1000

type Metrics struct {
	mutex         sync.RWMutex
	samples       map[string]int64
	failures      map[string]int64
	alerts        map[string]int64
	outcomes      map[string]map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	sinkFailures  map[string]int64
	startTime     time.Time
}

type Snapshot struct {
	TotalSamples int64                  `json:"total_samples"`
	TotalAlerts  int64                  `json:"total_alerts"`
	Uptime       time.Duration          `json:"uptime"`
	Sites        map[string]SiteMetrics `json:"sites"`
	SinkFailures map[string]int64       `json:"sink_failures"`
}

type SiteMetrics struct {
	Samples     int64            `json:"samples"`
	Failures    int64            `json:"failures"`
	Alerts      int64            `json:"alerts"`
	Outcomes    map[string]int64 `json:"outcomes"`
	AvgResponse time.Duration    `json:"avg_response"`
	P50Response time.Duration    `json:"p50_response"`
	P95Response time.Duration    `json:"p95_response"`
	P99Response time.Duration    `json:"p99_response"`
	StatusCodes map[int]int64    `json:"status_codes"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		samples:       make(map[string]int64),
		failures:      make(map[string]int64),
		alerts:        make(map[string]int64),
		outcomes:      make(map[string]map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		sinkFailures:  make(map[string]int64),
		startTime:     time.Now(),
	}
}

// RecordSample counts one classified sample. Transport failures carry status
// code zero and are not added to the status distribution.
func (m *Metrics) RecordSample(site, kind string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.samples[site]++
	if kind != "success" {
		m.failures[site]++
	}

	if m.outcomes[site] == nil {
		m.outcomes[site] = make(map[string]int64)
	}
	m.outcomes[site][kind]++

	m.responseTimes[site] = append(m.responseTimes[site], duration)
	if len(m.responseTimes[site]) > maxResponseWindow {
		m.responseTimes[site] = m.responseTimes[site][1:]
	}

	if statusCode == 0 {
		return
	}
	if m.statusCodes[site] == nil {
		m.statusCodes[site] = make(map[int]int64)
	}
	m.statusCodes[site][statusCode]++
}

func (m *Metrics) RecordAlert(site string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.alerts[site]++
}

func (m *Metrics) RecordSinkFailure(sink string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sinkFailures[sink]++
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:       time.Since(m.startTime),
		Sites:        make(map[string]SiteMetrics),
		SinkFailures: make(map[string]int64, len(m.sinkFailures)),
	}

	for sink, n := range m.sinkFailures {
		snap.SinkFailures[sink] = n
	}

	allSites := make(map[string]bool)
	for site := range m.samples {
		allSites[site] = true
	}
	for site := range m.alerts {
		allSites[site] = true
	}

	for site := range allSites {
		snap.TotalSamples += m.samples[site]
		snap.TotalAlerts += m.alerts[site]

		sm := SiteMetrics{
			Samples:     m.samples[site],
			Failures:    m.failures[site],
			Alerts:      m.alerts[site],
			Outcomes:    copyCounts(m.outcomes[site]),
			StatusCodes: make(map[int]int64, len(m.statusCodes[site])),
		}
		for code, n := range m.statusCodes[site] {
			sm.StatusCodes[code] = n
		}

		durations := m.responseTimes[site]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			sm.AvgResponse = average(sorted)
			sm.P50Response = percentile(sorted, 0.50)
			sm.P95Response = percentile(sorted, 0.95)
			sm.P99Response = percentile(sorted, 0.99)
		}

		snap.Sites[site] = sm
	}

	return snap
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
