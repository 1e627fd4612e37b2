// Package metrics provides metrics collection for the bridge.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/PentesterFlow/WebviewBridge/pkg/bridge"
)

// latencyBounds are the upper bounds of the command latency buckets.
// The last bucket holds everything at or above the final bound.
var latencyBounds = []time.Duration{
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
	95 * time.Second,
}

// Collector collects and aggregates metrics.
// It implements bridge.Observer.
type Collector struct {
	// Counters
	commandsTotal atomic.Int64
	errorsTotal   atomic.Int64
	requestsTotal atomic.Int64
	rejectedTotal atomic.Int64
	retriesTotal  atomic.Int64

	// Rate tracking
	commandsInWindow atomic.Int64
	windowStart      atomic.Int64

	// Latency tracking
	latencySum atomic.Int64
	latencyNum atomic.Int64

	// Gauges
	inFlightRequests atomic.Int64

	latencyBuckets [10]atomic.Int64

	// Per-command and per-outcome breakdown
	commandCounts map[string]*atomic.Int64
	outcomeCounts map[string]*atomic.Int64
	breakdownMu   sync.RWMutex

	// Status code breakdown
	statusCodes map[int]*atomic.Int64
	statusMu    sync.RWMutex

	startTime atomic.Int64
}

// New creates a new metrics collector.
func New() *Collector {
	now := time.Now()
	c := &Collector{
		commandCounts: make(map[string]*atomic.Int64),
		outcomeCounts: make(map[string]*atomic.Int64),
		statusCodes:   make(map[int]*atomic.Int64),
	}
	c.windowStart.Store(now.UnixNano())
	c.startTime.Store(now.UnixNano())
	return c
}

// ObserveCommand records a finished bridge command.
func (c *Collector) ObserveCommand(rec bridge.CommandRecord) {
	c.commandsTotal.Add(1)
	c.commandsInWindow.Add(1)

	c.breakdownMu.Lock()
	increment(c.commandCounts, rec.Command)
	increment(c.outcomeCounts, rec.Outcome)
	c.breakdownMu.Unlock()

	if !rec.Succeeded() {
		c.errorsTotal.Add(1)
	}
	if rec.StatusCode != 0 {
		c.RecordStatusCode(rec.StatusCode)
	}
	c.RecordLatency(rec.Duration)
}

func increment(m map[string]*atomic.Int64, key string) {
	if m[key] == nil {
		m[key] = &atomic.Int64{}
	}
	m[key].Add(1)
}

// RecordLatency records how long a command took.
func (c *Collector) RecordLatency(d time.Duration) {
	c.latencySum.Add(d.Milliseconds())
	c.latencyNum.Add(1)
	c.latencyBuckets[bucketFor(d)].Add(1)
}

func bucketFor(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d < bound {
			return i
		}
	}
	return len(latencyBounds)
}

// RecordStatusCode records a browser host status code.
func (c *Collector) RecordStatusCode(code int) {
	c.statusMu.Lock()
	if c.statusCodes[code] == nil {
		c.statusCodes[code] = &atomic.Int64{}
	}
	c.statusCodes[code].Add(1)
	c.statusMu.Unlock()
}

// RecordRequest records an inbound request to the route layer.
func (c *Collector) RecordRequest() {
	c.requestsTotal.Add(1)
}

// RecordRejected records an inbound request refused by rate limiting.
func (c *Collector) RecordRejected() {
	c.rejectedTotal.Add(1)
}

// RecordRetry records a caller-side retry attempt.
func (c *Collector) RecordRetry() {
	c.retriesTotal.Add(1)
}

// IncInFlight marks an inbound request as started.
func (c *Collector) IncInFlight() {
	c.inFlightRequests.Add(1)
}

// DecInFlight marks an inbound request as finished.
func (c *Collector) DecInFlight() {
	c.inFlightRequests.Add(-1)
}

// GetCommandsPerSecond returns the command rate over the current window.
func (c *Collector) GetCommandsPerSecond() float64 {
	windowDuration := 60 * time.Second
	now := time.Now().UnixNano()
	windowStart := c.windowStart.Load()

	elapsed := time.Duration(now - windowStart)
	if elapsed >= windowDuration {
		if c.windowStart.CompareAndSwap(windowStart, now) {
			c.commandsInWindow.Store(0)
		}
		return 0
	}
	if elapsed <= 0 {
		return 0
	}
	return float64(c.commandsInWindow.Load()) / elapsed.Seconds()
}

// GetAverageLatency returns the mean command latency.
func (c *Collector) GetAverageLatency() time.Duration {
	sum := c.latencySum.Load()
	num := c.latencyNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(sum/num) * time.Millisecond
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:         time.Now(),
		Uptime:            time.Since(time.Unix(0, c.startTime.Load())),
		CommandsTotal:     c.commandsTotal.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
		RequestsTotal:     c.requestsTotal.Load(),
		RejectedTotal:     c.rejectedTotal.Load(),
		RetriesTotal:      c.retriesTotal.Load(),
		InFlightRequests:  c.inFlightRequests.Load(),
		CommandsPerSecond: c.GetCommandsPerSecond(),
		AverageLatency:    c.GetAverageLatency(),
		LatencySumMillis:  c.latencySum.Load(),
		CommandCounts:     make(map[string]int64),
		OutcomeCounts:     make(map[string]int64),
		StatusCodes:       make(map[int]int64),
		LatencyHist:       make([]int64, len(c.latencyBuckets)),
	}

	c.breakdownMu.RLock()
	for k, v := range c.commandCounts {
		s.CommandCounts[k] = v.Load()
	}
	for k, v := range c.outcomeCounts {
		s.OutcomeCounts[k] = v.Load()
	}
	c.breakdownMu.RUnlock()

	c.statusMu.RLock()
	for k, v := range c.statusCodes {
		s.StatusCodes[k] = v.Load()
	}
	c.statusMu.RUnlock()

	for i := range c.latencyBuckets {
		s.LatencyHist[i] = c.latencyBuckets[i].Load()
	}

	return s
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp         time.Time        `json:"timestamp"`
	Uptime            time.Duration    `json:"uptime"`
	CommandsTotal     int64            `json:"commands_total"`
	ErrorsTotal       int64            `json:"errors_total"`
	RequestsTotal     int64            `json:"requests_total"`
	RejectedTotal     int64            `json:"rejected_total"`
	RetriesTotal      int64            `json:"retries_total"`
	InFlightRequests  int64            `json:"in_flight_requests"`
	CommandsPerSecond float64          `json:"commands_per_second"`
	AverageLatency    time.Duration    `json:"average_latency"`
	LatencySumMillis  int64            `json:"latency_sum_ms"`
	CommandCounts     map[string]int64 `json:"command_counts"`
	OutcomeCounts     map[string]int64 `json:"outcome_counts"`
	StatusCodes       map[int]int64    `json:"status_codes"`
	LatencyHist       []int64          `json:"latency_histogram"`
}

// ErrorRate returns the share of commands that failed.
func (s *Snapshot) ErrorRate() float64 {
	if s.CommandsTotal == 0 {
		return 0
	}
	return float64(s.ErrorsTotal) / float64(s.CommandsTotal)
}

// Summary returns a human-readable summary.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":              s.Uptime.String(),
		"commands_total":      s.CommandsTotal,
		"errors_total":        s.ErrorsTotal,
		"error_rate":          s.ErrorRate(),
		"requests_total":      s.RequestsTotal,
		"rejected_total":      s.RejectedTotal,
		"commands_per_second": s.CommandsPerSecond,
		"avg_latency_ms":      s.AverageLatency.Milliseconds(),
		"outcomes":            s.OutcomeCounts,
	}
}
