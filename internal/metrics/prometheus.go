package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "webview_bridge"

// Exporter publishes a Collector's snapshot as Prometheus metrics.
type Exporter struct {
	collector *Collector

	commands *prometheus.Desc
	outcomes *prometheus.Desc
	statuses *prometheus.Desc
	latency  *prometheus.Desc
	requests *prometheus.Desc
	rejected *prometheus.Desc
	retries  *prometheus.Desc
	inFlight *prometheus.Desc
	uptime   *prometheus.Desc
}

// NewExporter creates an exporter reading from c.
func NewExporter(c *Collector) *Exporter {
	return &Exporter{
		collector: c,
		commands: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "commands_total"),
			"Bridge commands issued, by command.",
			[]string{"command"}, nil),
		outcomes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "command_outcomes_total"),
			"Bridge command outcomes, by outcome.",
			[]string{"outcome"}, nil),
		statuses: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "browser_host_responses_total"),
			"Browser host responses, by HTTP status code.",
			[]string{"code"}, nil),
		latency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "command_duration_seconds"),
			"Bridge command latency.",
			nil, nil),
		requests: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "http", "requests_total"),
			"Requests received by the route layer.",
			nil, nil),
		rejected: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "http", "rejected_total"),
			"Requests refused by rate limiting.",
			nil, nil),
		retries: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "retries_total"),
			"Caller-side retry attempts.",
			nil, nil),
		inFlight: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "http", "in_flight_requests"),
			"Route layer requests currently being served.",
			nil, nil),
		uptime: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "uptime_seconds"),
			"Seconds since the collector started.",
			nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.commands
	ch <- e.outcomes
	ch <- e.statuses
	ch <- e.latency
	ch <- e.requests
	ch <- e.rejected
	ch <- e.retries
	ch <- e.inFlight
	ch <- e.uptime
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.collector.Snapshot()

	for command, n := range s.CommandCounts {
		ch <- prometheus.MustNewConstMetric(e.commands, prometheus.CounterValue, float64(n), command)
	}
	for outcome, n := range s.OutcomeCounts {
		ch <- prometheus.MustNewConstMetric(e.outcomes, prometheus.CounterValue, float64(n), outcome)
	}
	for code, n := range s.StatusCodes {
		ch <- prometheus.MustNewConstMetric(e.statuses, prometheus.CounterValue, float64(n), strconv.Itoa(code))
	}

	buckets := make(map[float64]uint64, len(latencyBounds))
	var cumulative uint64
	var count uint64
	for i, n := range s.LatencyHist {
		count += uint64(n)
		if i < len(latencyBounds) {
			cumulative += uint64(n)
			buckets[latencyBounds[i].Seconds()] = cumulative
		}
	}
	ch <- prometheus.MustNewConstHistogram(e.latency, count, float64(s.LatencySumMillis)/1000, buckets)

	ch <- prometheus.MustNewConstMetric(e.requests, prometheus.CounterValue, float64(s.RequestsTotal))
	ch <- prometheus.MustNewConstMetric(e.rejected, prometheus.CounterValue, float64(s.RejectedTotal))
	ch <- prometheus.MustNewConstMetric(e.retries, prometheus.CounterValue, float64(s.RetriesTotal))
	ch <- prometheus.MustNewConstMetric(e.inFlight, prometheus.GaugeValue, float64(s.InFlightRequests))
	ch <- prometheus.MustNewConstMetric(e.uptime, prometheus.GaugeValue, s.Uptime.Seconds())
}

// Handler returns an HTTP handler serving c on its own registry, alongside
// the Go runtime and process collectors.
func Handler(c *Collector) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		NewExporter(c),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
