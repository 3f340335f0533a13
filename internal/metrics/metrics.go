package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionStatsProvider exposes the call service's in-memory counters.
type SessionStatsProvider interface {
	ActiveSessionCount() int
	PendingCallerCount() int
}

// CallStatusCounter returns call counts grouped by status.
type CallStatusCounter interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// Collector is a prometheus.Collector that gathers worker metrics at
// scrape time.
type Collector struct {
	sessions  SessionStatsProvider
	calls     CallStatusCounter
	startTime time.Time

	activeSessionsDesc *prometheus.Desc
	pendingCallersDesc *prometheus.Desc
	callsTotalDesc     *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if
// unavailable.
func NewCollector(sessions SessionStatsProvider, calls CallStatusCounter, startTime time.Time) *Collector {
	return &Collector{
		sessions:  sessions,
		calls:     calls,
		startTime: startTime,

		activeSessionsDesc: prometheus.NewDesc(
			"ariworker_active_sessions",
			"Number of live in-memory call sessions",
			nil, nil,
		),
		pendingCallersDesc: prometheus.NewDesc(
			"ariworker_pending_callers",
			"Number of callers waiting for their callee leg",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"ariworker_calls_total",
			"Total number of persisted calls by status",
			[]string{"status"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"ariworker_uptime_seconds",
			"Seconds since the worker process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSessionsDesc
	ch <- c.pendingCallersDesc
	ch <- c.callsTotalDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.sessions != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeSessionsDesc, prometheus.GaugeValue,
			float64(c.sessions.ActiveSessionCount()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.pendingCallersDesc, prometheus.GaugeValue,
			float64(c.sessions.PendingCallerCount()),
		)
	}

	if c.calls != nil {
		counts, err := c.calls.CountByStatus(ctx)
		if err != nil {
			slog.Error("metrics: failed to count calls by status", "error", err)
		} else {
			for _, status := range []string{"new", "up", "ended", "failed"} {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue,
					float64(counts[status]), status,
				)
			}
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
