package transport

import (
	"fmt"

	metrics "github.com/rcrowley/go-metrics"
)

// Stats counts traffic through one transport.
type Stats struct {
	// request channel
	sent     metrics.Counter
	retries  metrics.Counter
	timeouts metrics.Counter
	replies  metrics.Counter
	stale    metrics.Counter

	// inbound channel
	received   metrics.Counter
	dispatched metrics.Counter
	unhandled  metrics.Counter
	failed     metrics.Counter
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Sent       int64 `json:"sent"`
	Retries    int64 `json:"retries"`
	Timeouts   int64 `json:"timeouts"`
	Replies    int64 `json:"replies"`
	Stale      int64 `json:"stale"`
	Received   int64 `json:"received"`
	Dispatched int64 `json:"dispatched"`
	Unhandled  int64 `json:"unhandled"`
	Failed     int64 `json:"failed"`
}

func newStats(r metrics.Registry, id string) *Stats {
	return &Stats{
		sent:       metrics.NewRegisteredCounter(metricName(id, "transport.Sent"), r),
		retries:    metrics.NewRegisteredCounter(metricName(id, "transport.Retries"), r),
		timeouts:   metrics.NewRegisteredCounter(metricName(id, "transport.Timeouts"), r),
		replies:    metrics.NewRegisteredCounter(metricName(id, "transport.Replies"), r),
		stale:      metrics.NewRegisteredCounter(metricName(id, "transport.Stale"), r),
		received:   metrics.NewRegisteredCounter(metricName(id, "transport.Received"), r),
		dispatched: metrics.NewRegisteredCounter(metricName(id, "transport.Dispatched"), r),
		unhandled:  metrics.NewRegisteredCounter(metricName(id, "transport.Unhandled"), r),
		failed:     metrics.NewRegisteredCounter(metricName(id, "transport.Failed"), r),
	}
}

func metricName(id, name string) string {
	return fmt.Sprintf("-- %s --: %s", id, name)
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Sent:       s.sent.Count(),
		Retries:    s.retries.Count(),
		Timeouts:   s.timeouts.Count(),
		Replies:    s.replies.Count(),
		Stale:      s.stale.Count(),
		Received:   s.received.Count(),
		Dispatched: s.dispatched.Count(),
		Unhandled:  s.unhandled.Count(),
		Failed:     s.failed.Count(),
	}
}
