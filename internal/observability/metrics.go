package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventDispatchedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tendabike",
		Subsystem: "events",
		Name:      "last_event_dispatched_timestamp_seconds",
		Help:      "Unix timestamp of the most recent external event successfully dispatched.",
	})
	stopBarrierGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tendabike",
		Subsystem: "events",
		Name:      "last_stop_barrier_installed_timestamp_seconds",
		Help:      "Unix timestamp of the most recently installed rate-limit stop barrier.",
	})
	planCrossingCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tendabike",
		Subsystem: "maintenance",
		Name:      "plan_crossings_total",
		Help:      "Total number of service plan threshold crossings detected.",
	})
)

func init() {
	prometheus.MustRegister(eventDispatchedGauge, stopBarrierGauge, planCrossingCounter)
}

// RecordEventDispatched updates the dispatch watermark gauge.
func RecordEventDispatched(ts time.Time) {
	if ts.IsZero() {
		return
	}
	eventDispatchedGauge.Set(float64(ts.Unix()))
}

// RecordStopBarrierInstalled updates the stop-barrier watermark gauge.
func RecordStopBarrierInstalled(ts time.Time) {
	if ts.IsZero() {
		return
	}
	stopBarrierGauge.Set(float64(ts.Unix()))
}

// RecordPlanCrossing increments the plan-crossing counter.
func RecordPlanCrossing(n int) {
	if n <= 0 {
		return
	}
	planCrossingCounter.Add(float64(n))
}
