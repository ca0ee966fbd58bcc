package motion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricMoves = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ottogo",
		Subsystem: "motion",
		Name:      "moves_total",
		Help:      "Synchronized moves started.",
	})
	metricTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ottogo",
		Subsystem: "motion",
		Name:      "updates_total",
		Help:      "Four-channel pulse updates sent to the servo service.",
	})
	metricClamped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ottogo",
		Subsystem: "motion",
		Name:      "clamped_targets_total",
		Help:      "Channel targets clamped to the pulse bounds.",
	})
	metricWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ottogo",
		Subsystem: "motion",
		Name:      "write_errors_total",
		Help:      "Failed pulse updates.",
	})
)
