package web

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ottogo",
		Subsystem: "web",
		Name:      "stream_subscribers",
		Help:      "Open status stream subscriptions.",
	})
	metricDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ottogo",
		Subsystem: "web",
		Name:      "stream_dropped_total",
		Help:      "Status events dropped for slow subscribers.",
	})
)
