package auto

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ottogo",
		Subsystem: "auto",
		Name:      "enabled",
		Help:      "1 while the autopilot is choosing commands.",
	})
	metricDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ottogo",
		Subsystem: "auto",
		Name:      "dispatched_total",
		Help:      "Commands issued by the autopilot, by kind.",
	}, []string{"kind"})
)
