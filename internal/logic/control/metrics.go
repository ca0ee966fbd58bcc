package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ottogo",
		Subsystem: "control",
		Name:      "commands_total",
		Help:      "Commands executed by the controller, by kind.",
	}, []string{"kind"})
	metricRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ottogo",
		Subsystem: "control",
		Name:      "rejected_total",
		Help:      "Submissions refused by the controller.",
	})
	metricPreemptions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ottogo",
		Subsystem: "control",
		Name:      "preemptions_total",
		Help:      "Running commands canceled by an interrupt or a stop.",
	})
	metricQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ottogo",
		Subsystem: "control",
		Name:      "queue_depth",
		Help:      "Commands waiting behind the running one.",
	})
	metricTerminations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ottogo",
		Subsystem: "control",
		Name:      "terminations_total",
		Help:      "Controller workers that stopped, normally or not.",
	})
)
