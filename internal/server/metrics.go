package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ottogo",
		Subsystem: "server",
		Name:      "sessions_active",
		Help:      "Connected operator sessions.",
	})
	metricCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ottogo",
		Subsystem: "server",
		Name:      "commands_total",
		Help:      "Commands received, by route and acceptance.",
	}, []string{"route", "accept"})
	metricRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ottogo",
		Subsystem: "server",
		Name:      "controller_restarts_total",
		Help:      "Terminated controllers replaced by the supervisor.",
	})
)
