package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// registrationsTotal counts registration attempts by outcome.
	registrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faceattend_registrations_total",
			Help: "Registration attempts by outcome",
		},
		[]string{"outcome"},
	)

	// checkinsTotal counts check-in attempts by outcome.
	checkinsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faceattend_checkins_total",
			Help: "Check-in attempts by outcome",
		},
		[]string{"outcome"},
	)

	// streamSubscribers tracks currently connected SSE clients.
	streamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "faceattend_stream_subscribers",
			Help: "Currently connected attendance stream subscribers",
		},
	)
)
