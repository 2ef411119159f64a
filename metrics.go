package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	discoveryRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localloop_discovery_requests_total",
			Help: "Discovery requests by outcome",
		},
		[]string{"status"},
	)

	discoveryCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "localloop_discovery_candidates",
			Help:    "Candidates returned per discovery request",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		},
	)

	swipesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localloop_swipes_total",
			Help: "Recorded swipes by type",
		},
		[]string{"type"},
	)

	matchesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "localloop_matches_created_total",
			Help: "Matches created from mutual likes",
		},
	)

	messagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "localloop_messages_sent_total",
			Help: "Messages sent inside matches",
		},
	)
)
