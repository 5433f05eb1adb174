package models

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	appKeyLabel = "app_key"
)

var (
	hagallSessionCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "session_count",
		Help: "The number of sessions.",
	}, []string{appKeyLabel})

	hagallSessionCountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_count_total",
		Help: "The total number of sessions.",
	}, []string{appKeyLabel})
)

func instrumentIncreaseSessionGauge(appKey string) {
	hagallSessionCount.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Inc()
}

func instrumentDecreaseSessionGauge(appKey string) {
	hagallSessionCount.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Dec()
}

func instrumentCountSession(appKey string) {
	hagallSessionCountTotal.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Inc()
}

var (
	entityRelocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spatial_entity_relocations",
		Help: "The number of entities moved to another octree cell after a pose update.",
	}, []string{appKeyLabel})

	entityOutOfUniverse = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spatial_entity_out_of_universe",
		Help: "The number of entity poses refused because they are outside of the session universe.",
	}, []string{appKeyLabel})

	entityQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spatial_query_latency",
		Help:    "The time to find the entities within a radius, in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10),
	}, []string{appKeyLabel})
)

func instrumentEntityRelocation(appKey string) {
	entityRelocations.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Inc()
}

func instrumentEntityOutOfUniverse(appKey string) {
	entityOutOfUniverse.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Inc()
}

func instrumentQueryLatency(appKey string, start time.Time) {
	entityQueryLatency.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Observe(time.Since(start).Seconds())
}
