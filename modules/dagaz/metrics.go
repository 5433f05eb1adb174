package dagaz

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	appKeyLabel  = "app_key"
	mergedLabel  = "merged"
	errTypeLabel = "error_type"
)

var (
	dagazQuads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dagaz_quads",
		Help: "The number of accepted quad samples.",
	}, []string{appKeyLabel, mergedLabel})

	dagazQuadMerges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dagaz_quad_merges",
		Help: "The number of quad samples blended into an existing quad.",
	}, []string{appKeyLabel})

	dagazRejectedQuads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dagaz_rejected_quads",
		Help: "The number of quad samples that were dropped.",
	}, []string{appKeyLabel, errTypeLabel})
)

func instrumentQuad(appKey string, merged bool) {
	m := "false"
	if merged {
		m = "true"

		dagazQuadMerges.
			With(prometheus.Labels{appKeyLabel: appKey}).
			Inc()
	}

	dagazQuads.
		With(prometheus.Labels{
			appKeyLabel: appKey,
			mergedLabel: m,
		}).
		Inc()
}

func instrumentRejectedQuad(appKey string, err error) {
	dagazRejectedQuads.
		With(prometheus.Labels{
			appKeyLabel:  appKey,
			errTypeLabel: errors.Type(err),
		}).
		Inc()
}
