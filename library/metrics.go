package library

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK    = "ok"
	resultError = "error"
)

var (
	importsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "charcards",
			Name:      "imports_total",
			Help:      "Card files imported, by container and result.",
		},
		[]string{"source", "result"},
	)

	exportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "charcards",
			Name:      "exports_total",
			Help:      "Exports written, by format and result.",
		},
		[]string{"format", "result"},
	)

	bundleFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "charcards",
			Name:      "bundle_json_fallbacks_total",
			Help:      "Characters bundled as json because png export failed.",
		},
	)
)

func result(err error) string {
	if err != nil {
		return resultError
	}
	return resultOK
}
