// Package metrics holds the Prometheus collectors for the rack and allocation services.
// Collectors register on the default registry; GET /metrics serves them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rackrunner"

var (
	RacksSealed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "racks_sealed_total",
		Help:      "Racks closed and materialized into inventory batches.",
	})

	UnitsSealed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "units_sealed_total",
		Help:      "Meal units moved from racks into inventory batches.",
	})

	BatchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_created_total",
		Help:      "Inventory batches created by seals.",
	})

	UnitsScanned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "units_scanned_total",
		Help:      "Meal units scanned into open racks.",
	})

	UnitsAllocated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "units_allocated_total",
		Help:      "Units allocated to packing requirements, by mode (fifo, override).",
	}, []string{"mode"})

	UnitsUnmet = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "units_unmet_total",
		Help:      "Units a FIFO allocation could not cover for lack of stock.",
	})

	LabelFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "label_failures_total",
		Help:      "Rack label failures after a committed seal, by stage.",
	}, []string{"stage"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method, route pattern and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
