// Package telemetry exposes Prometheus collectors for the substrate and
// the modality layers. Collectors are registered on the default
// registry so serving binaries only need to mount promhttp.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubstrateOps counts batched substrate calls by operation
	// ("read", "write", "scan") and outcome ("ok", "error").
	SubstrateOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ustore",
		Subsystem: "substrate",
		Name:      "ops_total",
		Help:      "Batched substrate operations by op and outcome.",
	}, []string{"op", "outcome"})

	// SubstrateKeys counts individual keys touched by substrate calls.
	SubstrateKeys = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ustore",
		Subsystem: "substrate",
		Name:      "keys_total",
		Help:      "Keys touched by substrate operations, by op.",
	}, []string{"op"})

	// BatchSize observes the task count of modality batches.
	BatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ustore",
		Name:      "batch_tasks",
		Help:      "Tasks per modality batch.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"modality", "op"})

	// DocsCoalesced tracks document-read deduplication: tasks requested
	// vs distinct substrate reads actually issued.
	DocsCoalesced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ustore",
		Subsystem: "docs",
		Name:      "coalesced_reads_total",
		Help:      "Document read tasks vs distinct substrate reads.",
	}, []string{"stage"})
)
