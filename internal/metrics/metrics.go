package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Consensus metrics
	ProviderResultsMerged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "citepipe_provider_results_merged_total",
			Help: "Total raw provider results consumed by the consensus merger",
		},
	)

	ConsensusGroups = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "citepipe_consensus_group_size",
			Help:    "Number of providers agreeing on a merged URL",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	// Deduplication metrics
	DedupRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citepipe_dedup_removed_total",
			Help: "Sources removed by deduplication, by stage",
		},
		[]string{"stage"},
	)

	// Selection metrics
	SourcesScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "citepipe_sources_scored_total",
			Help: "Candidate sources scored by the citation selector",
		},
	)

	SourcesSelected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "citepipe_sources_selected_total",
			Help: "Sources selected as citations",
		},
	)

	CompositeScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "citepipe_composite_score",
			Help:    "Composite relevance score distribution of scored sources",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	// Trust prior metrics
	TrustStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citepipe_trust_store_errors_total",
			Help: "Trust prior store failures, by operation",
		},
		[]string{"op"},
	)

	TrustPriorsUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "citepipe_trust_priors_updated_total",
			Help: "Domain reliability ratios written back after a run",
		},
	)

	// Pipeline metrics
	RunsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "citepipe_runs_created_total",
			Help: "Run bundles persisted",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "citepipe_stage_duration_seconds",
			Help:    "Pipeline stage execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
)
