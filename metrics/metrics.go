// Package metrics defines the engine's prometheus collectors, following the
// teacher's differ.StateDifferConfig convention of taking a
// prometheus.Registerer at construction time.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is registered once per process. Only cmd/searcher's own loops
// update it (BlocksSeen, CyclesEvaluated, SimReverts); the other collectors
// are registered but no component updates them.
type Metrics struct {
	BlocksSeen       prometheus.Counter
	BlockLatency     prometheus.Histogram
	PoolsTouched     prometheus.Histogram
	CyclesEvaluated  prometheus.Counter
	QuoteDuration    prometheus.Histogram
	SimDuration      prometheus.Histogram
	SimReverts       prometheus.Counter
	TxSent           prometheus.Counter
	TxIncluded       prometheus.Counter
	TxFailed         prometheus.Counter
	ProfitWei        prometheus.Histogram
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
}

// New builds and registers the metrics set against reg. Panics on duplicate
// registration, matching prometheus.MustRegister's contract, so callers
// should construct this exactly once per process.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BlocksSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flasharb",
			Name:      "blocks_seen_total",
			Help:      "newHeads events observed by the block tracker.",
		}),
		BlockLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flasharb",
			Name:      "block_processing_seconds",
			Help:      "Wall time from block receipt to searcher completion.",
			Buckets:   prometheus.DefBuckets,
		}),
		PoolsTouched: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flasharb",
			Name:      "pools_touched_count",
			Help:      "Number of pools touched per block, from the prestate diff.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		CyclesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flasharb",
			Name:      "cycles_evaluated_total",
			Help:      "Candidate cycles handed to the simulator.",
		}),
		QuoteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flasharb",
			Name:      "quote_duration_seconds",
			Help:      "Offchain quote computation latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		SimDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flasharb",
			Name:      "simulation_duration_seconds",
			Help:      "In-process EVM simulation latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		SimReverts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flasharb",
			Name:      "simulation_reverts_total",
			Help:      "Candidate cycles whose simulation returned an error (revert, blacklisted path, or other quote failure).",
		}),
		TxSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flasharb",
			Name:      "transactions_sent_total",
			Help:      "Arbitrage transactions submitted to the sequencer.",
		}),
		TxIncluded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flasharb",
			Name:      "transactions_included_total",
			Help:      "Submitted transactions confirmed included.",
		}),
		TxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flasharb",
			Name:      "transactions_failed_total",
			Help:      "Submitted transactions that reverted on-chain.",
		}),
		ProfitWei: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flasharb",
			Name:      "profit_wei",
			Help:      "Estimated profit of executed arbitrages, in wei.",
			Buckets:   prometheus.ExponentialBuckets(1e12, 4, 12),
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flasharb",
			Name:      "quote_cache_hits_total",
			Help:      "Offchain quote cache hits within a block.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flasharb",
			Name:      "quote_cache_misses_total",
			Help:      "Offchain quote cache misses within a block.",
		}),
	}

	reg.MustRegister(
		m.BlocksSeen, m.BlockLatency, m.PoolsTouched, m.CyclesEvaluated,
		m.QuoteDuration, m.SimDuration, m.SimReverts,
		m.TxSent, m.TxIncluded, m.TxFailed, m.ProfitWei,
		m.CacheHits, m.CacheMisses,
	)
	return m
}
