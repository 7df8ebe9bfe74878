package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors for the ingestion pipeline, the optimistic write path and the
// identifier resolver.
var (
	EventsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statusfeed_events_received_total",
		Help: "Log events delivered by stream sources",
	})

	EventsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statusfeed_events_rejected_total",
		Help: "Log events dropped by schema validation or envelope decoding",
	})

	EventsFolded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statusfeed_events_folded_total",
		Help: "Log events successfully folded into the materialized view",
	})

	RecordsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statusfeed_records_deleted_total",
		Help: "Delete operations applied to the materialized view",
	})

	StreamReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statusfeed_stream_reconnects_total",
		Help: "Stream transport reconnect attempts",
	})

	OptimisticWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statusfeed_optimistic_writes_total",
		Help: "Authoritative writes accepted and speculatively indexed",
	})

	SecondaryWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statusfeed_secondary_write_failures_total",
		Help: "Optimistic store updates that failed after a successful authoritative write",
	})

	ResolverHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statusfeed_resolver_cache_hits_total",
		Help: "Identifier lookups served from the fresh cache",
	})

	ResolverMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statusfeed_resolver_cache_misses_total",
		Help: "Identifier lookups requiring a refetch",
	})

	ResolverFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statusfeed_resolver_fallbacks_total",
		Help: "Identifier lookups degraded to a stale or identity fallback",
	})
)

// Register installs all collectors on the default registry.
func Register() {
	prometheus.MustRegister(
		EventsReceived,
		EventsRejected,
		EventsFolded,
		RecordsDeleted,
		StreamReconnects,
		OptimisticWrites,
		SecondaryWriteFailures,
		ResolverHits,
		ResolverMisses,
		ResolverFallbacks,
	)
}
