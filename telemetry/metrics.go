package telemetry

// Advance latency buckets; snapshot advancement is local I/O plus log decode.
var AdvanceBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}

// Coordinator metrics
var (
	// CommitsObserved counts external-commit signals received per coordinator.
	CommitsObserved Counter = NoopStat{}

	// LogEventsApplied counts transaction log events streamed into observers.
	LogEventsApplied Counter = NoopStat{}

	// QueriesRun counts async query executions.
	QueriesRun Counter = NoopStat{}

	// QueryHandovers counts results delivered to consumer threads.
	QueryHandovers Counter = NoopStat{}

	// DeadQueriesSwept counts queries removed by cleanup passes.
	DeadQueriesSwept Counter = NoopStat{}

	// HandleCacheTotal counts cached-handle lookups by result (hit, miss).
	HandleCacheTotal CounterVec = noopCounterVec{}

	// SchemaValidationFailures counts rejected external schema deltas.
	SchemaValidationFailures Counter = NoopStat{}

	// AdvanceSeconds measures helper snapshot advancement latency.
	AdvanceSeconds Histogram = NoopStat{}

	// LiveQueries tracks currently registered async queries.
	LiveQueries Gauge = NoopStat{}
)

func initializeStats() {
	CommitsObserved = NewCounter("commits_observed_total", "External commit signals received")
	LogEventsApplied = NewCounter("log_events_applied_total", "Transaction log events streamed into observers")
	QueriesRun = NewCounter("queries_run_total", "Async query executions")
	QueryHandovers = NewCounter("query_handovers_total", "Results delivered to consumer threads")
	DeadQueriesSwept = NewCounter("dead_queries_swept_total", "Queries removed by cleanup passes")
	HandleCacheTotal = NewCounterVec("handle_cache_total", "Cached handle lookups by result", []string{"result"})
	SchemaValidationFailures = NewCounter("schema_validation_failures_total", "Rejected external schema deltas")
	AdvanceSeconds = NewHistogram("advance_seconds", "Helper snapshot advancement latency", AdvanceBuckets)
	LiveQueries = NewGauge("live_queries", "Currently registered async queries")
}
