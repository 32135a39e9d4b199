/*
Package metrics provides Prometheus instrumentation for the plugin.

A single Collector aggregates everything the plugin measures: remote stage
operations, transfer volume, session pool occupancy, open streams, job
lifecycle events, and local cache effectiveness. Components receive a
*Collector and record through it; a nil or disabled collector turns every
method into a no-op, so instrumentation never forces setup in tests or in
embedders that do not scrape.

# Metric Families

	nf_snowflake_stage_operations_total{operation,status}
	nf_snowflake_stage_operation_duration_seconds{operation}
	nf_snowflake_stage_transfer_bytes_total{direction}
	nf_snowflake_pool_sessions{state}
	nf_snowflake_pool_waiters
	nf_snowflake_pool_acquire_wait_seconds
	nf_snowflake_streams_open{direction}
	nf_snowflake_jobs_total{outcome}
	nf_snowflake_cache_requests_total{result}
	nf_snowflake_errors_total{operation,code}

# Registry Ownership

The collector registers on a caller-supplied prometheus.Registerer when one
is given, so an embedding application can fold plugin metrics into its own
exposition endpoint. With a nil registerer the collector owns a private
registry, reachable through Registry(), which keeps tests hermetic and
avoids default-registry collisions when several plugin instances coexist
in one process.

Alongside the Prometheus vectors the collector keeps a per-operation
summary (count, errors, bytes, cumulative duration) that Snapshot() copies
out for debug logging without a scrape round trip.
*/
package metrics
