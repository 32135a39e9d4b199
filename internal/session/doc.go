/*
Package session manages authenticated Snowflake connections and the pool
that bounds them.

A Session is one server-side connection wrapped behind a narrow interface:
execute a statement, run a query, stream a PUT payload up or a GET payload
down. Each Session pins its database/sql handle to a single underlying
connection, so the ConnectionPool, not the driver, decides how many
connections the plugin holds against the account.

# Pool Semantics

	┌──────────┐  Acquire   ┌──────────────────┐   dial    ┌───────────┐
	│  caller  │ ─────────► │  ConnectionPool  │ ────────► │ Snowflake │
	└──────────┘            │  (≤ MaxSessions) │           └───────────┘
	      │                 └──────────────────┘
	      │ Release / ReleaseBroken     ▲
	      └─────────────────────────────┘

Sessions are dialed lazily: the first acquisitions each create one until
the pool reaches MaxSessions, after which callers block until a session is
released. Blocking is bounded by AcquireTimeout (pool-exhausted error) and
by the caller's context. Warmup pre-dials sessions so the first tasks of a
run skip login latency.

Every Acquire returns a PooledSession that must be released exactly once:
Release recycles the connection, ReleaseBroken discards it and frees the
capacity slot for a replacement. A duplicate release is ignored in
production and panics in debug mode, because a session used after release
belongs to another caller.

Close drains and closes idle sessions, wakes blocked acquirers with a
pool-closed error, and turns later releases into teardowns.
*/
package session
