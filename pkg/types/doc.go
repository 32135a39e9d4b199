/*
Package types defines the contracts between the plugin's components and
the data structures that cross package boundaries.

# Architecture Overview

The plugin layers a virtual filesystem over Snowflake stages and runs
tasks as compute job services:

	┌──────────────────────────────────────────────┐
	│              Task Runtime                    │
	│   (consumes FileSystem, Executor, Trace)     │
	└──────────────────────────────────────────────┘
	                     │
	┌──────────────────────────────────────────────┐
	│        Provider / StageFileSystem            │
	│              (internal/vfs)                  │
	└──────────────────────────────────────────────┘
	          │                      │
	┌─────────┴──────────┐ ┌─────────┴──────────┐
	│    StageClient     │ │   StreamAdapters   │
	│  (internal/stage)  │ │ (internal/stream)  │
	└────────────────────┘ └────────────────────┘
	          │                      │
	┌──────────────────────────────────────────────┐
	│            ConnectionPool                    │
	│           (internal/session)                 │
	└──────────────────────────────────────────────┘

# Core Interfaces

FileSystem:
The full filesystem contract the task runtime consumes: path
resolution, streaming reads and writes, attribute reads, directory
streams, delete, copy, and move. One instance serves all stages; the
stage is part of each path.

Provider:
Idempotent registry of FileSystem instances keyed by scheme+authority.
Deserialized paths re-bind to a live filesystem here rather than
carrying one across process boundaries.

Executor, TraceWriter, CacheStore:
The collaborator surfaces built on top of the filesystem layer: job
submission and polling, buffered trace output, and the content-
addressed run cache.

# Data Structures

StageEntry carries per-object metadata with a constant sentinel
modification time (consumers key on ContentDigest). JobSpec/JobStatus
describe compute job services. TraceRecord is one row of the task trace
file.

# Thread Safety

All interfaces here must be safe for concurrent use. Streams are the
exception: one stream belongs to one goroutine's call sequence, and its
Close releases the pooled session it owns.
*/
package types
