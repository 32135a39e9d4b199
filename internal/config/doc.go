/*
Package config provides configuration management for the Snowflake plugin with multi-source support.

This package implements a layered configuration system that supports YAML files and
environment variables on top of compiled-in defaults. It provides validation and type
safety for every component of the plugin: session pooling, stage uploads, job execution,
trace reporting, and the local task cache.

# Configuration Architecture

Multi-source configuration hierarchy with precedence:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│          (NXF_SNOWFLAKE_*)                  │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration Files                 │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (Compiled-in defaults)               │
	└─────────────────────────────────────────────┘

# Configuration Structure

Configuration sections and what they drive:

Connection Settings:
- Account, user, and credential selection (password or OAuth token)
- Database, schema, warehouse, and role for issued statements
- Login timeout applied when dialing

Compute Settings:
- Compute pool that task jobs are submitted to
- Container registry mappings for image rewriting
- Poll interval for job status checks

Stage Settings:
- Work directory stage backing the virtual filesystem
- Additional stage mounts exposed to tasks
- Local cache directory used to spool stage objects

Pool Settings:
- Maximum concurrent sessions against the account
- Acquire timeout before callers give up waiting

Upload Settings:
- Streaming buffer size and chunk granularity
- Worker ceiling for concurrent background uploads

Cache and Trace Settings:
- Compression codec for cached task payloads
- Trace report stage key and flush interval

# Usage Examples

Loading configuration:

	// Create with defaults
	cfg := config.NewDefault()

	// Load from file
	if err := cfg.LoadFromFile("/etc/nf-snowflake/config.yaml"); err != nil {
		log.Fatal(err)
	}

	// Load environment variables
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}

	// Validate final configuration
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

Configuration file format:

	connection:
	  account: myorg-myaccount
	  user: nxf
	  password: secret
	  database: PIPELINES
	  schema: RUNS
	  warehouse: NXF_WH

	compute:
	  compute_pool: NXF_POOL
	  registry_mappings:
	    - "docker.io=/myorg/registry/dockerhub"
	  poll_interval: 3s

	stage:
	  workdir_stage: nxf_work
	  mounts:
	    - "nxf_data:/data"

	pool:
	  max_sessions: 8
	  acquire_timeout: 60s

	upload:
	  buffer_size: 32768
	  chunk_size: 8192
	  workers: 8

Environment variable mapping:

	# Connection settings
	NXF_SNOWFLAKE_ACCOUNT="myorg-myaccount"
	NXF_SNOWFLAKE_USER="nxf"
	NXF_SNOWFLAKE_PASSWORD="secret"

	# Pool settings
	NXF_SNOWFLAKE_MAX_SESSIONS="16"
	NXF_SNOWFLAKE_ACQUIRE_TIMEOUT="90s"

	# Stage settings
	NXF_SNOWFLAKE_LOCAL_CACHE_DIR="/scratch/nxf"

Environment variables take precedence over file values, so secrets can be injected
at deploy time without editing the checked-in configuration. Malformed numeric or
duration values in the environment are ignored rather than failing startup; the
previously loaded value stays in effect.

# Validation

Validate is called once after all sources are merged. It checks:

- Required connection fields (account, user, database, schema) are present
- A credential source is set; when both password and token are present the token wins
- The work directory stage is named
- Pool bounds are positive and the acquire timeout is non-negative
- The upload buffer is at least one chunk
- The compression codec is one of none, lz4, zstd
- Trace reporting, when enabled, names a destination key and interval
- The log level is one of DEBUG, INFO, WARN, ERROR

A configuration that fails validation is rejected before any session is opened,
so misconfiguration surfaces at plugin startup rather than mid-workflow.
*/
package config
