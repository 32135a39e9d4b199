/*
Package stagepath models locations inside Snowflake stages as immutable
path values.

A Path pairs a stage name with a slash-separated relative key:

	snowflake://stages/nxf_work/runs/3f/a1/.command.run
	                    └stage┘ └────── relative key ──────┘

Paths are pure values: navigation (Parent, Resolve, Relativize,
Normalize) returns new instances, construction enforces the two safety
invariants (no leading slash, no ".." segment, so a key can never escape
its stage), and no Path ever owns a session or a filesystem handle.

# URI form

Absolute paths render as "snowflake://stages/<stage>/<key...>" with
every segment percent-encoded independently, so segment text that is
unsafe in a URI round-trips through Parse. Any string without the URI
prefix parses as a bare relative key.

# Crossing process boundaries

The task runtime serializes paths into task context. Serialized is the
reduced form {stageName, relativeKey, absolute}; it deliberately omits
any filesystem reference, because the owning filesystem holds pooled
session state that cannot cross a process boundary. Consumers re-bind a
deserialized path by looking up the provider registry.

# Case sensitivity

Equality and ordering are case-sensitive on both fields. The one
exception is Relativize, which compares stage names case-insensitively
because the remote service normalizes stage-name case in its own
responses.
*/
package stagepath
