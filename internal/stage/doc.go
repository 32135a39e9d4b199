/*
Package stage speaks the stage command protocol: PUT, GET, LS, and REMOVE
statements executed over borrowed sessions.

The key space behind a stage is flat. Directories do not exist remotely;
they are emulated client-side from key structure, so "runs/1" is a
directory exactly when some object key begins with "runs/1/". Stat encodes
that rule: an exact key match is an object, a slash-boundary prefix match
is a directory, and anything else is absent. A second, slash-terminated
listing separates a real directory from an unrelated key that merely
extends the requested one ("a/b" versus "a/bc.txt").

Payloads stream through the session's file-transfer channel in both
directions; nothing is spooled to local disk here. The local file URI
inside a PUT contributes only the remote leaf name, and the one inside a
GET is a placeholder the driver never touches.

Listings come back with every name qualified by the stage ("<stage>/<key>")
and case-normalized by the service. The client strips the qualifier
case-insensitively and compares keys case-insensitively, while preserving
the remote casing in returned entries. The service does not report
modification times through this path, so entries surface the fixed
sentinel time instead; callers that need freshness compare content
digests.

Failures map onto the plugin error taxonomy by message shape: anything the
service phrases as missing ("does not exist", "not found") becomes a
not-found error, everything else a retryable remote I/O error.
*/
package stage
