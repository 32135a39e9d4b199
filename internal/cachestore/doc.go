// Package cachestore persists run state between workflow executions as
// content-addressed objects on a stage.
//
// Layout under the configured prefix:
//
//	cache/
//	  objects/ab/ab34…ef    1 tag byte + (possibly compressed) value
//	  index/9f27c1d2e005ab10    CBOR {key, digest, raw_size, stored_size, codec}
//
// Objects are addressed by the BLAKE3 digest of the raw value, so two
// keys with identical values share one object and a re-run that
// produces the same bytes uploads nothing new. Index slots are
// addressed by a 64-bit hash of the key; the record carries the full
// key, and a slot holding a foreign key reads as a miss rather than
// serving another key's value.
//
// The payload's first byte selects the codec (none, lz4, zstd). The
// writer falls back to storing raw bytes whenever compression does not
// shrink the value, so already-compressed task outputs cost one byte of
// overhead instead of growing. Every Get re-hashes the decoded value
// and refuses to return bytes whose digest disagrees with the index
// record.
//
// All reads and writes go through the FileSystem contract; the store
// has no transport of its own.
package cachestore
