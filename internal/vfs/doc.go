// Package vfs layers filesystem semantics over the flat stage key space.
//
// The stage namespace has keys, not directories. This package emulates
// directories on top of it: a directory is any key prefix with entries
// below it, created implicitly by writes and gone when its last entry is
// deleted. NewDirectoryStream reduces the client's flat recursive listing
// to immediate children with a pure function, so given the keys
//
//	a/x.txt
//	a/b/y.txt
//	a/b/c/z.txt
//
// streaming the directory "a" yields exactly a/x.txt and a/b. Membership
// comparison is case-insensitive, because the remote normalizes key
// casing in listings, while returned paths keep the reported casing.
//
// Session discipline: every synchronous operation acquires one pooled
// session, uses it for its full duration, and releases it on all exits.
// Copy holds a single session across its stat, spool download, and
// re-upload. Streams own their sessions; see internal/stream.
//
// The Provider is the registry half: one filesystem instance per
// scheme+authority key, handed to deserialized paths that need to re-bind
// to a live instance. The registry is injected state, not a global.
package vfs
