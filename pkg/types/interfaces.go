package types

import (
	"context"
	"io"

	"github.com/Snowflake-Labs/nf-snowflake/pkg/stagepath"
)

// FileSystem is the filesystem contract the task runtime consumes. One
// instance serves every stage reachable through its session pool; the
// stage is carried by each path, not by the instance.
//
// Implementations are safe for concurrent use. Streams returned by
// NewInputStream/NewOutputStream each own one pooled session until
// closed; Close is mandatory on every success and error path.
type FileSystem interface {
	// GetPath parses a stage URI or bare relative key.
	GetPath(ref string) (stagepath.Path, error)

	// NewInputStream opens a sequential reader over the object at p.
	NewInputStream(ctx context.Context, p stagepath.Path) (io.ReadCloser, error)

	// NewOutputStream opens a sequential writer that uploads to p in
	// the background. Bytes are only guaranteed visible to readers
	// after Close returns.
	NewOutputStream(ctx context.Context, p stagepath.Path) (io.WriteCloser, error)

	// ReadAttributes stats p, synthesizing directory entries for key
	// prefixes that contain entries.
	ReadAttributes(ctx context.Context, p stagepath.Path) (StageEntry, error)

	// NewDirectoryStream lists the immediate children of dir.
	NewDirectoryStream(ctx context.Context, dir stagepath.Path) ([]stagepath.Path, error)

	// Delete removes the object at p. Deleting an absent key succeeds.
	Delete(ctx context.Context, p stagepath.Path) error

	// Copy duplicates src to dst through a local spool file.
	Copy(ctx context.Context, src, dst stagepath.Path, opts ...CopyOption) error

	// Move is Copy followed by Delete; not atomic.
	Move(ctx context.Context, src, dst stagepath.Path, opts ...CopyOption) error

	// Exists reports whether p has metadata; every failure maps to
	// false.
	Exists(ctx context.Context, p stagepath.Path) bool

	// CreateDirectory is a no-op: directories are implicit.
	CreateDirectory(ctx context.Context, p stagepath.Path) error

	// CheckAccess validates existence; an execute-mode request fails
	// with UNSUPPORTED.
	CheckAccess(ctx context.Context, p stagepath.Path, modes ...AccessMode) error

	// IsHidden always reports false: the stage namespace has no hidden
	// flag.
	IsHidden(p stagepath.Path) bool
}

// Provider resolves filesystem instances. There is one instance per
// scheme+authority key, created on first use and reused; a
// deserialized path re-binds to its filesystem through FileSystemFor.
type Provider interface {
	// FileSystem returns the instance for the scheme+authority pair,
	// creating it idempotently on first use.
	FileSystem(scheme, authority string) (FileSystem, error)

	// GetPath parses a stage URI, ensuring its filesystem exists.
	GetPath(uri string) (stagepath.Path, error)

	// FileSystemFor returns the filesystem owning p.
	FileSystemFor(p stagepath.Path) (FileSystem, error)
}

// Executor submits workflow tasks as compute job services and observes
// them.
type Executor interface {
	Submit(ctx context.Context, job JobSpec) error
	Status(ctx context.Context, name string) (JobStatus, error)
	// Wait polls Status under a rate limit until the job reaches a
	// terminal state or ctx is done.
	Wait(ctx context.Context, name string) (JobStatus, error)
	Logs(ctx context.Context, name string) (string, error)
	Drop(ctx context.Context, name string) error
}

// TraceWriter accumulates task trace records and flushes them onto the
// stage as a single snapshot file.
type TraceWriter interface {
	Record(rec TraceRecord)
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// CacheStore is the content-addressed key/value store used to persist
// run state between executions.
type CacheStore interface {
	// Put stores value under key and returns the value's content
	// digest.
	Put(ctx context.Context, key string, value []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Has(ctx context.Context, key string) bool
	Delete(ctx context.Context, key string) error
}
