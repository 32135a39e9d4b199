package stream

import (
	"context"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/Snowflake-Labs/nf-snowflake/internal/config"
	"github.com/Snowflake-Labs/nf-snowflake/internal/metrics"
	"github.com/Snowflake-Labs/nf-snowflake/internal/session"
	"github.com/Snowflake-Labs/nf-snowflake/internal/stage"
	perrors "github.com/Snowflake-Labs/nf-snowflake/pkg/errors"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/stagepath"
)

// Opener hands out streaming readers and writers backed by pooled
// sessions. Each stream pins one session for its whole life, so the pool
// size caps concurrent streams; writers additionally pass through a
// worker semaphore that bounds background upload tasks independently of
// reads.
type Opener struct {
	pool   *session.ConnectionPool
	client *stage.Client

	uploadSem  *semaphore.Weighted
	chunkSize  int
	bufferSize int

	logger    *slog.Logger
	collector *metrics.Collector
}

// NewOpener builds an Opener on top of an existing pool and stage client.
// Zero or missing upload settings fall back to the package defaults.
func NewOpener(
	pool *session.ConnectionPool,
	client *stage.Client,
	cfg config.UploadConfig,
	logger *slog.Logger,
	collector *metrics.Collector,
) *Opener {
	defaults := config.NewDefault().Upload
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaults.ChunkSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Opener{
		pool:       pool,
		client:     client,
		uploadSem:  semaphore.NewWeighted(int64(cfg.Workers)),
		chunkSize:  cfg.ChunkSize,
		bufferSize: cfg.BufferSize,
		logger:     logger.With("component", "stream-opener"),
		collector:  collector,
	}
}

// OpenWriter starts a streaming upload to target. The returned writer is
// not safe for concurrent use. The remote object materializes only after
// Close returns nil; callers that abandon a writer must still Close it to
// free its session and worker slot.
//
// OpenWriter blocks while all upload workers are busy, honoring ctx.
func (o *Opener) OpenWriter(ctx context.Context, target stagepath.Path) (*UploadWriter, error) {
	if !target.IsAbsolute() {
		return nil, perrors.New(perrors.ErrCodeIllegalArgument, "upload target must be an absolute stage path").
			WithPath(target.String()).
			WithOperation("open_writer")
	}
	if target.FileName() == "" {
		return nil, perrors.New(perrors.ErrCodeIllegalArgument, "upload target must name an object, not a stage root").
			WithPath(target.String()).
			WithOperation("open_writer")
	}

	if err := o.uploadSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	ps, err := o.pool.Acquire(ctx)
	if err != nil {
		o.uploadSem.Release(1)
		return nil, err
	}

	return newUploadWriter(ctx, target, ps, o.client, o.uploadSem, o.chunkSize, o.bufferSize, o.logger, o.collector), nil
}

// OpenReader starts a streaming download of source. The object is stat'ed
// first on the same session the download will use, so a missing object or
// a directory fails here rather than on the first Read. The returned
// reader is not safe for concurrent use and must be closed.
func (o *Opener) OpenReader(ctx context.Context, source stagepath.Path) (*DownloadReader, error) {
	if !source.IsAbsolute() {
		return nil, perrors.New(perrors.ErrCodeIllegalArgument, "download source must be an absolute stage path").
			WithPath(source.String()).
			WithOperation("open_reader")
	}

	ps, err := o.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	entry, err := o.client.Stat(ctx, ps, source)
	if err != nil {
		ps.Release()
		return nil, err
	}
	if entry.IsDirectory {
		ps.Release()
		return nil, perrors.New(perrors.ErrCodeIllegalArgument, "cannot open a directory for reading").
			WithPath(source.String()).
			WithOperation("open_reader")
	}

	return newDownloadReader(ctx, source, ps, o.client, o.logger, o.collector), nil
}
