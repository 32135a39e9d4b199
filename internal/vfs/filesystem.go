package vfs

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/Snowflake-Labs/nf-snowflake/internal/session"
	"github.com/Snowflake-Labs/nf-snowflake/internal/stage"
	"github.com/Snowflake-Labs/nf-snowflake/internal/stream"
	perrors "github.com/Snowflake-Labs/nf-snowflake/pkg/errors"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/stagepath"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/types"
)

// StageFileSystem implements the filesystem contract over the flat stage
// key space. Synchronous operations hold exactly one pooled session for
// the duration of the call; streams returned by NewInputStream and
// NewOutputStream own theirs until closed.
type StageFileSystem struct {
	pool     *session.ConnectionPool
	client   *stage.Client
	opener   *stream.Opener
	spoolDir string

	logger *slog.Logger
}

var _ types.FileSystem = (*StageFileSystem)(nil)

// NewStageFileSystem wires a filesystem over an existing pool, stage
// client, and stream opener. spoolDir hosts temporary files for Copy;
// empty means the OS temp dir.
func NewStageFileSystem(
	pool *session.ConnectionPool,
	client *stage.Client,
	opener *stream.Opener,
	spoolDir string,
	logger *slog.Logger,
) *StageFileSystem {
	if spoolDir == "" {
		spoolDir = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StageFileSystem{
		pool:     pool,
		client:   client,
		opener:   opener,
		spoolDir: spoolDir,
		logger:   logger.With("component", "vfs"),
	}
}

// GetPath parses a stage URI or bare relative key.
func (fs *StageFileSystem) GetPath(ref string) (stagepath.Path, error) {
	return stagepath.Parse(ref)
}

// NewInputStream opens a sequential reader over the object at p.
func (fs *StageFileSystem) NewInputStream(ctx context.Context, p stagepath.Path) (io.ReadCloser, error) {
	r, err := fs.opener.OpenReader(ctx, p)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// NewOutputStream opens a background-upload writer targeting p. The
// object becomes visible only after Close returns nil.
func (fs *StageFileSystem) NewOutputStream(ctx context.Context, p stagepath.Path) (io.WriteCloser, error) {
	w, err := fs.opener.OpenWriter(ctx, p)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// ReadAttributes stats p, synthesizing a directory entry when p is a key
// prefix with entries below it.
func (fs *StageFileSystem) ReadAttributes(ctx context.Context, p stagepath.Path) (types.StageEntry, error) {
	if err := requireAbsolute(p, "read_attributes"); err != nil {
		return types.StageEntry{}, err
	}

	ps, err := fs.pool.Acquire(ctx)
	if err != nil {
		return types.StageEntry{}, err
	}
	defer ps.Release()

	return fs.client.Stat(ctx, ps, p)
}

// NewDirectoryStream lists the immediate children of dir. A prefix with
// no entries yields an empty stream.
func (fs *StageFileSystem) NewDirectoryStream(ctx context.Context, dir stagepath.Path) ([]stagepath.Path, error) {
	if err := requireAbsolute(dir, "directory_stream"); err != nil {
		return nil, err
	}

	ps, err := fs.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := fs.client.List(ctx, ps, dir)
	ps.Release()
	if err != nil {
		return nil, err
	}

	children := immediateChildren(dir.Key(), entries)
	paths := make([]stagepath.Path, 0, len(children))
	for _, child := range children {
		p, err := stagepath.New(dir.StageName(), child.key)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// Delete removes the object at p. Deleting an absent key succeeds.
func (fs *StageFileSystem) Delete(ctx context.Context, p stagepath.Path) error {
	if err := requireAbsolute(p, "delete"); err != nil {
		return err
	}

	ps, err := fs.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer ps.Release()

	return fs.client.Delete(ctx, ps, p)
}

// Copy duplicates src to dst through a local spool file, so the object is
// never held in memory whole. Without WithReplaceExisting a dst that
// already has metadata fails with ALREADY_EXISTS and keeps its prior
// content.
func (fs *StageFileSystem) Copy(ctx context.Context, src, dst stagepath.Path, opts ...types.CopyOption) error {
	if err := requireAbsolute(src, "copy"); err != nil {
		return err
	}
	if err := requireAbsolute(dst, "copy"); err != nil {
		return err
	}
	options := types.ApplyCopyOptions(opts)

	ps, err := fs.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	broken := false
	defer func() {
		if broken {
			ps.ReleaseBroken()
		} else {
			ps.Release()
		}
	}()

	if !options.ReplaceExisting {
		_, err := fs.client.Stat(ctx, ps, dst)
		switch {
		case err == nil:
			return perrors.New(perrors.ErrCodeAlreadyExists, "copy target already exists").
				WithPath(dst.String()).
				WithOperation("copy")
		case !perrors.IsNotFound(err):
			return err
		}
	}

	spool, err := os.CreateTemp(fs.spoolDir, "nf-spool-*")
	if err != nil {
		return perrors.Wrap(perrors.ErrCodeRemoteIO, "cannot create local spool file", err).
			WithOperation("copy")
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	n, err := fs.client.Download(ctx, ps, src, spool)
	if err != nil {
		broken = true
		return err
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return perrors.Wrap(perrors.ErrCodeRemoteIO, "cannot rewind spool file", err).
			WithOperation("copy")
	}
	if err := fs.client.Upload(ctx, ps, spool, dst); err != nil {
		broken = true
		return err
	}

	fs.logger.Debug("copied stage object",
		"source", src.String(),
		"target", dst.String(),
		"bytes", n)
	return nil
}

// Move is Copy followed by Delete of src. Not atomic: a failure between
// the two leaves both copies behind.
func (fs *StageFileSystem) Move(ctx context.Context, src, dst stagepath.Path, opts ...types.CopyOption) error {
	if err := fs.Copy(ctx, src, dst, opts...); err != nil {
		return err
	}
	return fs.Delete(ctx, src)
}

// Exists reports whether p has metadata. Every failure, including pool
// exhaustion, maps to false; existence checks never fail.
func (fs *StageFileSystem) Exists(ctx context.Context, p stagepath.Path) bool {
	if !p.IsAbsolute() {
		return false
	}

	ps, err := fs.pool.Acquire(ctx)
	if err != nil {
		return false
	}
	defer ps.Release()

	ok, err := fs.client.Exists(ctx, ps, p)
	if err != nil {
		return false
	}
	return ok
}

// CreateDirectory succeeds without remote effect: a directory exists
// exactly when keys live under it.
func (fs *StageFileSystem) CreateDirectory(ctx context.Context, p stagepath.Path) error {
	return requireAbsolute(p, "create_directory")
}

// CheckAccess validates that p exists. Execute access has no stage
// equivalent and fails with UNSUPPORTED regardless of existence.
func (fs *StageFileSystem) CheckAccess(ctx context.Context, p stagepath.Path, modes ...types.AccessMode) error {
	for _, mode := range modes {
		if mode == types.AccessExecute {
			return perrors.New(perrors.ErrCodeUnsupported, "execute access is not defined for stage objects").
				WithPath(p.String()).
				WithOperation("check_access")
		}
	}
	_, err := fs.ReadAttributes(ctx, p)
	return err
}

// IsHidden reports false: the stage namespace has no hidden flag.
func (fs *StageFileSystem) IsHidden(p stagepath.Path) bool {
	return false
}

// NewByteChannel would offer seekable random access; stage transfers move
// whole objects only.
func (fs *StageFileSystem) NewByteChannel(ctx context.Context, p stagepath.Path) (io.ReadWriteSeeker, error) {
	return nil, unsupported("byte_channel", p)
}

// ReadSymbolicLink has no stage equivalent.
func (fs *StageFileSystem) ReadSymbolicLink(ctx context.Context, p stagepath.Path) (stagepath.Path, error) {
	return stagepath.Path{}, unsupported("read_symbolic_link", p)
}

// Watch has no stage equivalent.
func (fs *StageFileSystem) Watch(ctx context.Context, p stagepath.Path) error {
	return unsupported("watch", p)
}

// ExtendedAttributes has no stage equivalent.
func (fs *StageFileSystem) ExtendedAttributes(ctx context.Context, p stagepath.Path) (map[string]string, error) {
	return nil, unsupported("extended_attributes", p)
}

func requireAbsolute(p stagepath.Path, operation string) error {
	if p.IsAbsolute() {
		return nil
	}
	return perrors.New(perrors.ErrCodeIllegalArgument, "operation requires an absolute stage path").
		WithPath(p.String()).
		WithOperation(operation)
}

func unsupported(operation string, p stagepath.Path) error {
	return perrors.Newf(perrors.ErrCodeUnsupported, "%s has no stage equivalent", operation).
		WithPath(p.String()).
		WithOperation(operation)
}
