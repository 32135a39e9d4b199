package stage

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Snowflake-Labs/nf-snowflake/internal/metrics"
	"github.com/Snowflake-Labs/nf-snowflake/internal/session"
	perrors "github.com/Snowflake-Labs/nf-snowflake/pkg/errors"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/stagepath"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/types"
)

// Client executes stage commands over sessions the caller supplies. Every
// method is exactly one protocol round trip except Stat, which needs up to
// two listings to tell files from emulated directories. Session pooling,
// retries, and ordering all belong to the caller.
type Client struct {
	logger    *slog.Logger
	collector *metrics.Collector
}

// NewClient creates a stage client.
func NewClient(logger *slog.Logger, collector *metrics.Collector) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		logger:    logger.With("component", "stage-client"),
		collector: collector,
	}
}

// Upload streams r to the object named by target, replacing any existing
// object. The remote leaf name comes from the target path; the payload is
// never spooled to local disk.
func (c *Client) Upload(ctx context.Context, sess session.Session, r io.Reader, target stagepath.Path) error {
	start := time.Now()

	cmd, err := putCommand(target)
	if err != nil {
		return err
	}

	counter := &countingReader{r: r}
	err = classify("upload", target, sess.Upload(ctx, cmd, counter))

	c.collector.RecordOperation("upload", time.Since(start), counter.n, err)
	c.collector.RecordBytesUploaded(counter.n)
	c.logger.Debug("upload",
		"target", target.String(),
		"bytes", counter.n,
		"duration", time.Since(start),
		"error", err != nil)
	return err
}

// Download streams the object named by source into w and reports the
// number of payload bytes written.
func (c *Client) Download(ctx context.Context, sess session.Session, source stagepath.Path, w io.Writer) (int64, error) {
	start := time.Now()

	cmd, err := getCommand(source)
	if err != nil {
		return 0, err
	}

	n, err := sess.Download(ctx, cmd, w)
	err = classify("download", source, err)

	c.collector.RecordOperation("download", time.Since(start), n, err)
	c.collector.RecordBytesDownloaded(n)
	c.logger.Debug("download",
		"source", source.String(),
		"bytes", n,
		"duration", time.Since(start),
		"error", err != nil)
	return n, err
}

// List returns every object whose key lies under prefix, in listing order.
// The key space is flat: entries name objects only, with no directory rows.
// An empty result means the prefix holds nothing, not that it is missing.
func (c *Client) List(ctx context.Context, sess session.Session, prefix stagepath.Path) ([]types.StageEntry, error) {
	start := time.Now()

	cmd, err := listCommand(prefix, true)
	if err != nil {
		return nil, err
	}

	rows, err := sess.Query(ctx, cmd)
	if err != nil {
		err = classify("list", prefix, err)
		c.collector.RecordOperation("list", time.Since(start), 0, err)
		return nil, err
	}

	entries := make([]types.StageEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := parseEntry(row, prefix.StageName())
		if err != nil {
			c.collector.RecordOperation("list", time.Since(start), 0, err)
			return nil, err
		}
		entries = append(entries, entry)
	}

	c.collector.RecordOperation("list", time.Since(start), 0, nil)
	c.logger.Debug("list",
		"prefix", prefix.String(),
		"entries", len(entries),
		"duration", time.Since(start))
	return entries, nil
}

// Stat resolves p to a single entry. An exact key match yields the object
// row; a key that only exists as a prefix of deeper objects yields an
// emulated directory entry carrying p's key, zero size, and no digest.
//
// The probe takes at most two listings: the first matches the raw key and
// catches both objects and directories whose children share the listing;
// the second, slash-terminated, separates a directory from an unrelated
// key that merely extends the requested one ("a/b" vs "a/bc.txt").
func (c *Client) Stat(ctx context.Context, sess session.Session, p stagepath.Path) (types.StageEntry, error) {
	start := time.Now()

	entry, err := c.stat(ctx, sess, p)

	c.collector.RecordOperation("stat", time.Since(start), 0, err)
	c.logger.Debug("stat",
		"path", p.String(),
		"directory", entry.IsDirectory,
		"duration", time.Since(start),
		"error", err != nil)
	return entry, err
}

func (c *Client) stat(ctx context.Context, sess session.Session, p stagepath.Path) (types.StageEntry, error) {
	cmd, err := listCommand(p, false)
	if err != nil {
		return types.StageEntry{}, err
	}

	rows, err := sess.Query(ctx, cmd)
	if err != nil {
		return types.StageEntry{}, classify("stat", p, err)
	}

	// The stage root is a directory whenever the stage itself resolves.
	requested := p.Key()
	if requested == "" {
		return directoryEntry(""), nil
	}

	for _, row := range rows {
		entry, err := parseEntry(row, p.StageName())
		if err != nil {
			return types.StageEntry{}, err
		}

		if strings.EqualFold(entry.Key, requested) {
			return entry, nil
		}
		if len(entry.Key) > len(requested)+1 &&
			strings.EqualFold(entry.Key[:len(requested)], requested) &&
			entry.Key[len(requested)] == '/' {
			return directoryEntry(requested), nil
		}
	}

	// The raw listing matched nothing relevant; a slash-terminated probe
	// settles whether the key exists as a directory.
	cmd, err = listCommand(p, true)
	if err != nil {
		return types.StageEntry{}, err
	}
	rows, err = sess.Query(ctx, cmd)
	if err != nil {
		return types.StageEntry{}, classify("stat", p, err)
	}
	if len(rows) > 0 {
		return directoryEntry(requested), nil
	}

	return types.StageEntry{}, perrors.New(perrors.ErrCodeNotFound, "no such object").
		WithPath(p.String()).
		WithComponent("stage-client").
		WithOperation("stat")
}

// Delete removes the object named by p. Removing a key that does not
// exist succeeds: the caller's goal state already holds.
func (c *Client) Delete(ctx context.Context, sess session.Session, p stagepath.Path) error {
	start := time.Now()

	cmd, err := removeCommand(p)
	if err != nil {
		return err
	}

	err = classify("delete", p, sess.Exec(ctx, cmd))
	if perrors.IsNotFound(err) {
		err = nil
	}

	c.collector.RecordOperation("delete", time.Since(start), 0, err)
	c.logger.Debug("delete",
		"path", p.String(),
		"duration", time.Since(start),
		"error", err != nil)
	return err
}

// Exists reports whether p resolves to an object or emulated directory.
func (c *Client) Exists(ctx context.Context, sess session.Session, p stagepath.Path) (bool, error) {
	_, err := c.Stat(ctx, sess, p)
	if err == nil {
		return true, nil
	}
	if perrors.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// classify maps driver failures onto the plugin error taxonomy. Errors
// already carrying a code pass through untouched.
func classify(operation string, p stagepath.Path, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := perrors.As(err); ok {
		return err
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found") {
		return perrors.Wrap(perrors.ErrCodeNotFound, "remote target missing", err).
			WithPath(p.String()).
			WithComponent("stage-client").
			WithOperation(operation)
	}

	return perrors.Wrap(perrors.ErrCodeRemoteIO, "stage command failed", err).
		WithPath(p.String()).
		WithComponent("stage-client").
		WithOperation(operation)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}
