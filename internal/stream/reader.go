package stream

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/Snowflake-Labs/nf-snowflake/internal/metrics"
	"github.com/Snowflake-Labs/nf-snowflake/internal/session"
	"github.com/Snowflake-Labs/nf-snowflake/internal/stage"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/stagepath"
)

// DownloadReader streams a stage object. The payload is bridged through a
// pipe from a background download task that owns the pooled session and
// releases it exactly once when the task ends; Close tears the pipe down
// and waits for that to happen. A download failure surfaces on the next
// Read.
type DownloadReader struct {
	source stagepath.Path

	pr          *io.PipeReader
	done        chan struct{} // closed by the task after downloadErr is set
	downloadErr error
	closed      atomic.Bool

	logger    *slog.Logger
	collector *metrics.Collector
}

func newDownloadReader(
	ctx context.Context,
	source stagepath.Path,
	ps *session.PooledSession,
	client *stage.Client,
	logger *slog.Logger,
	collector *metrics.Collector,
) *DownloadReader {
	pr, pw := io.Pipe()

	r := &DownloadReader{
		source:    source,
		pr:        pr,
		done:      make(chan struct{}),
		logger:    logger,
		collector: collector,
	}

	collector.StreamOpened("read")

	// The stream outlives the opening call; see UploadWriter.
	taskCtx := context.WithoutCancel(ctx)

	go func() {
		_, err := client.Download(taskCtx, ps, source, pw)

		// Readers see the download's outcome: EOF on success, the
		// classified failure otherwise.
		_ = pw.CloseWithError(err)

		if err != nil {
			ps.ReleaseBroken()
		} else {
			ps.Release()
		}
		collector.StreamClosed("read")

		r.downloadErr = err
		close(r.done)
	}()

	return r
}

func (r *DownloadReader) Read(p []byte) (int, error) {
	return r.pr.Read(p)
}

// Close stops the stream and waits for the background task to give the
// session back. Closing before EOF aborts the transfer; that abort is not
// an error from the caller's point of view.
func (r *DownloadReader) Close() error {
	if r.closed.CompareAndSwap(false, true) {
		_ = r.pr.Close()
	}

	<-r.done

	r.logger.Debug("download stream closed",
		"source", r.source.String(),
		"aborted", r.downloadErr != nil)
	return nil
}
