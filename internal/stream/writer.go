package stream

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/Snowflake-Labs/nf-snowflake/internal/metrics"
	"github.com/Snowflake-Labs/nf-snowflake/internal/session"
	"github.com/Snowflake-Labs/nf-snowflake/internal/stage"
	perrors "github.com/Snowflake-Labs/nf-snowflake/pkg/errors"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/stagepath"
)

// UploadWriter streams writes to a stage object through a background
// upload task. Bytes flow through a bounded chunk pipe: Write blocks once
// the window is full, which keeps producers from outrunning the network.
//
// The background task owns the pooled session for the writer's whole life
// and releases it exactly once when the upload finishes. Close closes the
// pipe, waits for the task, and reports the upload's outcome; until Close
// returns, the remote object must not be assumed to exist.
type UploadWriter struct {
	target    stagepath.Path
	chunks    chan []byte
	done      chan struct{} // closed by the task after uploadErr is set
	uploadErr error
	closed    atomic.Bool

	staged    []byte
	chunkSize int
	written   int64

	logger    *slog.Logger
	collector *metrics.Collector
}

func newUploadWriter(
	ctx context.Context,
	target stagepath.Path,
	ps *session.PooledSession,
	client *stage.Client,
	sem *semaphore.Weighted,
	chunkSize, bufferSize int,
	logger *slog.Logger,
	collector *metrics.Collector,
) *UploadWriter {
	window := bufferSize / chunkSize
	if window < 1 {
		window = 1
	}

	w := &UploadWriter{
		target:    target,
		chunks:    make(chan []byte, window),
		done:      make(chan struct{}),
		chunkSize: chunkSize,
		logger:    logger,
		collector: collector,
	}

	collector.StreamOpened("write")

	// The stream outlives the opening call, so the upload task keeps the
	// caller's values but not its cancellation.
	taskCtx := context.WithoutCancel(ctx)

	go func() {
		err := client.Upload(taskCtx, ps, &chunkReader{ch: w.chunks}, target)
		if err != nil {
			// The connection may be mid-transfer; don't recycle it.
			ps.ReleaseBroken()
		} else {
			ps.Release()
		}
		sem.Release(1)
		collector.StreamClosed("write")

		w.uploadErr = err
		close(w.done)

		// Unblock any writer still feeding the pipe; their bytes have
		// nowhere to go once the upload is over.
		for range w.chunks {
		}
	}()

	return w
}

// Write stages p into the pipe, blocking while the window is full. It
// fails fast once the stream is closed or the background upload has
// already failed.
func (w *UploadWriter) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, perrors.New(perrors.ErrCodeStreamClosed, "write on closed stream").
			WithPath(w.target.String()).
			WithComponent("upload-writer")
	}

	select {
	case <-w.done:
		// The task only finishes before Close when the upload failed.
		return 0, w.uploadErr
	default:
	}

	total := 0
	for len(p) > 0 {
		if w.staged == nil {
			w.staged = make([]byte, 0, w.chunkSize)
		}

		n := copy(w.staged[len(w.staged):w.chunkSize], p)
		w.staged = w.staged[:len(w.staged)+n]
		p = p[n:]
		total += n

		if len(w.staged) == w.chunkSize {
			w.chunks <- w.staged
			w.staged = nil
		}
	}

	w.written += int64(total)
	return total, nil
}

// Close flushes the partial chunk, seals the pipe, and waits for the
// background upload to finish. Its error is the upload's outcome; a
// second Close re-reports the same outcome.
func (w *UploadWriter) Close() error {
	if w.closed.CompareAndSwap(false, true) {
		if len(w.staged) > 0 {
			w.chunks <- w.staged
			w.staged = nil
		}
		close(w.chunks)
	}

	<-w.done

	w.logger.Debug("upload stream closed",
		"target", w.target.String(),
		"bytes", w.written,
		"error", w.uploadErr != nil)
	return w.uploadErr
}

// BytesWritten reports how many bytes have been accepted so far.
func (w *UploadWriter) BytesWritten() int64 {
	return w.written
}

// chunkReader adapts the chunk pipe into the io.Reader the upload
// consumes. A closed pipe reads as EOF, which ends the PUT payload.
type chunkReader struct {
	ch  <-chan []byte
	buf []byte
}

func (cr *chunkReader) Read(p []byte) (int, error) {
	for len(cr.buf) == 0 {
		chunk, ok := <-cr.ch
		if !ok {
			return 0, io.EOF
		}
		cr.buf = chunk
	}

	n := copy(p, cr.buf)
	cr.buf = cr.buf[n:]
	return n, nil
}
