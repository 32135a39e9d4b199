package trace

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Snowflake-Labs/nf-snowflake/internal/config"
	"github.com/Snowflake-Labs/nf-snowflake/internal/metrics"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/stagepath"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/types"
)

const header = "task_id\tnative_id\tname\tstatus\texit\tcontainer\tsubmit\tstart\tcomplete\n"

// fieldCleaner keeps record text from breaking the TSV framing.
var fieldCleaner = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

// Writer accumulates one trace row per task and flushes the whole set to
// a single stage object. Stage objects are immutable, so each flush
// uploads a complete snapshot and the last write wins; losing an
// in-between snapshot loses nothing, because the next one carries every
// row again.
//
// A later Record for the same TaskID replaces the earlier row in place,
// which is how a task progresses from SUBMITTED to COMPLETED without
// duplicating lines in the file.
type Writer struct {
	fs     types.FileSystem
	target stagepath.Path

	mu     sync.Mutex
	order  []int64
	byTask map[int64]types.TraceRecord
	gen    uint64
	dirty  bool
	closed bool

	// flushMu serializes snapshot uploads so a periodic flush and an
	// explicit one cannot interleave on the wire.
	flushMu sync.Mutex

	stopCh  chan struct{}
	stopped chan struct{}

	logger    *slog.Logger
	collector *metrics.Collector
}

var _ types.TraceWriter = (*Writer)(nil)

// NewWriter starts a trace writer flushing to target through fs. A zero
// flush interval falls back to the package default.
func NewWriter(fs types.FileSystem, target stagepath.Path, cfg config.TraceConfig, logger *slog.Logger, collector *metrics.Collector) *Writer {
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = config.NewDefault().Trace.FlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Writer{
		fs:        fs,
		target:    target,
		byTask:    make(map[int64]types.TraceRecord),
		stopCh:    make(chan struct{}),
		stopped:   make(chan struct{}),
		logger:    logger.With("component", "trace"),
		collector: collector,
	}
	go w.flushLoop(interval)
	return w
}

// Record stores one task observation. Rows keep first-seen order; a
// repeat TaskID overwrites its earlier row. Records arriving after Close
// are dropped.
func (w *Writer) Record(rec types.TraceRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if _, seen := w.byTask[rec.TaskID]; !seen {
		w.order = append(w.order, rec.TaskID)
	}
	w.byTask[rec.TaskID] = rec
	w.gen++
	w.dirty = true
}

// Flush uploads the current snapshot if anything changed since the last
// successful flush. A failed flush leaves the writer dirty, so the next
// attempt retries the same rows.
func (w *Writer) Flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	if !w.dirty {
		w.mu.Unlock()
		return nil
	}
	gen := w.gen
	snapshot := make([]types.TraceRecord, 0, len(w.order))
	for _, id := range w.order {
		snapshot = append(snapshot, w.byTask[id])
	}
	w.mu.Unlock()

	text := renderSnapshot(snapshot)

	start := time.Now()
	err := w.upload(ctx, text)
	w.collector.RecordOperation("trace_flush", time.Since(start), int64(len(text)), err)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.gen == gen {
		w.dirty = false
	}
	w.mu.Unlock()

	w.logger.Debug("trace snapshot flushed",
		"target", w.target.URI(),
		"records", len(snapshot),
		"bytes", len(text))
	return nil
}

// Close stops the flush loop and uploads the final snapshot. Closing
// twice is a no-op.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stopCh)
	<-w.stopped

	return w.Flush(ctx)
}

func (w *Writer) flushLoop(interval time.Duration) {
	defer close(w.stopped)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.Flush(context.Background()); err != nil {
				w.logger.Warn("periodic trace flush failed", "error", err)
			}
		}
	}
}

func (w *Writer) upload(ctx context.Context, text string) error {
	out, err := w.fs.NewOutputStream(ctx, w.target)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(out, text); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func renderSnapshot(records []types.TraceRecord) string {
	var b strings.Builder
	b.Grow(len(header) + 96*len(records))
	b.WriteString(header)
	for _, rec := range records {
		b.WriteString(strconv.FormatInt(rec.TaskID, 10))
		b.WriteByte('\t')
		b.WriteString(orDash(rec.NativeID))
		b.WriteByte('\t')
		b.WriteString(orDash(rec.Name))
		b.WriteByte('\t')
		b.WriteString(orDash(rec.Status))
		b.WriteByte('\t')
		if rec.Complete.IsZero() {
			b.WriteByte('-')
		} else {
			b.WriteString(strconv.Itoa(rec.Exit))
		}
		b.WriteByte('\t')
		b.WriteString(orDash(rec.Container))
		b.WriteByte('\t')
		b.WriteString(formatTime(rec.Submit))
		b.WriteByte('\t')
		b.WriteString(formatTime(rec.Start))
		b.WriteByte('\t')
		b.WriteString(formatTime(rec.Complete))
		b.WriteByte('\n')
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return fieldCleaner.Replace(s)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
