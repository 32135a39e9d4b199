package plugin

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Snowflake-Labs/nf-snowflake/internal/cachestore"
	"github.com/Snowflake-Labs/nf-snowflake/internal/config"
	"github.com/Snowflake-Labs/nf-snowflake/internal/executor"
	"github.com/Snowflake-Labs/nf-snowflake/internal/metrics"
	"github.com/Snowflake-Labs/nf-snowflake/internal/session"
	"github.com/Snowflake-Labs/nf-snowflake/internal/stage"
	"github.com/Snowflake-Labs/nf-snowflake/internal/stream"
	"github.com/Snowflake-Labs/nf-snowflake/internal/trace"
	"github.com/Snowflake-Labs/nf-snowflake/internal/vfs"
	perrors "github.com/Snowflake-Labs/nf-snowflake/pkg/errors"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/stagepath"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/types"
)

// Plugin is the assembled module: one session pool and every component
// that speaks through it. Build it with Open, share it process-wide,
// and Close it once when the embedding runtime shuts down.
type Plugin struct {
	cfg       *config.Configuration
	logger    *slog.Logger
	collector *metrics.Collector

	pool     *session.ConnectionPool
	fsys     *vfs.StageFileSystem
	provider *vfs.Provider
	exec     *executor.Executor
	tracer   *trace.Writer
	cache    *cachestore.Store

	closeOnce sync.Once
	closeErr  error
}

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	factory    session.Factory
}

// Option customizes Open.
type Option func(*options)

// WithLogger replaces the logger Open would otherwise build from
// cfg.LogLevel.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer registers the plugin's metrics on reg instead of a
// private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithSessionFactory replaces the account dialer; for embedding hosts
// that manage their own transport, and for tests.
func WithSessionFactory(f session.Factory) Option {
	return func(o *options) { o.factory = f }
}

// Open validates cfg, wires every component onto one session pool, and
// warms a first session so bad credentials fail here instead of on the
// first task.
func Open(ctx context.Context, cfg *config.Configuration, opts ...Option) (*Plugin, error) {
	if cfg == nil {
		return nil, perrors.New(perrors.ErrCodeConfigInvalid, "configuration is required").
			WithComponent("plugin")
	}
	if err := cfg.Validate(); err != nil {
		return nil, perrors.Wrap(perrors.ErrCodeConfigInvalid, "invalid configuration", err).
			WithComponent("plugin")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: parseLevel(cfg.LogLevel),
		}))
	}

	collector, err := metrics.NewCollector(nil, o.registerer)
	if err != nil {
		return nil, err
	}

	factory := o.factory
	if factory == nil {
		factory = session.NewDialer(cfg, logger)
	}
	pool, err := session.NewConnectionPool(session.PoolConfig{
		MaxSessions:    cfg.Pool.MaxSessions,
		AcquireTimeout: cfg.Pool.AcquireTimeout,
	}, factory, logger, collector)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Plugin, error) {
		_ = pool.Close()
		return nil, err
	}
	if err := pool.Warmup(ctx, 1); err != nil {
		return fail(err)
	}

	client := stage.NewClient(logger, collector)
	opener := stream.NewOpener(pool, client, cfg.Upload, logger, collector)
	fsys := vfs.NewStageFileSystem(pool, client, opener, cfg.Stage.LocalCacheDir, logger)

	// One filesystem serves every stage; the registry exists so
	// deserialized paths can re-bind to it.
	provider, err := vfs.NewProvider(func(scheme, authority string) (types.FileSystem, error) {
		return fsys, nil
	}, logger)
	if err != nil {
		return fail(err)
	}
	if _, err := provider.FileSystem(stagepath.Scheme, stagepath.Authority); err != nil {
		return fail(err)
	}

	workdir, err := stagepath.New(cfg.Stage.WorkDirStage, "")
	if err != nil {
		return fail(err)
	}
	cache, err := cachestore.New(fsys, workdir, cfg.Cache, logger, collector)
	if err != nil {
		return fail(err)
	}

	p := &Plugin{
		cfg:       cfg,
		logger:    logger.With("component", "plugin"),
		collector: collector,
		pool:      pool,
		fsys:      fsys,
		provider:  provider,
		exec:      executor.New(pool, cfg, logger, collector),
		cache:     cache,
	}

	if cfg.Trace.Enabled {
		target, err := workdir.ResolveKey(cfg.Trace.Key)
		if err != nil {
			return fail(err)
		}
		p.tracer = trace.NewWriter(fsys, target, cfg.Trace, logger, collector)
	}

	p.logger.Info("plugin opened",
		"account", cfg.Connection.Account,
		"workdir_stage", cfg.Stage.WorkDirStage,
		"compute_pool", cfg.Compute.ComputePool,
		"max_sessions", cfg.Pool.MaxSessions,
		"trace_enabled", cfg.Trace.Enabled)
	return p, nil
}

// Provider returns the filesystem registry.
func (p *Plugin) Provider() *vfs.Provider { return p.provider }

// FileSystem returns the stage filesystem shared by all components.
func (p *Plugin) FileSystem() *vfs.StageFileSystem { return p.fsys }

// Executor returns the job-service executor.
func (p *Plugin) Executor() *executor.Executor { return p.exec }

// Trace returns the trace writer, or nil when tracing is disabled.
func (p *Plugin) Trace() *trace.Writer { return p.tracer }

// Cache returns the run cache store.
func (p *Plugin) Cache() *cachestore.Store { return p.cache }

// Collector returns the metrics collector; its Registry method exposes
// the private registry when no external registerer was supplied.
func (p *Plugin) Collector() *metrics.Collector { return p.collector }

// Stats reports current session-pool counters.
func (p *Plugin) Stats() session.PoolStats { return p.pool.Stats() }

// Close flushes the trace writer and then closes the session pool.
// Flushing needs the pool, so the order is fixed. Closing twice returns
// the first result.
func (p *Plugin) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		var g errgroup.Group
		if p.tracer != nil {
			g.Go(func() error { return p.tracer.Close(ctx) })
		}
		p.closeErr = g.Wait()

		if err := p.pool.Close(); err != nil && p.closeErr == nil {
			p.closeErr = err
		}
		p.logger.Info("plugin closed")
	})
	return p.closeErr
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
