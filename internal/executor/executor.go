package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Snowflake-Labs/nf-snowflake/internal/config"
	"github.com/Snowflake-Labs/nf-snowflake/internal/metrics"
	"github.com/Snowflake-Labs/nf-snowflake/internal/session"
	perrors "github.com/Snowflake-Labs/nf-snowflake/pkg/errors"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/types"
)

// Executor runs workflow tasks as compute job services. Every call
// acquires one pooled session for its duration; Wait re-acquires per poll
// instead of pinning a session between polls.
type Executor struct {
	pool *session.ConnectionPool

	database    string
	schema      string
	computePool string

	// limiter paces status polling across all concurrent Waits, so a
	// wide fan-out cannot stampede the remote.
	limiter *rate.Limiter

	logger    *slog.Logger
	collector *metrics.Collector
}

var _ types.Executor = (*Executor)(nil)

// New builds an Executor over an existing pool. A zero poll interval
// falls back to the package default.
func New(pool *session.ConnectionPool, cfg *config.Configuration, logger *slog.Logger, collector *metrics.Collector) *Executor {
	interval := cfg.Compute.PollInterval
	if interval <= 0 {
		interval = config.NewDefault().Compute.PollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		pool:        pool,
		database:    cfg.Connection.Database,
		schema:      cfg.Connection.Schema,
		computePool: cfg.Compute.ComputePool,
		limiter:     rate.NewLimiter(rate.Every(interval), 1),
		logger:      logger.With("component", "executor"),
		collector:   collector,
	}
}

// serviceName returns the SQL form of the fully qualified service name.
// Parts that are not plain identifiers are double-quoted.
func (e *Executor) serviceName(name string) string {
	return quoteIdent(e.database) + "." + quoteIdent(e.schema) + "." + quoteIdent(name)
}

// Submit renders job into a service specification and starts it
// asynchronously. It returns once the remote accepted the job; use Wait
// to observe completion.
func (e *Executor) Submit(ctx context.Context, job types.JobSpec) error {
	if job.Name == "" {
		return perrors.New(perrors.ErrCodeIllegalArgument, "job name cannot be empty").
			WithComponent("executor").
			WithOperation("submit_job")
	}
	if e.computePool == "" {
		return perrors.New(perrors.ErrCodeConfigInvalid, "no compute pool configured").
			WithComponent("executor").
			WithOperation("submit_job")
	}

	specText, err := renderSpec(job)
	if err != nil {
		return err
	}
	fqn := e.serviceName(job.Name)
	command := fmt.Sprintf(
		"EXECUTE JOB SERVICE IN COMPUTE POOL %s NAME = %s ASYNC = TRUE FROM SPECIFICATION %s",
		quoteIdent(e.computePool), fqn, quoteString(specText))

	ps, err := e.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer ps.Release()

	start := time.Now()
	err = e.classify("submit_job", job.Name, ps.Exec(ctx, command))
	e.collector.RecordOperation("submit_job", time.Since(start), 0, err)
	if err != nil {
		return err
	}

	e.collector.RecordJob("submitted")
	e.logger.Info("job service submitted",
		"job", job.Name,
		"service", fqn,
		"compute_pool", e.computePool,
		"image", job.Image)
	return nil
}

// Status observes the job's current state in one round trip.
func (e *Executor) Status(ctx context.Context, name string) (types.JobStatus, error) {
	ps, err := e.pool.Acquire(ctx)
	if err != nil {
		return types.JobStatus{}, err
	}
	defer ps.Release()

	query := fmt.Sprintf("SELECT SYSTEM$GET_SERVICE_STATUS(%s)", quoteString(e.serviceName(name)))

	start := time.Now()
	raw, err := ps.QueryScalar(ctx, query)
	err = e.classify("job_status", name, err)
	e.collector.RecordOperation("job_status", time.Since(start), 0, err)
	if err != nil {
		return types.JobStatus{}, err
	}

	return parseServiceStatus(raw)
}

// Wait polls Status under the executor's shared rate limit until the job
// reaches a terminal state or ctx is done.
func (e *Executor) Wait(ctx context.Context, name string) (types.JobStatus, error) {
	for {
		if err := e.limiter.Wait(ctx); err != nil {
			return types.JobStatus{}, err
		}

		status, err := e.Status(ctx, name)
		if err != nil {
			return types.JobStatus{}, err
		}
		if !status.State.Terminal() {
			continue
		}

		switch status.State {
		case types.JobStateDone:
			e.collector.RecordJob("done")
		case types.JobStateFailed:
			e.collector.RecordJob("failed")
		}
		e.logger.Info("job service finished",
			"job", name,
			"state", status.State.String(),
			"message", status.Message)
		return status, nil
	}
}

// WaitAll waits for every named job concurrently and returns the terminal
// status of each. The first polling error cancels the remaining waits.
func (e *Executor) WaitAll(ctx context.Context, names ...string) (map[string]types.JobStatus, error) {
	g, ctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	results := make(map[string]types.JobStatus, len(names))

	for _, name := range names {
		name := name
		g.Go(func() error {
			status, err := e.Wait(ctx, name)
			if err != nil {
				return err
			}
			mu.Lock()
			results[name] = status
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Logs fetches the main container's log text.
func (e *Executor) Logs(ctx context.Context, name string) (string, error) {
	ps, err := e.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer ps.Release()

	query := fmt.Sprintf("SELECT SYSTEM$GET_SERVICE_LOGS(%s, '0', %s)",
		quoteString(e.serviceName(name)), quoteString(mainContainer))

	start := time.Now()
	raw, err := ps.QueryScalar(ctx, query)
	err = e.classify("job_logs", name, err)
	e.collector.RecordOperation("job_logs", time.Since(start), 0, err)
	if err != nil {
		return "", err
	}
	return raw, nil
}

// Drop removes the job service. Dropping an absent service succeeds.
func (e *Executor) Drop(ctx context.Context, name string) error {
	ps, err := e.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer ps.Release()

	command := "DROP SERVICE IF EXISTS " + e.serviceName(name)

	start := time.Now()
	err = e.classify("drop_job", name, ps.Exec(ctx, command))
	if perrors.IsNotFound(err) {
		err = nil
	}
	e.collector.RecordOperation("drop_job", time.Since(start), 0, err)
	if err == nil {
		e.collector.RecordJob("dropped")
		e.logger.Debug("job service dropped", "job", name)
	}
	return err
}

// classify maps raw driver errors onto the taxonomy.
func (e *Executor) classify(operation, job string, err error) error {
	if err == nil {
		return nil
	}
	if pe, ok := perrors.As(err); ok {
		return pe
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found") {
		return perrors.Wrap(perrors.ErrCodeNotFound, "job service not found", err).
			WithComponent("executor").
			WithOperation(operation).
			WithDetail("job", job)
	}
	return perrors.Wrap(perrors.ErrCodeRemoteIO, "job service command failed", err).
		WithComponent("executor").
		WithOperation(operation).
		WithDetail("job", job)
}
