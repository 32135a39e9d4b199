package executor

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/Snowflake-Labs/nf-snowflake/internal/config"
	"github.com/Snowflake-Labs/nf-snowflake/internal/session"
	perrors "github.com/Snowflake-Labs/nf-snowflake/pkg/errors"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/types"
)

type scalarResult struct {
	value string
	err   error
}

// jobSession scripts scalar query results in order and records every
// command. WaitAll polls from multiple goroutines, hence the mutex.
type jobSession struct {
	mu       sync.Mutex
	execLog  []string
	queryLog []string
	scalars  []scalarResult
	execErr  error
}

func (s *jobSession) Exec(ctx context.Context, query string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execLog = append(s.execLog, query)
	return s.execErr
}

func (s *jobSession) Query(ctx context.Context, query string) ([]session.Record, error) {
	return nil, nil
}

func (s *jobSession) QueryScalar(ctx context.Context, query string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryLog = append(s.queryLog, query)
	if len(s.scalars) == 0 {
		return "", errors.New("no scripted result")
	}
	next := s.scalars[0]
	s.scalars = s.scalars[1:]
	return next.value, next.err
}

func (s *jobSession) Upload(ctx context.Context, command string, r io.Reader) error {
	return nil
}

func (s *jobSession) Download(ctx context.Context, command string, w io.Writer) (int64, error) {
	return 0, nil
}

func (s *jobSession) Ping(ctx context.Context) error { return nil }
func (s *jobSession) Close() error                   { return nil }

func (s *jobSession) execs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.execLog...)
}

func (s *jobSession) queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queryLog...)
}

func newTestExecutor(t *testing.T, stub *jobSession) (*Executor, *session.ConnectionPool) {
	t.Helper()

	factory := func(ctx context.Context) (session.Session, error) { return stub, nil }
	pool, err := session.NewConnectionPool(
		session.PoolConfig{MaxSessions: 2, AcquireTimeout: time.Second},
		factory, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	cfg := config.NewDefault()
	cfg.Connection.Database = "PIPELINES"
	cfg.Connection.Schema = "RUNS"
	cfg.Compute.ComputePool = "nf_pool"
	cfg.Compute.PollInterval = 2 * time.Millisecond

	return New(pool, cfg, nil, nil), pool
}

func TestSubmit(t *testing.T) {
	stub := &jobSession{}
	exec, pool := newTestExecutor(t, stub)

	job := types.JobSpec{
		Name:    "nxf_task_1",
		Image:   "ubuntu:22.04",
		Command: []string{"/bin/bash", "-c", "true"},
	}
	require.NoError(t, exec.Submit(context.Background(), job))

	execs := stub.execs()
	require.Len(t, execs, 1)
	assert.True(t, strings.HasPrefix(execs[0],
		"EXECUTE JOB SERVICE IN COMPUTE POOL nf_pool NAME = PIPELINES.RUNS.nxf_task_1 ASYNC = TRUE FROM SPECIFICATION '"),
		"command = %s", execs[0])
	assert.Contains(t, execs[0], "image: ubuntu:22.04")

	assert.Equal(t, 1, pool.Stats().Idle)
}

func TestSubmitQuotesOddNames(t *testing.T) {
	stub := &jobSession{}
	exec, _ := newTestExecutor(t, stub)

	err := exec.Submit(context.Background(), types.JobSpec{Name: "nxf-task-7", Image: "alpine:3"})
	require.NoError(t, err)

	execs := stub.execs()
	require.Len(t, execs, 1)
	assert.Contains(t, execs[0], `NAME = PIPELINES.RUNS."nxf-task-7"`)
}

func TestSubmitValidation(t *testing.T) {
	t.Run("empty name", func(t *testing.T) {
		stub := &jobSession{}
		exec, _ := newTestExecutor(t, stub)
		err := exec.Submit(context.Background(), types.JobSpec{Image: "alpine:3"})
		assert.Equal(t, perrors.ErrCodeIllegalArgument, perrors.CodeOf(err))
		assert.Empty(t, stub.execs())
	})

	t.Run("no compute pool", func(t *testing.T) {
		stub := &jobSession{}
		exec, _ := newTestExecutor(t, stub)
		exec.computePool = ""
		err := exec.Submit(context.Background(), types.JobSpec{Name: "t", Image: "alpine:3"})
		assert.Equal(t, perrors.ErrCodeConfigInvalid, perrors.CodeOf(err))
	})
}

func TestSubmitRemoteFailure(t *testing.T) {
	stub := &jobSession{execErr: errors.New("insufficient privileges to operate on compute pool")}
	exec, _ := newTestExecutor(t, stub)

	err := exec.Submit(context.Background(), types.JobSpec{Name: "t", Image: "alpine:3"})
	assert.True(t, perrors.IsRemoteIO(err), "err = %v", err)
}

func TestStatus(t *testing.T) {
	stub := &jobSession{scalars: []scalarResult{
		{value: `[{"status":"READY","message":"Running","containerName":"main"}]`},
	}}
	exec, pool := newTestExecutor(t, stub)

	status, err := exec.Status(context.Background(), "nxf_task_1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStateRunning, status.State)
	assert.Equal(t, "Running", status.Message)

	assert.Equal(t,
		[]string{"SELECT SYSTEM$GET_SERVICE_STATUS('PIPELINES.RUNS.nxf_task_1')"},
		stub.queries())
	assert.Equal(t, 1, pool.Stats().Idle)
}

func TestStatusMissingService(t *testing.T) {
	stub := &jobSession{scalars: []scalarResult{
		{err: errors.New("Service 'NXF_TASK_1' does not exist or not authorized")},
	}}
	exec, _ := newTestExecutor(t, stub)

	_, err := exec.Status(context.Background(), "nxf_task_1")
	assert.True(t, perrors.IsNotFound(err), "err = %v", err)
}

func TestWait(t *testing.T) {
	stub := &jobSession{scalars: []scalarResult{
		{value: `[{"status":"PENDING"}]`},
		{value: `[{"status":"READY"}]`},
		{value: `[{"status":"DONE","message":"Completed"}]`},
	}}
	exec, _ := newTestExecutor(t, stub)

	status, err := exec.Wait(context.Background(), "nxf_task_1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStateDone, status.State)
	assert.Len(t, stub.queries(), 3)
}

func TestWaitFailedJob(t *testing.T) {
	stub := &jobSession{scalars: []scalarResult{
		{value: `[{"status":"FAILED","message":"exit code 1"}]`},
	}}
	exec, _ := newTestExecutor(t, stub)

	status, err := exec.Wait(context.Background(), "nxf_task_1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStateFailed, status.State)
	assert.Equal(t, "exit code 1", status.Message)
}

func TestWaitHonorsContext(t *testing.T) {
	t.Run("canceled before start", func(t *testing.T) {
		stub := &jobSession{}
		exec, _ := newTestExecutor(t, stub)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := exec.Wait(ctx, "nxf_task_1")
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, stub.queries())
	})

	t.Run("deadline between polls", func(t *testing.T) {
		stub := &jobSession{scalars: []scalarResult{
			{value: `[{"status":"PENDING"}]`},
		}}
		exec, _ := newTestExecutor(t, stub)
		exec.limiter.SetLimit(rate.Every(time.Hour))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		_, err := exec.Wait(ctx, "nxf_task_1")
		require.Error(t, err)
		assert.ErrorContains(t, err, "deadline")
		assert.Len(t, stub.queries(), 1)
	})
}

func TestWaitAll(t *testing.T) {
	stub := &jobSession{scalars: []scalarResult{
		{value: `[{"status":"DONE"}]`},
		{value: `[{"status":"DONE"}]`},
	}}
	exec, _ := newTestExecutor(t, stub)

	results, err := exec.WaitAll(context.Background(), "nxf_task_1", "nxf_task_2")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, types.JobStateDone, results["nxf_task_1"].State)
	assert.Equal(t, types.JobStateDone, results["nxf_task_2"].State)
}

func TestWaitAllPropagatesFailure(t *testing.T) {
	stub := &jobSession{scalars: []scalarResult{
		{err: errors.New("connection reset by peer")},
		{value: `[{"status":"DONE"}]`},
	}}
	exec, _ := newTestExecutor(t, stub)

	_, err := exec.WaitAll(context.Background(), "nxf_task_1", "nxf_task_2")
	require.Error(t, err)
}

func TestLogs(t *testing.T) {
	stub := &jobSession{scalars: []scalarResult{{value: "task output\nline two\n"}}}
	exec, _ := newTestExecutor(t, stub)

	out, err := exec.Logs(context.Background(), "nxf_task_1")
	require.NoError(t, err)
	assert.Equal(t, "task output\nline two\n", out)

	assert.Equal(t,
		[]string{"SELECT SYSTEM$GET_SERVICE_LOGS('PIPELINES.RUNS.nxf_task_1', '0', 'main')"},
		stub.queries())
}

func TestDrop(t *testing.T) {
	t.Run("existing service", func(t *testing.T) {
		stub := &jobSession{}
		exec, _ := newTestExecutor(t, stub)

		require.NoError(t, exec.Drop(context.Background(), "nxf_task_1"))
		assert.Equal(t, []string{"DROP SERVICE IF EXISTS PIPELINES.RUNS.nxf_task_1"}, stub.execs())
	})

	t.Run("absent service succeeds", func(t *testing.T) {
		stub := &jobSession{execErr: errors.New("Service 'NXF_TASK_1' does not exist")}
		exec, _ := newTestExecutor(t, stub)
		assert.NoError(t, exec.Drop(context.Background(), "nxf_task_1"))
	})
}
