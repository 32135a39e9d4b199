package plugin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Snowflake-Labs/nf-snowflake/internal/config"
	"github.com/Snowflake-Labs/nf-snowflake/internal/session"
	perrors "github.com/Snowflake-Labs/nf-snowflake/pkg/errors"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/stagepath"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/types"
)

type pluginSession struct {
	mu      sync.Mutex
	uploads []string
	closed  int
}

func (s *pluginSession) Exec(ctx context.Context, query string) error { return nil }

func (s *pluginSession) Query(ctx context.Context, query string) ([]session.Record, error) {
	return nil, nil
}

func (s *pluginSession) QueryScalar(ctx context.Context, query string) (string, error) {
	return "", errors.New("nothing scripted")
}

func (s *pluginSession) Upload(ctx context.Context, command string, r io.Reader) error {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, command)
	return nil
}

func (s *pluginSession) Download(ctx context.Context, command string, w io.Writer) (int64, error) {
	return 0, nil
}

func (s *pluginSession) Ping(ctx context.Context) error { return nil }

func (s *pluginSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *pluginSession) uploadCommands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uploads...)
}

func testConfig() *config.Configuration {
	cfg := config.NewDefault()
	cfg.Connection.Account = "acme-wh00001"
	cfg.Connection.User = "runner"
	cfg.Connection.Password = "secret"
	cfg.Connection.Database = "PIPELINES"
	cfg.Connection.Schema = "RUNS"
	cfg.Stage.WorkDirStage = "nxf_work"
	cfg.Compute.ComputePool = "nf_pool"
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestPlugin(t *testing.T, cfg *config.Configuration) (*Plugin, *pluginSession) {
	t.Helper()
	stub := &pluginSession{}
	factory := func(ctx context.Context) (session.Session, error) { return stub, nil }

	p, err := Open(context.Background(), cfg,
		WithSessionFactory(factory),
		WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p, stub
}

func TestOpenValidatesConfig(t *testing.T) {
	_, err := Open(context.Background(), nil)
	assert.Equal(t, perrors.ErrCodeConfigInvalid, perrors.CodeOf(err))

	cfg := testConfig()
	cfg.Connection.Account = ""
	_, err = Open(context.Background(), cfg, WithLogger(discardLogger()))
	require.Error(t, err)
	assert.Equal(t, perrors.ErrCodeConfigInvalid, perrors.CodeOf(err))
	assert.Contains(t, err.Error(), "account")
}

func TestOpenWiresComponents(t *testing.T) {
	p, _ := openTestPlugin(t, testConfig())

	assert.NotNil(t, p.Provider())
	assert.NotNil(t, p.FileSystem())
	assert.NotNil(t, p.Executor())
	assert.NotNil(t, p.Cache())
	assert.NotNil(t, p.Trace(), "tracing is enabled by default")
	assert.NotNil(t, p.Collector().Registry(), "private registry when none injected")

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Created, "one session warmed at open")
	assert.Equal(t, 1, stats.Idle)

	// The work-dir filesystem is registered before the first path is
	// ever parsed.
	fs, err := p.Provider().FileSystem(stagepath.Scheme, stagepath.Authority)
	require.NoError(t, err)
	assert.Same(t, p.FileSystem(), fs)

	path, err := p.Provider().GetPath("snowflake://stages/nxf_work/runs/9/out.bin")
	require.NoError(t, err)
	assert.Equal(t, "nxf_work", path.StageName())
}

func TestOpenTraceDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Trace.Enabled = false
	p, _ := openTestPlugin(t, cfg)

	assert.Nil(t, p.Trace())
	require.NoError(t, p.Close(context.Background()))
}

func TestOpenWarmupFailure(t *testing.T) {
	factory := func(ctx context.Context) (session.Session, error) {
		return nil, errors.New("390100: incorrect username or password")
	}
	_, err := Open(context.Background(), testConfig(),
		WithSessionFactory(factory),
		WithLogger(discardLogger()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incorrect username")
}

func TestCloseFlushesTrace(t *testing.T) {
	p, stub := openTestPlugin(t, testConfig())

	p.Trace().Record(types.TraceRecord{
		TaskID:   1,
		Name:     "align (1)",
		Status:   "COMPLETED",
		Complete: time.Now(),
	})

	require.NoError(t, p.Close(context.Background()))

	uploads := stub.uploadCommands()
	require.Len(t, uploads, 1, "final flush uploads the trace snapshot")
	assert.Contains(t, uploads[0], "@nxf_work/trace")

	assert.NoError(t, p.Close(context.Background()), "second close repeats the first result")
	assert.Len(t, stub.uploadCommands(), 1)
}

func TestOpenWithExternalRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()

	p, _ := openTestPlugin(t, testConfig())
	require.NoError(t, p.Close(context.Background()))

	stub := &pluginSession{}
	factory := func(ctx context.Context) (session.Session, error) { return stub, nil }

	first, err := Open(context.Background(), testConfig(),
		WithSessionFactory(factory),
		WithLogger(discardLogger()),
		WithRegisterer(reg))
	require.NoError(t, err)
	assert.Nil(t, first.Collector().Registry(), "external registerer, no private registry")
	t.Cleanup(func() { _ = first.Close(context.Background()) })

	// A second plugin on the same registry collides on metric names,
	// which proves the registerer is really being used.
	_, err = Open(context.Background(), testConfig(),
		WithSessionFactory(factory),
		WithLogger(discardLogger()),
		WithRegisterer(reg))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "registering metrics") ||
		strings.Contains(err.Error(), "duplicate"), "err = %v", err)
}
