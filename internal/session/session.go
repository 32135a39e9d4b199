package session

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"time"

	"github.com/snowflakedb/gosnowflake"

	"github.com/Snowflake-Labs/nf-snowflake/internal/config"
	perrors "github.com/Snowflake-Labs/nf-snowflake/pkg/errors"
)

// Record is one result row with columns rendered as strings. SQL NULL
// becomes the empty string.
type Record []string

// Session is one authenticated connection to the Snowflake account. Every
// method issues exactly one statement; batching and retries belong to the
// caller.
type Session interface {
	// Exec runs a statement and discards any result set.
	Exec(ctx context.Context, query string) error

	// Query runs a statement and returns every row of its result set.
	Query(ctx context.Context, query string) ([]Record, error)

	// QueryScalar runs a statement expected to yield a single value,
	// such as a SYSTEM$ function call.
	QueryScalar(ctx context.Context, query string) (string, error)

	// Upload executes a PUT command with r as the file payload.
	Upload(ctx context.Context, command string, r io.Reader) error

	// Download executes a GET command, streaming the payload into w,
	// and reports the number of bytes written.
	Download(ctx context.Context, command string, w io.Writer) (int64, error)

	// Ping verifies the connection is still usable.
	Ping(ctx context.Context) error

	// Close tears the connection down.
	Close() error
}

// Factory dials a fresh session. The pool invokes it lazily as demand grows.
type Factory func(ctx context.Context) (Session, error)

// snowflakeSession wraps a single database/sql connection to Snowflake.
// MaxOpenConns is pinned to one so the session maps onto exactly one
// server-side connection, which the pool then multiplexes.
type snowflakeSession struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDialer builds a session factory from the plugin configuration.
func NewDialer(cfg *config.Configuration, logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session")

	return func(ctx context.Context) (Session, error) {
		return dial(ctx, cfg, logger)
	}
}

func dial(ctx context.Context, cfg *config.Configuration, logger *slog.Logger) (Session, error) {
	driverCfg, err := driverConfig(cfg)
	if err != nil {
		return nil, err
	}

	dsn, err := gosnowflake.DSN(driverCfg)
	if err != nil {
		return nil, perrors.Wrap(perrors.ErrCodeConfigInvalid, "building connection string", err).
			WithComponent("session")
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, perrors.Wrap(perrors.ErrCodeRemoteIO, "opening connection", err).
			WithComponent("session")
	}

	// One session, one connection. The pool owns the fan-out.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, perrors.Wrap(perrors.ErrCodeRemoteIO, "authenticating session", err).
			WithComponent("session").
			WithDetail("account", cfg.Connection.Account)
	}

	logger.Debug("session established",
		"account", cfg.Connection.Account,
		"database", cfg.Connection.Database,
		"schema", cfg.Connection.Schema)

	return &snowflakeSession{db: db, logger: logger}, nil
}

// driverConfig maps plugin configuration onto the Snowflake driver config.
func driverConfig(cfg *config.Configuration) (*gosnowflake.Config, error) {
	conn := cfg.Connection

	driverCfg := &gosnowflake.Config{
		Account:      conn.Account,
		User:         conn.User,
		Database:     conn.Database,
		Schema:       conn.Schema,
		Warehouse:    conn.Warehouse,
		Role:         conn.Role,
		Application:  "nf-snowflake",
		LoginTimeout: conn.LoginTimeout,
	}

	switch {
	case conn.Token != "":
		driverCfg.Authenticator = gosnowflake.AuthTypeOAuth
		driverCfg.Token = conn.Token
	case conn.Password != "":
		driverCfg.Password = conn.Password
	default:
		return nil, perrors.New(perrors.ErrCodeConfigInvalid, "no credentials: set password or token").
			WithComponent("session")
	}

	return driverCfg, nil
}

func (s *snowflakeSession) Exec(ctx context.Context, query string) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, query)
	s.logger.Debug("exec", "duration", time.Since(start), "error", err != nil)
	return err
}

func (s *snowflakeSession) Query(ctx context.Context, query string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records []Record
	for rows.Next() {
		scanned := make([]sql.NullString, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range scanned {
			ptrs[i] = &scanned[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		record := make(Record, len(cols))
		for i, v := range scanned {
			if v.Valid {
				record[i] = v.String
			}
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

func (s *snowflakeSession) QueryScalar(ctx context.Context, query string) (string, error) {
	var value sql.NullString
	if err := s.db.QueryRowContext(ctx, query).Scan(&value); err != nil {
		return "", err
	}
	return value.String, nil
}

func (s *snowflakeSession) Upload(ctx context.Context, command string, r io.Reader) error {
	ctx = gosnowflake.WithFileStream(ctx, r)
	_, err := s.db.ExecContext(ctx, command)
	return err
}

func (s *snowflakeSession) Download(ctx context.Context, command string, w io.Writer) (int64, error) {
	counter := &countingWriter{w: w}
	ctx = gosnowflake.WithFileTransferOptions(ctx, &gosnowflake.SnowflakeFileTransferOptions{
		GetFileToStream: true,
	})
	ctx = gosnowflake.WithFileGetStream(ctx, counter)

	rows, err := s.db.QueryContext(ctx, command)
	if err != nil {
		return counter.n, err
	}
	defer func() { _ = rows.Close() }()

	// The GET result set reports per-file status; the payload itself has
	// already been streamed into the writer by the driver.
	for rows.Next() {
	}
	return counter.n, rows.Err()
}

func (s *snowflakeSession) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *snowflakeSession) Close() error {
	return s.db.Close()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
