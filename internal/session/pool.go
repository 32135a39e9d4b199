package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Snowflake-Labs/nf-snowflake/internal/metrics"
	perrors "github.com/Snowflake-Labs/nf-snowflake/pkg/errors"
)

// PoolConfig sizes and tunes a ConnectionPool.
type PoolConfig struct {
	// MaxSessions bounds how many sessions exist at once.
	MaxSessions int

	// AcquireTimeout bounds how long Acquire blocks once the pool is at
	// capacity with every session in use. Zero means block until the
	// caller's context is done.
	AcquireTimeout time.Duration

	// Debug turns double-release from a silent no-op into a panic so
	// lifecycle bugs surface in tests.
	Debug bool
}

// PoolStats tracks connection pool statistics.
type PoolStats struct {
	Active      int       `json:"active"`
	Idle        int       `json:"idle"`
	Total       int       `json:"total"`
	MaxSize     int       `json:"max_size"`
	Waiters     int       `json:"waiters"`
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	Timeouts    int64     `json:"timeouts"`
	Errors      int64     `json:"errors"`
	Created     int64     `json:"created"`
	Destroyed   int64     `json:"destroyed"`
	LastCreated time.Time `json:"last_created"`
	LastError   string    `json:"last_error"`
	LastErrorAt time.Time `json:"last_error_at"`
}

// ConnectionPool manages a bounded set of sessions. Sessions are created
// lazily up to MaxSessions; beyond that Acquire blocks until a session is
// released, the acquire timeout lapses, or the caller's context is done.
type ConnectionPool struct {
	mu      sync.Mutex
	idle    chan Session
	done    chan struct{}
	factory Factory
	cfg     PoolConfig

	created int
	waiters int
	closed  bool
	stats   PoolStats

	logger    *slog.Logger
	collector *metrics.Collector
}

// NewConnectionPool creates a session pool around factory. The factory is
// not invoked until the first Acquire; use Warmup to pre-dial.
func NewConnectionPool(cfg PoolConfig, factory Factory, logger *slog.Logger, collector *metrics.Collector) (*ConnectionPool, error) {
	if factory == nil {
		return nil, perrors.New(perrors.ErrCodeIllegalArgument, "session factory cannot be nil").
			WithComponent("pool")
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 8
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ConnectionPool{
		idle:      make(chan Session, cfg.MaxSessions),
		done:      make(chan struct{}),
		factory:   factory,
		cfg:       cfg,
		stats:     PoolStats{MaxSize: cfg.MaxSessions},
		logger:    logger.With("component", "session-pool"),
		collector: collector,
	}, nil
}

// Acquire obtains a session, dialing a new one when the pool is below
// capacity. The returned PooledSession must be released exactly once.
func (p *ConnectionPool) Acquire(ctx context.Context) (*PooledSession, error) {
	start := time.Now()

	// Fast path: an idle session is waiting.
	select {
	case sess := <-p.idle:
		p.noteAcquire(start, true)
		return p.wrap(sess), nil
	default:
	}

	// Below capacity: dial a fresh session.
	sess, created, err := p.tryCreate(ctx)
	if err != nil {
		return nil, err
	}
	if created {
		p.noteAcquire(start, false)
		return p.wrap(sess), nil
	}

	// At capacity: block until a release, timeout, or cancellation.
	p.addWaiter(1)
	defer p.addWaiter(-1)

	var timeout <-chan time.Time
	if p.cfg.AcquireTimeout > 0 {
		timer := time.NewTimer(p.cfg.AcquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case sess := <-p.idle:
		p.noteAcquire(start, true)
		return p.wrap(sess), nil

	case <-p.done:
		return nil, perrors.New(perrors.ErrCodePoolClosed, "pool is closed").
			WithComponent("pool").WithOperation("acquire")

	case <-ctx.Done():
		return nil, ctx.Err()

	case <-timeout:
		p.mu.Lock()
		p.stats.Timeouts++
		p.mu.Unlock()
		return nil, perrors.Newf(perrors.ErrCodePoolExhausted,
			"no session available within %v (max %d in use)",
			p.cfg.AcquireTimeout, p.cfg.MaxSessions).
			WithComponent("pool").WithOperation("acquire")
	}
}

// Warmup pre-dials up to count sessions (the pool maximum when count <= 0)
// so the first tasks of a run do not pay login latency.
func (p *ConnectionPool) Warmup(ctx context.Context, count int) error {
	if count <= 0 || count > p.cfg.MaxSessions {
		count = p.cfg.MaxSessions
	}

	var failures int
	var firstErr error
	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		sess, created, err := p.tryCreate(ctx)
		if err != nil {
			failures++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !created {
			break
		}
		p.put(sess, false)
	}

	if failures > 0 {
		return perrors.Wrapf(perrors.ErrCodeRemoteIO, firstErr,
			"warmup failed for %d of %d sessions", failures, count).
			WithComponent("pool").WithOperation("warmup")
	}
	return nil
}

// Stats returns a snapshot of pool statistics.
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats
	stats.Total = p.created
	stats.Idle = len(p.idle)
	stats.Active = p.created - stats.Idle
	stats.Waiters = p.waiters
	return stats
}

// Close marks the pool closed and tears down idle sessions. Sessions still
// in use are closed when their holders release them; blocked acquirers are
// woken with a pool-closed error.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	var drained []Session
drainLoop:
	for {
		select {
		case sess := <-p.idle:
			drained = append(drained, sess)
			p.created--
			p.stats.Destroyed++
		default:
			break drainLoop
		}
	}
	p.mu.Unlock()

	close(p.done)

	var firstErr error
	for _, sess := range drained {
		if err := sess.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	p.logger.Debug("pool closed", "sessions_closed", len(drained))
	p.publishState()
	return firstErr
}

func (p *ConnectionPool) wrap(sess Session) *PooledSession {
	return &PooledSession{Session: sess, pool: p}
}

// tryCreate dials a new session when the pool is below capacity. The
// second return reports whether a creation slot was claimed.
func (p *ConnectionPool) tryCreate(ctx context.Context) (Session, bool, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false, perrors.New(perrors.ErrCodePoolClosed, "pool is closed").
			WithComponent("pool").WithOperation("acquire")
	}
	if p.created >= p.cfg.MaxSessions {
		p.mu.Unlock()
		return nil, false, nil
	}
	p.created++
	p.mu.Unlock()

	sess, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.created--
		p.stats.Errors++
		p.stats.LastError = err.Error()
		p.stats.LastErrorAt = time.Now()
		p.mu.Unlock()
		return nil, true, perrors.Wrap(perrors.ErrCodeRemoteIO, "dialing session", err).
			WithComponent("pool").WithOperation("acquire")
	}

	p.mu.Lock()
	p.stats.Created++
	p.stats.LastCreated = time.Now()
	p.mu.Unlock()

	return sess, true, nil
}

// put returns a session to the idle set, or closes it when the session is
// broken or the pool has shut down.
func (p *ConnectionPool) put(sess Session, broken bool) {
	p.mu.Lock()
	if broken || p.closed {
		p.created--
		p.stats.Destroyed++
		p.mu.Unlock()
		if err := sess.Close(); err != nil {
			p.logger.Warn("closing session", "error", err)
		}
		p.publishState()
		return
	}

	// The idle channel is sized to MaxSessions and created never exceeds
	// it, so this send cannot block while the lock is held.
	p.idle <- sess
	p.mu.Unlock()
	p.publishState()
}

func (p *ConnectionPool) noteAcquire(start time.Time, reused bool) {
	p.mu.Lock()
	if reused {
		p.stats.Hits++
	} else {
		p.stats.Misses++
	}
	p.mu.Unlock()

	p.collector.ObserveAcquireWait(time.Since(start))
	p.publishState()
}

func (p *ConnectionPool) addWaiter(delta int) {
	p.mu.Lock()
	p.waiters += delta
	p.mu.Unlock()
	p.publishState()
}

func (p *ConnectionPool) publishState() {
	if p.collector == nil {
		return
	}
	p.mu.Lock()
	idle := len(p.idle)
	inUse := p.created - idle
	waiters := p.waiters
	p.mu.Unlock()
	p.collector.SetPoolState(inUse, idle, waiters)
}

// PooledSession is a Session checked out of a ConnectionPool. Exactly one
// of Release or ReleaseBroken must be called, exactly once; the session
// must not be used afterwards.
type PooledSession struct {
	Session

	pool     *ConnectionPool
	released atomic.Bool
}

// Release returns the session to the pool for reuse. A second release is a
// no-op, or a panic when the pool runs in debug mode.
func (ps *PooledSession) Release() {
	if !ps.released.CompareAndSwap(false, true) {
		if ps.pool.cfg.Debug {
			panic("session: Release called twice on the same PooledSession")
		}
		ps.pool.logger.Warn("duplicate session release ignored")
		return
	}
	ps.pool.put(ps.Session, false)
}

// ReleaseBroken discards the session instead of recycling it, freeing its
// capacity slot so a replacement can be dialed. Use it after a failure
// that leaves the connection in an unknown state.
func (ps *PooledSession) ReleaseBroken() {
	if !ps.released.CompareAndSwap(false, true) {
		if ps.pool.cfg.Debug {
			panic("session: ReleaseBroken called twice on the same PooledSession")
		}
		ps.pool.logger.Warn("duplicate session release ignored")
		return
	}
	ps.pool.put(ps.Session, true)
}

// Released reports whether the session has already been given back.
func (ps *PooledSession) Released() bool {
	return ps.released.Load()
}
