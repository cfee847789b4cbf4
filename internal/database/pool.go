package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"vaultlite/internal/errors"
	"vaultlite/internal/metrics"
	"vaultlite/internal/models"
	"vaultlite/internal/security"
	"vaultlite/pkg/circuitbreaker"
)

// Observer receives the structured events the pool emits: classified errors
// and pool-exhaustion. The pool never writes logs itself; an external
// logging/metrics collaborator consumes these.
type Observer interface {
	ObserveError(err error)
	ObservePoolExhausted(stats models.PoolStats)
}

type acquireResult struct {
	conn *Connection
	err  error
}

// waiter is one queued borrow request. Delivery happens exactly once, under
// the pool lock, so a cancelled waiter never strands a connection.
type waiter struct {
	ch        chan acquireResult
	cancelled bool
	delivered bool
	enqueued  time.Time
}

// Pool manages a bounded set of live encrypted connections. It is the sole
// point of shared mutable state; all bookkeeping (idle list, wait queue,
// counts) is serialized behind one mutex. Borrowed connections are used
// exclusively by one caller until released.
type Pool struct {
	path      string
	cipherCfg models.CipherConfig
	cfg       models.PoolConfig
	key       *security.EncryptionKey

	breaker  *circuitbreaker.CircuitBreaker
	observer Observer

	// creators counts in-flight background connection openers; Close waits
	// for them before zeroizing the key they read.
	creators sync.WaitGroup

	mu        sync.Mutex
	idle      []*Connection
	borrowed  map[*Connection]struct{}
	live      int
	waiters   []*waiter
	quiesced  bool
	draining  bool
	closed    bool
	drainDone chan struct{}
}

// PoolOption customizes pool construction
type PoolOption func(*Pool)

// WithObserver attaches an observability collaborator
func WithObserver(o Observer) PoolOption {
	return func(p *Pool) {
		p.observer = o
	}
}

// NewPool opens a pool over the encrypted database at path. The pool takes
// ownership of key and zeroizes it on Close. The first connection is opened
// eagerly so a wrong key fails construction instead of the first borrow,
// then the idle set is topped up to min_idle.
func NewPool(ctx context.Context, path string, cipherCfg models.CipherConfig, cfg models.PoolConfig, key *security.EncryptionKey, opts ...PoolOption) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "pool config rejected")
	}
	if err := cipherCfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "cipher config rejected")
	}

	p := &Pool{
		path:      path,
		cipherCfg: cipherCfg,
		cfg:       cfg,
		key:       key,
		borrowed:  make(map[*Connection]struct{}),
		breaker:   circuitbreaker.New("database-open", 5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(p)
	}

	// Eager validation connection: wrong key or corrupted file surfaces
	// here, before the pool exists as far as callers are concerned.
	conn, err := p.openNew(ctx)
	if err != nil {
		key.Zeroize()
		p.observeError(err)
		return nil, err
	}
	p.mu.Lock()
	p.live = 1
	p.idle = append(p.idle, conn)
	for p.live < p.cfg.MinIdle {
		p.live++
		p.creators.Add(1)
		go p.createIdle()
	}
	p.mu.Unlock()

	return p, nil
}

// Get borrows a connection: an idle one immediately, a new one if below
// max_connections, otherwise the caller queues FIFO. A request waiting
// longer than connection_timeout fails with PoolTimeout; context
// cancellation removes the caller from the queue without side effects.
func (p *Pool) Get(ctx context.Context) (*PooledConn, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "db.pool.get")
	defer span.End()
	start := time.Now()

	for {
		p.mu.Lock()
		if p.closed || p.draining {
			p.mu.Unlock()
			err := errors.NewPoolClosedError()
			p.observeError(err)
			return nil, err
		}

		// Idle handout and inline creation are only legal when nobody is
		// queued ahead of us and rotation is not holding the pool.
		if !p.quiesced && !p.hasWaitersLocked() {
			if n := len(p.idle); n > 0 {
				conn := p.idle[n-1]
				p.idle = p.idle[:n-1]
				p.borrowed[conn] = struct{}{}
				p.mu.Unlock()

				if p.cfg.IdleHealthCheck {
					if err := conn.Ping(ctx); err != nil {
						// Stale connection: replace transparently.
						p.discard(conn)
						metrics.IncrementCounter("pool_health_replacements_total")
						continue
					}
				}
				p.recordAcquired(start)
				return &PooledConn{pool: p, conn: conn}, nil
			}

			if p.live < p.cfg.MaxConnections {
				p.live++
				p.mu.Unlock()
				conn, err := p.openNew(ctx)
				if err != nil {
					p.mu.Lock()
					p.live--
					p.maintainLocked()
					p.mu.Unlock()
					p.observeError(err)
					span.RecordError(err)
					return nil, err
				}
				p.mu.Lock()
				if p.closed || p.draining {
					p.live--
					p.mu.Unlock()
					conn.Close()
					return nil, errors.NewPoolClosedError()
				}
				p.borrowed[conn] = struct{}{}
				p.mu.Unlock()
				p.recordAcquired(start)
				return &PooledConn{pool: p, conn: conn}, nil
			}
		}

		// Exhausted (or quiesced): queue FIFO.
		w := &waiter{ch: make(chan acquireResult, 1), enqueued: time.Now()}
		p.waiters = append(p.waiters, w)
		exhausted := !p.quiesced
		stats := p.statsLocked()
		p.mu.Unlock()

		if exhausted {
			metrics.IncrementCounter("pool_exhausted_total")
			if p.observer != nil {
				p.observer.ObservePoolExhausted(stats)
			}
		}
		span.SetAttributes(attribute.Bool("db.pool.queued", true))

		timer := time.NewTimer(p.cfg.ConnectionTimeout)
		select {
		case res := <-w.ch:
			timer.Stop()
			if res.err != nil {
				p.observeError(res.err)
				return nil, res.err
			}
			p.recordAcquired(start)
			return &PooledConn{pool: p, conn: res.conn}, nil
		case <-ctx.Done():
			timer.Stop()
			p.abandonWaiter(w)
			return nil, ctx.Err()
		case <-timer.C:
			p.abandonWaiter(w)
			err := errors.NewPoolTimeoutError(p.cfg.ConnectionTimeout)
			metrics.IncrementCounter("pool_timeouts_total")
			p.observeError(err)
			span.RecordError(err)
			return nil, err
		}
	}
}

// Stats returns a point-in-time snapshot of pool state
func (p *Pool) Stats() models.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

// HealthCheck reports whether the pool can currently serve a borrow
func (p *Pool) HealthCheck(ctx context.Context) models.HealthStatus {
	status := models.HealthStatus{Checked: time.Now()}

	conn, err := p.Get(ctx)
	if err != nil {
		status.Healthy = false
		status.Reason = fmt.Sprintf("cannot acquire connection: %v", err)
	} else {
		pingErr := conn.Conn().Ping(ctx)
		conn.Release()
		status.Healthy = pingErr == nil
		if pingErr != nil {
			status.Reason = fmt.Sprintf("liveness check failed: %v", pingErr)
		}
	}

	status.Stats = p.Stats()
	return status
}

// Quiesce blocks new acquisitions and waits for every borrowed connection
// to come back, so rotation can run against the file with no pooled access
// in flight. On ctx expiry the pool is restored to normal operation.
func (p *Pool) Quiesce(ctx context.Context) error {
	p.mu.Lock()
	if p.closed || p.draining {
		p.mu.Unlock()
		return errors.NewPoolClosedError()
	}
	if p.quiesced {
		p.mu.Unlock()
		return errors.New(errors.ErrCodeInternalError, "pool already quiesced")
	}
	p.quiesced = true
	done := p.borrowReturnChanLocked()
	p.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		p.quiesced = false
		p.maintainLocked()
		p.mu.Unlock()
		return errors.WrapRetryable(ctx.Err(), errors.ErrCodePoolTimeout, "quiesce timed out waiting for borrowed connections")
	}
}

// Resume lifts a quiesce and serves queued waiters in FIFO order
func (p *Pool) Resume() {
	p.mu.Lock()
	p.quiesced = false
	p.maintainLocked()
	p.mu.Unlock()
}

// CloseIdle closes every idle connection. Used by rotation while the pool
// is quiesced, so no handle bound to the old key survives the swap.
func (p *Pool) CloseIdle() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.live -= len(idle)
	p.mu.Unlock()
	for _, conn := range idle {
		conn.Close()
	}
}

// Close drains the pool: queued waiters fail immediately with PoolClosed,
// idle connections are closed, and in-flight borrows get the drain grace
// period to finish before being closed out from under their callers. The
// pool's key is zeroized last.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.draining = true

	for _, w := range p.waiters {
		if !w.cancelled && !w.delivered {
			w.delivered = true
			w.ch <- acquireResult{err: errors.NewPoolClosedError()}
		}
	}
	p.waiters = nil

	idle := p.idle
	p.idle = nil
	p.live -= len(idle)
	done := p.borrowReturnChanLocked()
	p.mu.Unlock()

	for _, conn := range idle {
		conn.Close()
	}

	grace := p.cfg.DrainGrace
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < grace {
			grace = until
		}
	}

	select {
	case <-done:
	case <-time.After(grace):
		// Grace expired: close remaining borrows out from under callers.
		p.mu.Lock()
		remaining := make([]*Connection, 0, len(p.borrowed))
		for conn := range p.borrowed {
			remaining = append(remaining, conn)
			delete(p.borrowed, conn)
		}
		p.live -= len(remaining)
		p.mu.Unlock()
		for _, conn := range remaining {
			conn.Close()
		}
	}

	// Background creators may still be reading the key inside openNew; their
	// opens fail against a closed pool, but the key bytes must outlive them.
	p.creators.Wait()
	p.key.Zeroize()
	return nil
}

// release returns a borrowed connection to the pool. It runs on every exit
// path of the borrower's scope, success or failure.
func (p *Pool) release(conn *Connection) {
	p.mu.Lock()
	if _, ok := p.borrowed[conn]; !ok {
		// Already force-closed during drain.
		p.mu.Unlock()
		return
	}
	delete(p.borrowed, conn)

	if p.closed || p.draining {
		p.live--
		p.signalBorrowReturnLocked()
		p.mu.Unlock()
		conn.Close()
		return
	}

	p.idle = append(p.idle, conn)
	p.maintainLocked()
	p.signalBorrowReturnLocked()
	p.mu.Unlock()
}

// discard removes a connection that failed its health check
func (p *Pool) discard(conn *Connection) {
	conn.Close()
	p.mu.Lock()
	delete(p.borrowed, conn)
	p.live--
	p.maintainLocked()
	p.signalBorrowReturnLocked()
	p.mu.Unlock()
}

// maintainLocked restores pool invariants after any state change: waiters
// are served FIFO from idle, then by creation while under max, then the
// idle set is topped back up to min_idle. Caller holds p.mu.
func (p *Pool) maintainLocked() {
	if p.closed || p.draining || p.quiesced {
		return
	}

	for len(p.idle) > 0 {
		w := p.popWaiterLocked()
		if w == nil {
			break
		}
		n := len(p.idle)
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.borrowed[conn] = struct{}{}
		w.delivered = true
		w.ch <- acquireResult{conn: conn}
	}

	for p.hasWaitersLocked() && p.live < p.cfg.MaxConnections {
		w := p.popWaiterLocked()
		if w == nil {
			break
		}
		p.live++
		p.creators.Add(1)
		go p.createForWaiter(w)
	}

	for p.live < p.cfg.MinIdle {
		p.live++
		p.creators.Add(1)
		go p.createIdle()
	}
}

func (p *Pool) createForWaiter(w *waiter) {
	defer p.creators.Done()
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectionTimeout)
	defer cancel()

	conn, err := p.openNew(ctx)

	p.mu.Lock()
	if err != nil {
		p.live--
		if !w.cancelled && !w.delivered {
			w.delivered = true
			w.ch <- acquireResult{err: err}
		}
		p.maintainLocked()
		p.mu.Unlock()
		p.observeError(err)
		return
	}
	if w.cancelled || w.delivered || p.closed || p.draining {
		// Waiter is gone; keep the connection for the pool instead.
		if p.closed || p.draining {
			p.live--
			p.mu.Unlock()
			conn.Close()
			return
		}
		p.idle = append(p.idle, conn)
		p.maintainLocked()
		p.mu.Unlock()
		return
	}
	p.borrowed[conn] = struct{}{}
	w.delivered = true
	w.ch <- acquireResult{conn: conn}
	p.mu.Unlock()
}

func (p *Pool) createIdle() {
	defer p.creators.Done()
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectionTimeout)
	defer cancel()

	conn, err := p.openNew(ctx)

	p.mu.Lock()
	if err != nil {
		p.live--
		p.mu.Unlock()
		p.observeError(err)
		return
	}
	if p.closed || p.draining {
		p.live--
		p.mu.Unlock()
		conn.Close()
		return
	}
	p.idle = append(p.idle, conn)
	p.maintainLocked()
	p.mu.Unlock()
}

// openNew opens and validates a fresh connection behind the circuit
// breaker, so a flapping filesystem or a persistently failing open stops
// hammering the disk.
func (p *Pool) openNew(ctx context.Context) (*Connection, error) {
	var conn *Connection

	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		c, err := Open(ctx, p.path, p.cipherCfg, p.key)
		if err != nil {
			return err
		}
		if err := c.applySessionPragmas(ctx, p.cfg); err != nil {
			c.Close()
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		var cbErr *circuitbreaker.CircuitBreakerError
		if stderrors.As(err, &cbErr) {
			return nil, errors.WrapRetryable(err, errors.ErrCodePoolExhausted, "connection creation temporarily suspended")
		}
		return nil, err
	}
	return conn, nil
}

// abandonWaiter removes a waiter whose caller timed out or was cancelled.
// If delivery already happened the connection is recovered into the pool,
// so cancellation never leaks a slot.
func (p *Pool) abandonWaiter(w *waiter) {
	p.mu.Lock()
	if w.delivered {
		p.mu.Unlock()
		res := <-w.ch
		if res.conn != nil {
			p.release(res.conn)
		}
		return
	}
	w.cancelled = true
	for i, queued := range p.waiters {
		if queued == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
}

func (p *Pool) popWaiterLocked() *waiter {
	for len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		if !w.cancelled {
			return w
		}
	}
	return nil
}

func (p *Pool) hasWaitersLocked() bool {
	for _, w := range p.waiters {
		if !w.cancelled {
			return true
		}
	}
	return false
}

// borrowReturnChanLocked returns a channel closed once no borrows remain.
// Caller holds p.mu.
func (p *Pool) borrowReturnChanLocked() chan struct{} {
	done := make(chan struct{})
	if len(p.borrowed) == 0 {
		close(done)
		return done
	}
	p.drainDone = done
	return done
}

func (p *Pool) signalBorrowReturnLocked() {
	if p.drainDone != nil && len(p.borrowed) == 0 {
		close(p.drainDone)
		p.drainDone = nil
	}
}

func (p *Pool) statsLocked() models.PoolStats {
	waiting := 0
	for _, w := range p.waiters {
		if !w.cancelled {
			waiting++
		}
	}
	return models.PoolStats{
		Live:     p.live,
		Idle:     len(p.idle),
		Borrowed: len(p.borrowed),
		Waiting:  waiting,
		Max:      p.cfg.MaxConnections,
		Draining: p.draining,
		Closed:   p.closed,
	}
}

func (p *Pool) recordAcquired(start time.Time) {
	metrics.IncrementCounter("pool_acquired_total")
	metrics.RecordTimer("pool_acquire_ms", float64(time.Since(start).Milliseconds()))
}

func (p *Pool) observeError(err error) {
	if p.observer != nil && err != nil {
		p.observer.ObserveError(err)
	}
}

// PooledConn is the scoped guard around a borrowed connection. Release is
// idempotent and must run on every exit path; defer it immediately after a
// successful Get.
type PooledConn struct {
	pool *Pool
	conn *Connection

	mu       sync.Mutex
	released bool
}

// Conn exposes the underlying connection for direct statement execution
func (pc *PooledConn) Conn() *Connection {
	return pc.conn
}

// ExecContext executes a statement on the borrowed connection
func (pc *PooledConn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if pc.isReleased() {
		return nil, errors.New(errors.ErrCodeInternalError, "connection already released to pool")
	}
	return pc.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the borrowed connection
func (pc *PooledConn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if pc.isReleased() {
		return nil, errors.New(errors.ErrCodeInternalError, "connection already released to pool")
	}
	return pc.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the borrowed connection
func (pc *PooledConn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return pc.conn.QueryRowContext(ctx, query, args...)
}

// Release returns the connection to the pool. Safe to call more than once.
func (pc *PooledConn) Release() {
	pc.mu.Lock()
	if pc.released {
		pc.mu.Unlock()
		return
	}
	pc.released = true
	pc.mu.Unlock()
	pc.pool.release(pc.conn)
}

func (pc *PooledConn) isReleased() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.released
}
