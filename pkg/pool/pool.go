// Package pool implements a bounded, concurrency-safe pool of reusable
// client connections to a remote authorization service. Creating a client
// handle involves credential negotiation and transport setup; the pool
// amortizes that cost while capping total concurrent connections.
//
// One Pool is created per logical remote endpoint at process startup, used
// concurrently by many callers, and torn down once via Shutdown.
//
//	cfg := config.NewConfig("default")
//	cfg.URL = "https://fga.example.com"
//
//	p, err := pool.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer p.Shutdown()
//
//	err = p.Execute(ctx, func(client *fga.Client) error {
//	    allowed, err := client.Check(ctx, user, relation, object)
//	    ...
//	})
//
// Admission control uses a buffered-channel semaphore of capacity
// MaxConnections: every checked-out connection holds exactly one slot, so a
// saturated pool blocks new acquires until a release frees a slot or the
// admission timeout elapses. Connections sitting in the available set hold
// no slot.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/authzkit/fgapool/pkg/autherrors"
	"github.com/authzkit/fgapool/pkg/config"
	"github.com/authzkit/fgapool/pkg/fga"
)

// Factory produces one low-level client handle. The pool treats the
// produced client as opaque; all remote-protocol concerns live behind it.
type Factory func(ctx context.Context) (*fga.Client, error)

// Pool owns a bounded collection of pooled connections and the admission
// control around them.
type Pool struct {
	cfg     *config.Config
	logger  *zap.Logger
	factory Factory
	metrics *poolMetrics

	// slots is the admission semaphore: one slot per checked-out connection.
	slots chan struct{}
	// done is closed by Shutdown to wake blocked acquirers.
	done chan struct{}

	mu        sync.Mutex
	available []*Conn
	inUse     map[string]*Conn
	closed    bool

	created   atomic.Int64
	acquired  atomic.Int64
	released  atomic.Int64
	destroyed atomic.Int64
	errCount  atomic.Int64
}

// Stats is a read-only snapshot of pool state and lifetime counters.
type Stats struct {
	Total       int     `json:"total"`
	Available   int     `json:"available"`
	InUse       int     `json:"in_use"`
	Created     int64   `json:"created"`
	Acquired    int64   `json:"acquired"`
	Released    int64   `json:"released"`
	Destroyed   int64   `json:"destroyed"`
	Errors      int64   `json:"errors"`
	Utilization float64 `json:"utilization"`
}

// HealthReport classifies every tracked connection by its health flag.
type HealthReport struct {
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
	Total     int `json:"total"`
}

// New creates a pool whose factory builds clients from cfg. The pool
// eagerly creates MinConnections connections; any factory or configuration
// failure aborts construction, leaving no partially-usable pool.
func New(cfg *config.Config, logger *zap.Logger) (*Pool, error) {
	return NewWithFactory(cfg, nil, logger)
}

// NewWithFactory creates a pool with an explicit connection factory. A nil
// factory falls back to fga.New over cfg.
func NewWithFactory(cfg *config.Config, factory Factory, logger *zap.Logger) (*Pool, error) {
	if cfg == nil {
		return nil, errInitializationFailed(nil, "configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errInitializationFailed(err, "invalid configuration")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if factory == nil {
		factory = func(ctx context.Context) (*fga.Client, error) {
			return fga.New(cfg, logger)
		}
	}

	p := &Pool{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "connection_pool"), zap.String("pool", cfg.Name)),
		factory: factory,
		metrics: newPoolMetrics(cfg.Name),
		slots:   make(chan struct{}, cfg.MaxConnections),
		done:    make(chan struct{}),
		inUse:   make(map[string]*Conn),
	}

	// Eager warm-up to MinConnections.
	for i := 0; i < cfg.MinConnections; i++ {
		client, err := factory(context.Background())
		if err != nil {
			for _, c := range p.available {
				_ = c.Close()
			}
			return nil, errInitializationFailed(err, "connection factory failed during warm-up")
		}
		p.available = append(p.available, newConn(client))
		p.created.Add(1)
		p.metrics.connCreated()
	}
	p.syncGauges()

	if cfg.IdleSweepInterval > 0 {
		go p.sweepLoop(cfg.IdleSweepInterval)
	}

	p.logger.Info("connection pool ready",
		zap.Int("min_connections", cfg.MinConnections),
		zap.Int("max_connections", cfg.MaxConnections))

	return p, nil
}

// Acquire checks out one connection, blocking when the pool is saturated
// until a release frees a slot, ConnectionTimeout elapses, or ctx is
// canceled. Each call gets its own fresh timeout window.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	if p.isClosed() {
		return nil, errPoolClosed()
	}

	start := time.Now()

	// Fast path: a slot is free right now. Guarantees at least one attempt
	// even with a zero admission timeout.
	select {
	case p.slots <- struct{}{}:
	default:
		timer := time.NewTimer(p.cfg.ConnectionTimeout)
		defer timer.Stop()

		select {
		case p.slots <- struct{}{}:
		case <-timer.C:
			p.errCount.Add(1)
			p.metrics.timedOut()
			return nil, errTimeout(p.cfg.ConnectionTimeout)
		case <-ctx.Done():
			p.errCount.Add(1)
			return nil, autherrors.Wrap(ctx.Err(), autherrors.ErrorTypeTimeout, "acquire canceled")
		case <-p.done:
			return nil, errPoolClosed()
		}
	}

	conn, err := p.checkout(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}

	p.acquired.Add(1)
	p.metrics.acquired(time.Since(start))
	p.syncGauges()
	return conn, nil
}

// TryAcquire checks out a connection without blocking. On a saturated pool
// it fails immediately with a max-connections-reached error instead of
// waiting for the admission timeout.
func (p *Pool) TryAcquire(ctx context.Context) (*Conn, error) {
	if p.isClosed() {
		return nil, errPoolClosed()
	}

	select {
	case p.slots <- struct{}{}:
	default:
		return nil, errMaxConnectionsReached(p.cfg.MaxConnections)
	}

	conn, err := p.checkout(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}

	p.acquired.Add(1)
	p.metrics.acquired(0)
	p.syncGauges()
	return conn, nil
}

// checkout runs with one admission slot held: it reuses the most recently
// released available connection or asks the factory for a new one. Holding
// a slot guarantees total stays below MaxConnections when creating.
func (p *Pool) checkout(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errPoolClosed()
	}
	var conn *Conn
	if n := len(p.available); n > 0 {
		conn = p.available[n-1]
		p.available = p.available[:n-1]
	}
	p.mu.Unlock()

	if conn == nil {
		client, err := p.factory(ctx)
		if err != nil {
			p.errCount.Add(1)
			p.metrics.errored()
			return nil, autherrors.Wrap(err, autherrors.ErrorTypeConnection, "connection factory failed")
		}
		conn = newConn(client)
		p.created.Add(1)
		p.metrics.connCreated()
		p.logger.Debug("created connection", zap.String("conn_id", conn.ID()))
	} else {
		p.logger.Debug("reusing connection",
			zap.String("conn_id", conn.ID()),
			zap.Duration("idle", conn.IdleTime()))
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		p.destroyed.Add(1)
		return nil, errPoolClosed()
	}
	p.inUse[conn.ID()] = conn
	p.mu.Unlock()

	return conn, nil
}

// Release returns a checked-out connection to the pool. Healthy
// connections rejoin the available set; unhealthy ones are destroyed.
// Releasing a connection the pool does not track as in-use (including a
// second release of the same connection) is a programming error and is
// ignored with a warning rather than corrupting pool state.
func (p *Pool) Release(conn *Conn) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	if _, ok := p.inUse[conn.ID()]; !ok {
		p.mu.Unlock()
		p.logger.Warn("ignoring release of untracked connection", zap.String("conn_id", conn.ID()))
		return
	}
	delete(p.inUse, conn.ID())

	reuse := conn.Healthy() && !p.closed
	if reuse {
		p.available = append(p.available, conn)
	}
	p.mu.Unlock()

	if !reuse {
		_ = conn.Close()
		p.destroyed.Add(1)
		p.metrics.connDestroyed()
		p.logger.Debug("destroyed connection on release", zap.String("conn_id", conn.ID()))
	}

	p.released.Add(1)
	p.metrics.released()
	p.syncGauges()

	// Free the admission slot, waking one blocked acquirer if any.
	<-p.slots
}

// Execute acquires a connection, invokes fn with its client handle, and
// releases the connection on every exit path, panics included. Errors from
// fn propagate to the caller unchanged after the release.
func (p *Pool) Execute(ctx context.Context, fn func(client *fga.Client) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)

	return fn(conn.Client())
}

// ExecuteValue runs fn with a pooled client and returns its result,
// releasing the connection on every exit path.
func ExecuteValue[T any](ctx context.Context, p *Pool, fn func(client *fga.Client) (T, error)) (T, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	defer p.Release(conn)

	return fn(conn.Client())
}

// HealthCheck classifies every tracked connection by its current health
// flag. It never fails and mutates nothing.
func (p *Pool) HealthCheck() HealthReport {
	p.mu.Lock()
	conns := make([]*Conn, 0, len(p.available)+len(p.inUse))
	conns = append(conns, p.available...)
	for _, c := range p.inUse {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	report := HealthReport{Total: len(conns)}
	for _, c := range conns {
		if c.Healthy() {
			report.Healthy++
		} else {
			report.Unhealthy++
		}
	}
	return report
}

// ReapExpired destroys available connections whose idle time exceeds
// MaxIdleTime, never shrinking the pool below MinConnections. Returns the
// number of connections destroyed.
func (p *Pool) ReapExpired() int {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}

	total := len(p.available) + len(p.inUse)
	var evicted []*Conn
	kept := p.available[:0]
	for _, c := range p.available {
		if total-len(evicted) > p.cfg.MinConnections && c.Expired(p.cfg.MaxIdleTime) {
			evicted = append(evicted, c)
		} else {
			kept = append(kept, c)
		}
	}
	p.available = kept
	p.mu.Unlock()

	for _, c := range evicted {
		_ = c.Close()
		p.destroyed.Add(1)
		p.metrics.connDestroyed()
	}
	if len(evicted) > 0 {
		p.syncGauges()
		p.logger.Info("reaped idle connections", zap.Int("count", len(evicted)))
	}
	return len(evicted)
}

// sweepLoop periodically reaps expired idle connections until Shutdown.
func (p *Pool) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.ReapExpired()
		case <-p.done:
			return
		}
	}
}

// Shutdown closes every tracked connection and clears the pool, leaving
// zero total connections. Idempotent; close failures on individual clients
// are logged and otherwise ignored.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	conns := make([]*Conn, 0, len(p.available)+len(p.inUse))
	conns = append(conns, p.available...)
	for _, c := range p.inUse {
		conns = append(conns, c)
	}
	p.available = nil
	p.inUse = make(map[string]*Conn)
	p.mu.Unlock()

	close(p.done)

	for _, c := range conns {
		if err := c.Close(); err != nil {
			p.logger.Debug("close failed during shutdown",
				zap.String("conn_id", c.ID()), zap.Error(err))
		}
		p.destroyed.Add(1)
		p.metrics.connDestroyed()
	}
	p.syncGauges()

	p.logger.Info("connection pool shut down", zap.Int("closed", len(conns)))
}

// Stats returns a read-only snapshot of pool state. Utilization is the
// checked-out share of total connections as a percentage; an empty pool
// reports zero.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	available := len(p.available)
	inUse := len(p.inUse)
	p.mu.Unlock()

	stats := Stats{
		Total:     available + inUse,
		Available: available,
		InUse:     inUse,
		Created:   p.created.Load(),
		Acquired:  p.acquired.Load(),
		Released:  p.released.Load(),
		Destroyed: p.destroyed.Load(),
		Errors:    p.errCount.Load(),
	}
	if stats.Total > 0 {
		stats.Utilization = float64(stats.InUse) / float64(stats.Total) * 100
	}
	return stats
}

// TotalConnections returns the current number of tracked connections.
func (p *Pool) TotalConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available) + len(p.inUse)
}

// Name returns the pool's configured name.
func (p *Pool) Name() string {
	return p.cfg.Name
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// syncGauges republishes the available/in-use gauges from current state.
func (p *Pool) syncGauges() {
	p.mu.Lock()
	available := len(p.available)
	inUse := len(p.inUse)
	p.mu.Unlock()
	p.metrics.observe(available, inUse)
}
