package pool

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/authzkit/fgapool/pkg/fga"
)

// Conn wraps one client handle with identity, age, idle-time, use-count,
// and health bookkeeping. The pool owns every Conn; callers borrow one via
// Acquire and must not touch it after Release.
type Conn struct {
	id        string
	createdAt time.Time

	mu         sync.Mutex
	client     *fga.Client
	lastUsedAt time.Time
	useCount   int64
	healthy    bool
	closed     bool
}

// ConnStats is a read-only snapshot of one connection's bookkeeping.
type ConnStats struct {
	ID       string        `json:"id"`
	Age      time.Duration `json:"age"`
	IdleTime time.Duration `json:"idle_time"`
	UseCount int64         `json:"use_count"`
	Healthy  bool          `json:"healthy"`
}

// newConn wraps a freshly created client handle.
func newConn(client *fga.Client) *Conn {
	now := time.Now()
	return &Conn{
		id:         "conn-" + uuid.NewString(),
		client:     client,
		createdAt:  now,
		lastUsedAt: now,
		healthy:    true,
	}
}

// ID returns the connection's immutable identifier.
func (c *Conn) ID() string {
	return c.id
}

// Client returns the wrapped handle, bumping the use count and last-used
// timestamp. Always succeeds while the wrapper exists.
func (c *Conn) Client() *fga.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.useCount++
	c.lastUsedAt = time.Now()
	return c.client
}

// Age returns how long ago the connection was created.
func (c *Conn) Age() time.Duration {
	return time.Since(c.createdAt)
}

// IdleTime returns how long ago the client handle was last retrieved.
func (c *Conn) IdleTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastUsedAt)
}

// Expired reports whether the connection has been idle for at least
// maxIdle. A zero maxIdle means always expired.
func (c *Conn) Expired(maxIdle time.Duration) bool {
	return c.IdleTime() >= maxIdle
}

// MarkUnhealthy flags the connection so the pool destroys it on release
// instead of reusing it. Terminal for this instance; idempotent.
func (c *Conn) MarkUnhealthy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = false
}

// Healthy reports the connection's current health flag.
func (c *Conn) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

// Close releases the underlying client handle and marks the connection
// unhealthy. Closing twice is a no-op, not an error.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.healthy = false
	return c.client.Close()
}

// Stats returns a read-only snapshot of the connection's bookkeeping.
func (c *Conn) Stats() ConnStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ConnStats{
		ID:       c.id,
		Age:      time.Since(c.createdAt),
		IdleTime: time.Since(c.lastUsedAt),
		UseCount: c.useCount,
		Healthy:  c.healthy,
	}
}
