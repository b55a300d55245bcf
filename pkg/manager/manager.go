// Package manager is the high-level surface over the connection pool: it
// runs check, write, and read operations against the remote authorization
// service on pooled connections, traces each remote call, and de-duplicates
// batch writes before they reach the wire.
package manager

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/authzkit/fgapool/pkg/config"
	"github.com/authzkit/fgapool/pkg/fga"
	"github.com/authzkit/fgapool/pkg/pool"
)

// Manager wraps a connection pool with the operations collaborators
// actually call. It owns the pool and tears it down on Shutdown.
type Manager struct {
	pool   *pool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

// New creates a manager with its own pool built from cfg.
func New(cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	p, err := pool.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewWithPool(p, logger), nil
}

// NewWithPool creates a manager over an existing pool. The manager takes
// ownership of the pool.
func NewWithPool(p *pool.Pool, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		pool:   p,
		logger: logger.With(zap.String("component", "manager"), zap.String("pool", p.Name())),
		tracer: otel.Tracer("fgapool/manager"),
	}
}

// Check reports whether user has relation on object, using one pooled
// connection for the remote call.
func (m *Manager) Check(ctx context.Context, user, relation, object string) (bool, error) {
	ctx, span := m.tracer.Start(ctx, "fgapool.check",
		trace.WithAttributes(
			attribute.String("fga.relation", relation),
			attribute.String("fga.object", object),
		))
	defer span.End()

	allowed, err := pool.ExecuteValue(ctx, m.pool, func(client *fga.Client) (bool, error) {
		return client.Check(ctx, user, relation, object)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "check failed")
		return false, err
	}

	span.SetAttributes(attribute.Bool("fga.allowed", allowed))
	return allowed, nil
}

// BatchCheck runs several checks on a single pooled connection, returning
// one answer per key in order. The first remote failure aborts the batch.
func (m *Manager) BatchCheck(ctx context.Context, keys []fga.TupleKey) ([]bool, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	ctx, span := m.tracer.Start(ctx, "fgapool.batch_check",
		trace.WithAttributes(attribute.Int("fga.batch_size", len(keys))))
	defer span.End()

	return pool.ExecuteValue(ctx, m.pool, func(client *fga.Client) ([]bool, error) {
		results := make([]bool, len(keys))
		for i, key := range keys {
			allowed, err := client.Check(ctx, key.User, key.Relation, key.Object)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "batch check failed")
				return nil, err
			}
			results[i] = allowed
		}
		return results, nil
	})
}

// Write applies tuple writes and deletes in one remote call, after
// collapsing duplicates and write/delete pairs that cancel out. A batch
// that collapses to nothing never touches the pool.
func (m *Manager) Write(ctx context.Context, writes, deletes []fga.TupleKey) error {
	writes, deletes = dedupeOperations(writes, deletes)
	if len(writes) == 0 && len(deletes) == 0 {
		m.logger.Debug("write batch collapsed to a no-op")
		return nil
	}

	ctx, span := m.tracer.Start(ctx, "fgapool.write",
		trace.WithAttributes(
			attribute.Int("fga.writes", len(writes)),
			attribute.Int("fga.deletes", len(deletes)),
		))
	defer span.End()

	err := m.pool.Execute(ctx, func(client *fga.Client) error {
		return client.Write(ctx, writes, deletes)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
	}
	return err
}

// Grant writes a single relationship tuple.
func (m *Manager) Grant(ctx context.Context, user, relation, object string) error {
	return m.Write(ctx, []fga.TupleKey{{User: user, Relation: relation, Object: object}}, nil)
}

// Revoke deletes a single relationship tuple.
func (m *Manager) Revoke(ctx context.Context, user, relation, object string) error {
	return m.Write(ctx, nil, []fga.TupleKey{{User: user, Relation: relation, Object: object}})
}

// Read returns one page of stored tuples matching filter.
func (m *Manager) Read(ctx context.Context, filter *fga.TupleKey, pageSize int, continuation string) (*fga.ReadResponse, error) {
	ctx, span := m.tracer.Start(ctx, "fgapool.read")
	defer span.End()

	resp, err := pool.ExecuteValue(ctx, m.pool, func(client *fga.Client) (*fga.ReadResponse, error) {
		return client.Read(ctx, filter, pageSize, continuation)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, err
	}
	return resp, nil
}

// HealthCheck reports the pool's current health classification.
func (m *Manager) HealthCheck() pool.HealthReport {
	return m.pool.HealthCheck()
}

// Stats reports the pool's current statistics snapshot.
func (m *Manager) Stats() pool.Stats {
	return m.pool.Stats()
}

// Shutdown tears down the underlying pool. Idempotent.
func (m *Manager) Shutdown() {
	m.pool.Shutdown()
}
