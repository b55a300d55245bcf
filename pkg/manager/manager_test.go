package manager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/authzkit/fgapool/pkg/config"
	"github.com/authzkit/fgapool/pkg/fga"
)

type fakeService struct {
	allowed     map[fga.TupleKey]bool
	checkCalls  atomic.Int64
	writeCalls  atomic.Int64
	lastWritten atomic.Value // wireWrite
}

type wireWrite struct {
	Writes  *wireTuples `json:"writes"`
	Deletes *wireTuples `json:"deletes"`
}

type wireTuples struct {
	TupleKeys []fga.TupleKey `json:"tuple_keys"`
}

func (s *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stores/store-1/check", func(w http.ResponseWriter, r *http.Request) {
		s.checkCalls.Add(1)
		var req struct {
			TupleKey fga.TupleKey `json:"tuple_key"`
		}
		if err := gojson.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gojson.NewEncoder(w).Encode(map[string]bool{"allowed": s.allowed[req.TupleKey]})
	})
	mux.HandleFunc("/stores/store-1/write", func(w http.ResponseWriter, r *http.Request) {
		s.writeCalls.Add(1)
		var req wireWrite
		if err := gojson.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.lastWritten.Store(req)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/stores/store-1/read", func(w http.ResponseWriter, r *http.Request) {
		resp := fga.ReadResponse{
			Tuples: []fga.Tuple{
				{Key: fga.TupleKey{User: "user:anne", Relation: "viewer", Object: "document:readme"}},
			},
		}
		gojson.NewEncoder(w).Encode(resp)
	})
	return mux
}

func newTestManager(t *testing.T, svc *fakeService) *Manager {
	t.Helper()
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)

	cfg := config.NewConfig("test")
	cfg.URL = srv.URL
	cfg.StoreID = "store-1"
	cfg.MinConnections = 1
	cfg.MaxConnections = 2
	cfg.ConnectionTimeout = time.Second
	cfg.Retries = config.RetryConfig{Max: 0, Delay: time.Millisecond}

	m, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m
}

func TestManagerCheck(t *testing.T) {
	svc := &fakeService{allowed: map[fga.TupleKey]bool{
		{User: "user:anne", Relation: "viewer", Object: "document:readme"}: true,
	}}
	m := newTestManager(t, svc)
	ctx := context.Background()

	allowed, err := m.Check(ctx, "user:anne", "viewer", "document:readme")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = m.Check(ctx, "user:bob", "viewer", "document:readme")
	require.NoError(t, err)
	assert.False(t, allowed)

	stats := m.Stats()
	assert.Equal(t, int64(2), stats.Acquired)
	assert.Equal(t, int64(2), stats.Released)
	assert.Equal(t, 0, stats.InUse)
}

func TestManagerBatchCheck(t *testing.T) {
	keys := []fga.TupleKey{
		{User: "user:anne", Relation: "viewer", Object: "document:readme"},
		{User: "user:bob", Relation: "viewer", Object: "document:readme"},
		{User: "user:anne", Relation: "editor", Object: "document:readme"},
	}
	svc := &fakeService{allowed: map[fga.TupleKey]bool{keys[0]: true}}
	m := newTestManager(t, svc)

	results, err := m.BatchCheck(context.Background(), keys)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false}, results)
	assert.Equal(t, int64(3), svc.checkCalls.Load())

	// The whole batch rode one pooled connection.
	assert.Equal(t, int64(1), m.Stats().Acquired)
}

func TestManagerBatchCheck_Empty(t *testing.T) {
	m := newTestManager(t, &fakeService{})

	results, err := m.BatchCheck(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, results)
	assert.Equal(t, int64(0), m.Stats().Acquired)
}

func TestManagerWrite_Dedupes(t *testing.T) {
	svc := &fakeService{}
	m := newTestManager(t, svc)

	granted := fga.TupleKey{User: "user:anne", Relation: "viewer", Object: "document:readme"}
	canceled := fga.TupleKey{User: "user:bob", Relation: "editor", Object: "document:readme"}

	writes := []fga.TupleKey{granted, granted, canceled}
	deletes := []fga.TupleKey{canceled}

	require.NoError(t, m.Write(context.Background(), writes, deletes))
	require.Equal(t, int64(1), svc.writeCalls.Load())

	got := svc.lastWritten.Load().(wireWrite)
	require.NotNil(t, got.Writes)
	assert.Equal(t, []fga.TupleKey{granted}, got.Writes.TupleKeys)
	assert.Nil(t, got.Deletes)
}

func TestManagerWrite_NoOpBatchSkipsPool(t *testing.T) {
	svc := &fakeService{}
	m := newTestManager(t, svc)

	key := fga.TupleKey{User: "user:anne", Relation: "viewer", Object: "document:readme"}

	require.NoError(t, m.Write(context.Background(), []fga.TupleKey{key}, []fga.TupleKey{key}))
	assert.Equal(t, int64(0), svc.writeCalls.Load())
	assert.Equal(t, int64(0), m.Stats().Acquired)
}

func TestManagerGrantRevoke(t *testing.T) {
	svc := &fakeService{}
	m := newTestManager(t, svc)
	ctx := context.Background()

	require.NoError(t, m.Grant(ctx, "user:anne", "viewer", "document:readme"))
	got := svc.lastWritten.Load().(wireWrite)
	require.NotNil(t, got.Writes)
	assert.Len(t, got.Writes.TupleKeys, 1)
	assert.Nil(t, got.Deletes)

	require.NoError(t, m.Revoke(ctx, "user:anne", "viewer", "document:readme"))
	got = svc.lastWritten.Load().(wireWrite)
	assert.Nil(t, got.Writes)
	require.NotNil(t, got.Deletes)
	assert.Len(t, got.Deletes.TupleKeys, 1)
}

func TestManagerRead(t *testing.T) {
	m := newTestManager(t, &fakeService{})

	resp, err := m.Read(context.Background(), &fga.TupleKey{Object: "document:readme"}, 10, "")
	require.NoError(t, err)
	require.Len(t, resp.Tuples, 1)
	assert.Equal(t, "user:anne", resp.Tuples[0].Key.User)
}

func TestManagerHealthCheck(t *testing.T) {
	m := newTestManager(t, &fakeService{})

	report := m.HealthCheck()
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Healthy)
	assert.Equal(t, 0, report.Unhealthy)
}

func TestDedupeOperations(t *testing.T) {
	a := fga.TupleKey{User: "user:anne", Relation: "viewer", Object: "document:a"}
	b := fga.TupleKey{User: "user:bob", Relation: "editor", Object: "document:b"}
	c := fga.TupleKey{User: "user:carol", Relation: "owner", Object: "document:c"}

	tests := []struct {
		name        string
		writes      []fga.TupleKey
		deletes     []fga.TupleKey
		wantWrites  []fga.TupleKey
		wantDeletes []fga.TupleKey
	}{
		{
			name:   "duplicates collapse keeping first occurrence order",
			writes: []fga.TupleKey{a, b, a, b, a}, wantWrites: []fga.TupleKey{a, b},
		},
		{
			name:   "write and delete of same tuple cancel out",
			writes: []fga.TupleKey{a, b}, deletes: []fga.TupleKey{b, c},
			wantWrites: []fga.TupleKey{a}, wantDeletes: []fga.TupleKey{c},
		},
		{
			name:   "full cancellation yields empty batch",
			writes: []fga.TupleKey{a}, deletes: []fga.TupleKey{a},
		},
		{
			name: "empty input stays empty",
		},
		{
			name:    "deletes only",
			deletes: []fga.TupleKey{c, c}, wantDeletes: []fga.TupleKey{c},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotWrites, gotDeletes := dedupeOperations(tt.writes, tt.deletes)
			assert.Equal(t, tt.wantWrites, gotWrites)
			assert.Equal(t, tt.wantDeletes, gotDeletes)
		})
	}
}
