package fga

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

	"github.com/authzkit/fgapool/pkg/autherrors"
	"github.com/authzkit/fgapool/pkg/config"
)

func serverConfig(serverURL string) *config.Config {
	cfg := config.NewConfig("test")
	cfg.URL = serverURL
	cfg.StoreID = "store-1"
	cfg.RequestTimeout = 5 * time.Second
	cfg.Retries = config.RetryConfig{Max: 1, Delay: 10 * time.Millisecond}
	return cfg
}

func newServerClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(serverConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestCheck(t *testing.T) {
	client, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/stores/store-1/check", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req checkRequest
		require.NoError(t, gojson.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user:anne", req.TupleKey.User)
		assert.Equal(t, "viewer", req.TupleKey.Relation)
		assert.Equal(t, "document:readme", req.TupleKey.Object)

		gojson.NewEncoder(w).Encode(checkResponse{Allowed: true})
	}))

	allowed, err := client.Check(context.Background(), "user:anne", "viewer", "document:readme")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestCheck_Denied(t *testing.T) {
	client, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gojson.NewEncoder(w).Encode(checkResponse{Allowed: false, Resolution: "no path"})
	}))

	allowed, err := client.Check(context.Background(), "user:bob", "editor", "document:readme")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCheck_APITokenHeader(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		gojson.NewEncoder(w).Encode(checkResponse{Allowed: true})
	}))
	t.Cleanup(srv.Close)

	cfg := serverConfig(srv.URL)
	cfg.Credentials = config.Credentials{Method: config.CredentialsAPIToken, Token: "secret-token"}

	client, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Check(context.Background(), "user:anne", "viewer", "document:readme")
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", gotAuth.Load())
}

func TestWrite(t *testing.T) {
	var got writeRequest
	client, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stores/store-1/write", r.URL.Path)
		require.NoError(t, gojson.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))

	writes := []TupleKey{{User: "user:anne", Relation: "viewer", Object: "document:readme"}}
	deletes := []TupleKey{{User: "user:bob", Relation: "editor", Object: "document:readme"}}

	require.NoError(t, client.Write(context.Background(), writes, deletes))
	require.NotNil(t, got.Writes)
	require.NotNil(t, got.Deletes)
	assert.Equal(t, writes, got.Writes.TupleKeys)
	assert.Equal(t, deletes, got.Deletes.TupleKeys)
}

func TestWrite_EmptyBatchSkipsRequest(t *testing.T) {
	var calls atomic.Int64
	client, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	require.NoError(t, client.Write(context.Background(), nil, nil))
	assert.Equal(t, int64(0), calls.Load())
}

func TestRead(t *testing.T) {
	client, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stores/store-1/read", r.URL.Path)

		var req readRequest
		require.NoError(t, gojson.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.TupleKey)
		assert.Equal(t, "document:readme", req.TupleKey.Object)
		assert.Equal(t, 25, req.PageSize)

		gojson.NewEncoder(w).Encode(ReadResponse{
			Tuples: []Tuple{
				{Key: TupleKey{User: "user:anne", Relation: "viewer", Object: "document:readme"}},
			},
			ContinuationToken: "next-page",
		})
	}))

	resp, err := client.Read(context.Background(), &TupleKey{Object: "document:readme"}, 25, "")
	require.NoError(t, err)
	require.Len(t, resp.Tuples, 1)
	assert.Equal(t, "user:anne", resp.Tuples[0].Key.User)
	assert.Equal(t, "next-page", resp.ContinuationToken)
}

func TestPost_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	client, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		gojson.NewEncoder(w).Encode(checkResponse{Allowed: true})
	}))

	allowed, err := client.Check(context.Background(), "user:anne", "viewer", "document:readme")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, int64(2), calls.Load())
}

func TestPost_ExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int64
	client, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.Check(context.Background(), "user:anne", "viewer", "document:readme")
	require.Error(t, err)
	assert.True(t, autherrors.IsType(err, autherrors.ErrorTypeConnection))
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, int64(2), calls.Load())
}

func TestPost_ErrorTypeByStatus(t *testing.T) {
	tests := []struct {
		status   int
		wantType autherrors.ErrorType
	}{
		{http.StatusUnauthorized, autherrors.ErrorTypeAuthentication},
		{http.StatusForbidden, autherrors.ErrorTypePermission},
		{http.StatusTooManyRequests, autherrors.ErrorTypeRateLimit},
		{http.StatusRequestTimeout, autherrors.ErrorTypeTimeout},
		{http.StatusBadRequest, autherrors.ErrorTypeConnection},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			client, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				gojson.NewEncoder(w).Encode(apiError{Code: "err", Message: "denied by server"})
			}))

			_, err := client.Check(context.Background(), "user:anne", "viewer", "document:readme")
			require.Error(t, err)
			assert.True(t, autherrors.IsType(err, tt.wantType), "got %v", err)
			assert.Contains(t, err.Error(), "denied by server")
		})
	}
}

func TestNew_UnsupportedCredentialMethod(t *testing.T) {
	cfg := serverConfig("http://127.0.0.1:18080")
	cfg.Credentials.Method = "kerberos"

	_, err := New(cfg, zap.NewNop())
	require.Error(t, err)
	assert.True(t, autherrors.IsType(err, autherrors.ErrorTypeConfig))
}

func TestTokenEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		issuer  string
		want    string
		wantErr bool
	}{
		{name: "bare host", issuer: "auth.example.com", want: "https://auth.example.com/oauth/token"},
		{name: "scheme no path", issuer: "https://auth.example.com", want: "https://auth.example.com/oauth/token"},
		{name: "trailing slash", issuer: "https://auth.example.com/", want: "https://auth.example.com/oauth/token"},
		{name: "explicit path kept", issuer: "https://auth.example.com/oauth2/token", want: "https://auth.example.com/oauth2/token"},
		{name: "empty issuer", issuer: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tokenEndpoint(tt.issuer)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientCredentials_TokenFetchedFromIssuer(t *testing.T) {
	var tokenCalls atomic.Int64
	issuer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		assert.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "fga.example.com", r.Form.Get("audience"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"issued-token","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(issuer.Close)

	var gotAuth atomic.Value
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		gojson.NewEncoder(w).Encode(checkResponse{Allowed: true})
	}))
	t.Cleanup(api.Close)

	cfg := serverConfig(api.URL)
	cfg.Credentials = config.Credentials{
		Method:       config.CredentialsClientCredentials,
		ClientID:     "client-1",
		ClientSecret: "hunter2",
		Issuer:       issuer.URL,
		Audience:     "fga.example.com",
	}

	client, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Check(context.Background(), "user:anne", "viewer", "document:readme")
	require.NoError(t, err)
	assert.Equal(t, "Bearer issued-token", gotAuth.Load())
	assert.Equal(t, int64(1), tokenCalls.Load())
}
