// Package fga provides the HTTP client for the remote authorization service.
// One Client is the handle the connection pool hands out: it owns a tuned
// transport, applies the configured credential method, and exposes the
// check/write/read operations of the relationship API.
package fga

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/authzkit/fgapool/pkg/autherrors"
	"github.com/authzkit/fgapool/pkg/config"
)

// Client is a handle to the remote authorization service. It is safe for
// concurrent use, but pooled callers treat a checked-out client as
// exclusively owned until released.
type Client struct {
	cfg        *config.Config
	logger     *zap.Logger
	httpClient *http.Client
	transport  *http.Transport
	baseURL    string
}

// New creates a client for the configured endpoint, applying the selected
// credential method. It fails on unsupported credential methods so the pool
// can surface factory failures as initialization errors.
func New(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("failed to configure HTTP/2", zap.Error(err))
	}

	rt, err := credentialTransport(&cfg.Credentials, transport, cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "fga_client")),
		httpClient: &http.Client{
			Transport: rt,
			Timeout:   cfg.RequestTimeout,
		},
		transport: transport,
		baseURL:   strings.TrimRight(cfg.URL, "/"),
	}, nil
}

// StoreID returns the configured store identifier.
func (c *Client) StoreID() string {
	return c.cfg.StoreID
}

// Check asks the remote service whether user has relation on object.
func (c *Client) Check(ctx context.Context, user, relation, object string) (bool, error) {
	req := checkRequest{TupleKey: TupleKey{User: user, Relation: relation, Object: object}}

	var resp checkResponse
	if err := c.post(ctx, "check", req, &resp); err != nil {
		return false, err
	}

	c.logger.Debug("check completed",
		zap.String("object", object),
		zap.String("relation", relation),
		zap.Bool("allowed", resp.Allowed))

	return resp.Allowed, nil
}

// Write applies tuple writes and deletes in one remote call. Empty slices
// are omitted from the request body.
func (c *Client) Write(ctx context.Context, writes, deletes []TupleKey) error {
	if len(writes) == 0 && len(deletes) == 0 {
		return nil
	}

	req := writeRequest{}
	if len(writes) > 0 {
		req.Writes = &tupleKeys{TupleKeys: writes}
	}
	if len(deletes) > 0 {
		req.Deletes = &tupleKeys{TupleKeys: deletes}
	}

	var resp struct{}
	return c.post(ctx, "write", req, &resp)
}

// Read returns one page of stored tuples matching filter. A nil filter
// reads all tuples in the store.
func (c *Client) Read(ctx context.Context, filter *TupleKey, pageSize int, continuation string) (*ReadResponse, error) {
	req := readRequest{
		TupleKey:          filter,
		PageSize:          pageSize,
		ContinuationToken: continuation,
	}

	resp := &ReadResponse{}
	if err := c.post(ctx, "read", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Close releases idle transport connections. Safe to call more than once.
func (c *Client) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// post sends one JSON request to a store endpoint, retrying transport
// failures and 5xx responses up to the configured retry budget.
func (c *Client) post(ctx context.Context, operation string, body, out interface{}) error {
	payload, err := gojson.Marshal(body)
	if err != nil {
		return autherrors.Wrap(err, autherrors.ErrorTypeData, "failed to encode request")
	}

	url := fmt.Sprintf("%s/stores/%s/%s", c.baseURL, c.cfg.StoreID, operation)

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.cfg.Retries.Max; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.cfg.Retries.Delay * time.Duration(attempt)):
			case <-ctx.Done():
				return autherrors.Wrap(ctx.Err(), autherrors.ErrorTypeTimeout, "request canceled")
			}
			c.logger.Warn("retrying request",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return autherrors.Wrap(err, autherrors.ErrorTypeInternal, "failed to build request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err = c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
			drainAndClose(resp.Body)
			continue
		}
		return c.decodeResponse(resp, operation, out)
	}

	return autherrors.Wrap(lastErr, autherrors.ErrorTypeConnection,
		fmt.Sprintf("%s request failed after %d attempts", operation, c.cfg.Retries.Max+1))
}

// decodeResponse maps non-2xx statuses to typed errors and decodes the
// body into out otherwise.
func (c *Client) decodeResponse(resp *http.Response, operation string, out interface{}) error {
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if err := gojson.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return autherrors.Newf(errorTypeForStatus(resp.StatusCode),
			"%s failed: %s", operation, apiErr.Message).
			WithDetail("status", resp.StatusCode).
			WithDetail("code", apiErr.Code)
	}

	if err := gojson.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return autherrors.Wrap(err, autherrors.ErrorTypeData, "failed to decode response")
	}
	return nil
}

func errorTypeForStatus(status int) autherrors.ErrorType {
	switch status {
	case http.StatusUnauthorized:
		return autherrors.ErrorTypeAuthentication
	case http.StatusForbidden:
		return autherrors.ErrorTypePermission
	case http.StatusTooManyRequests:
		return autherrors.ErrorTypeRateLimit
	case http.StatusRequestTimeout:
		return autherrors.ErrorTypeTimeout
	default:
		return autherrors.ErrorTypeConnection
	}
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
