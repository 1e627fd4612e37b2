// Package transport issues single request/response calls to the browser host.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	bridgeerrors "github.com/PentesterFlow/WebviewBridge/internal/errors"
	"github.com/PentesterFlow/WebviewBridge/internal/logger"
)

const (
	// maxBodySize bounds how much of a response is read.
	maxBodySize = 32 * 1024 * 1024
	// diagnosticBodyLen is how much of a bad body is kept for logs.
	diagnosticBodyLen = 200
)

// Client sends commands to the browser host over HTTP.
type Client struct {
	client  *http.Client
	baseURL string
	log     *logger.Logger
}

// Config holds configuration for the transport client.
type Config struct {
	BaseURL         string
	MaxIdleConns    int
	DialTimeout     time.Duration
	IdleConnTimeout time.Duration
	UserAgent       string
	Logger          *logger.Logger
	HTTPClient      *http.Client
}

// DefaultConfig returns defaults for a single local browser host.
func DefaultConfig() Config {
	return Config{
		MaxIdleConns:    4,
		DialTimeout:     5 * time.Second,
		IdleConnTimeout: 90 * time.Second,
		UserAgent:       "webview-bridge/1.0",
	}
}

// New creates a transport client.
// There is no client-wide timeout; every Send carries its own budget.
func New(cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		if cfg.DialTimeout <= 0 {
			cfg.DialTimeout = 5 * time.Second
		}
		userAgent := cfg.UserAgent
		if userAgent == "" {
			userAgent = DefaultConfig().UserAgent
		}
		transport := &http.Transport{
			Proxy: nil,
			DialContext: (&net.Dialer{
				Timeout:   cfg.DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConns,
			IdleConnTimeout:     cfg.IdleConnTimeout,
		}
		httpClient = &http.Client{
			Transport: &userAgentTransport{base: transport, userAgent: userAgent},
		}
	}

	return &Client{
		client:  httpClient,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		log:     log.WithComponent("transport"),
	}
}

// RawResponse is a well-formed browser host response.
type RawResponse struct {
	StatusCode int
	Fields     map[string]json.RawMessage
	Duration   time.Duration
}

// Bool reads a boolean field, reporting whether it was present and a bool.
func (r *RawResponse) Bool(name string) (bool, bool) {
	raw, ok := r.Fields[name]
	if !ok {
		return false, false
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, false
	}
	return v, true
}

// String reads a string field, reporting whether it was present and a string.
func (r *RawResponse) String(name string) (string, bool) {
	raw, ok := r.Fields[name]
	if !ok {
		return "", false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return v, true
}

// Send issues one GET to endpoint with params, waiting at most clientTimeout.
func (c *Client) Send(ctx context.Context, endpoint string, params url.Values, clientTimeout time.Duration) (*RawResponse, error) {
	operation := strings.TrimPrefix(endpoint, "/")
	start := time.Now()

	reqCtx := ctx
	if clientTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, clientTimeout)
		defer cancel()
	}

	target := c.baseURL + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, bridgeerrors.NewInvalidArgumentError(operation, fmt.Sprintf("cannot build request: %v", err))
	}
	req.Header.Set("Accept", "application/json")

	c.log.RequestEvent(endpoint, clientTimeout)
	c.log.Debugf("Params: %s", params.Encode())

	resp, err := c.client.Do(req)
	if err != nil {
		bridgeErr := c.classifyRoundTrip(ctx, reqCtx, err, operation)
		c.log.TransportFailure(err, endpoint, bridgeErr.Type.String(), 0, "")
		return nil, bridgeErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		bridgeErr := c.classifyRoundTrip(ctx, reqCtx, err, operation)
		c.log.TransportFailure(err, endpoint, bridgeErr.Type.String(), resp.StatusCode, "")
		return nil, bridgeErr
	}

	fields, parseErr := decodeObject(body)

	if httpErr := bridgeerrors.CategorizeHTTPStatus(resp.StatusCode, operation, remoteMessage(fields)); httpErr != nil {
		c.log.TransportFailure(httpErr, endpoint, httpErr.Type.String(), resp.StatusCode, truncate(body))
		return nil, httpErr
	}

	if parseErr != nil {
		bridgeErr := bridgeerrors.NewMalformedBodyError(operation, resp.StatusCode, parseErr)
		c.log.TransportFailure(parseErr, endpoint, bridgeErr.Type.String(), resp.StatusCode, truncate(body))
		return nil, bridgeErr
	}

	duration := time.Since(start)
	c.log.ResponseEvent(endpoint, resp.StatusCode, duration)

	return &RawResponse{
		StatusCode: resp.StatusCode,
		Fields:     fields,
		Duration:   duration,
	}, nil
}

// classifyRoundTrip separates caller cancellation from our own budget
// expiring. Only an expired budget is a client timeout; a dial that gives up
// on its own is a connection failure.
func (c *Client) classifyRoundTrip(parent, reqCtx context.Context, err error, operation string) *bridgeerrors.BridgeError {
	if parent.Err() != nil {
		if errors.Is(parent.Err(), context.DeadlineExceeded) {
			return bridgeerrors.NewClientTimeoutError(operation, err)
		}
		return bridgeerrors.NewCancelledError(operation, err)
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return bridgeerrors.NewClientTimeoutError(operation, err)
	}
	return bridgeerrors.Categorize(err, operation)
}

// Close releases idle connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

// decodeObject parses body as a JSON object.
func decodeObject(body []byte) (map[string]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return nil, fmt.Errorf("expected JSON object, got %q", truncate([]byte(trimmed)))
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// remoteMessage pulls the host's "error" string out of a failure body, if any.
func remoteMessage(fields map[string]json.RawMessage) string {
	raw, ok := fields["error"]
	if !ok {
		return ""
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ""
	}
	return msg
}

func truncate(body []byte) string {
	if len(body) <= diagnosticBodyLen {
		return string(body)
	}
	return string(body[:diagnosticBodyLen]) + "..."
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

func (t *userAgentTransport) CloseIdleConnections() {
	if ci, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}
