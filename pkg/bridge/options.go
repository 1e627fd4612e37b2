package bridge

import (
	"fmt"
	"net/http"
	"time"

	"github.com/PentesterFlow/WebviewBridge/internal/logger"
)

// Option is a functional option for configuring the Client.
type Option func(*Client) error

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) error {
		if log == nil {
			return fmt.Errorf("logger must not be nil")
		}
		c.log = log
		return nil
	}
}

// WithHTTPClient replaces the HTTP client used to reach the browser host.
// Per-call budgets are still applied through the request context.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = client
		return nil
	}
}

// WithObserver adds an observer notified after every command.
func WithObserver(o Observer) Option {
	return func(c *Client) error {
		if o != nil {
			c.observers = append(c.observers, o)
		}
		return nil
	}
}

// CallOption adjusts a single command.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the server budget for one call.
// Zero or negative values are ignored.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
	}
}

func applyCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
