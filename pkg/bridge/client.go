// Package bridge drives sessions hosted by an external browser host.
//
// The Client turns navigate and extract requests into single HTTP commands,
// bounds every call with a two-tier budget and validates the shape of each
// response before handing it back. It never retries; callers decide.
package bridge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	bridgeerrors "github.com/PentesterFlow/WebviewBridge/internal/errors"
	"github.com/PentesterFlow/WebviewBridge/internal/logger"
	"github.com/PentesterFlow/WebviewBridge/internal/session"
	"github.com/PentesterFlow/WebviewBridge/internal/transport"
)

// Client issues commands against sessions of one browser host.
// It is safe for concurrent use; commands on the same session are serialized.
type Client struct {
	config     *Config
	composer   *Composer
	transport  *transport.Client
	locker     *session.Locker
	observers  []Observer
	log        *logger.Logger
	httpClient *http.Client
	baseURL    string
}

// New creates a Client for cfg.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil || len(cfg.Sessions) == 0 {
		return nil, fmt.Errorf("bridge: a loaded config with at least one session is required")
	}

	c := &Client{
		config:   cfg,
		composer: NewComposer(cfg.Timeouts),
		locker:   session.NewLocker(),
		log:      logger.Nop(),
		baseURL:  cfg.BaseURL(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("bridge: option failed: %w", err)
		}
	}

	c.log = c.log.WithComponent("bridge")

	tcfg := transport.DefaultConfig()
	tcfg.BaseURL = c.baseURL
	tcfg.Logger = c.log
	tcfg.HTTPClient = c.httpClient
	c.transport = transport.New(tcfg)

	return c, nil
}

// Config returns the configuration the client was built with.
func (c *Client) Config() *Config {
	return c.config
}

// DefaultSession returns the id of the first configured session.
func (c *Client) DefaultSession() string {
	return c.config.DefaultSession().ID
}

// Busy reports whether a command or Exclusive block currently holds the
// session.
func (c *Client) Busy(sessionID string) bool {
	return c.locker.Busy(sessionID)
}

// Budget exposes the budget a command of kind would use.
func (c *Client) Budget(kind OperationKind, opts ...CallOption) Budget {
	return c.composer.Compose(kind, applyCallOptions(opts).timeout)
}

// Close releases idle connections to the browser host.
func (c *Client) Close() error {
	c.transport.Close()
	return nil
}

// Exclusive runs fn while holding the session's lock. Commands issued with
// the context passed to fn reuse that lock instead of waiting on it, so a
// navigate followed by an extract cannot interleave with another caller.
func (c *Client) Exclusive(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	if err := c.checkSession("exclusive", sessionID); err != nil {
		return err
	}

	held, release, err := c.locker.Acquire(ctx, sessionID)
	if err != nil {
		return bridgeerrors.NewCancelledError("exclusive", err).WithSession(sessionID)
	}
	defer release()

	return fn(held)
}

// call carries per-command state through execute.
type call struct {
	id         string
	session    string
	command    string
	target     string
	statusCode int
	log        *logger.Logger
}

// execute is the boundary every public command passes through. It holds
// the session lock, converts panics into Internal errors, and reports the
// outcome to the log and to observers exactly once.
func (c *Client) execute(ctx context.Context, sessionID, command, target string, fn func(ctx context.Context, cl *call) error) (err error) {
	start := time.Now()
	cl := &call{
		id:      uuid.NewString(),
		session: sessionID,
		command: command,
		target:  target,
	}
	cl.log = c.log.WithSession(sessionID).WithCommand(command, cl.id)

	defer func() {
		if r := recover(); r != nil {
			cl.log.Event(logger.ErrorLevel).
				Str("stack", string(debug.Stack())).
				Msgf("Recovered from panic: %v", r)
			err = bridgeerrors.NewInternalError(command, r)
		}
		err = c.finish(cl, start, err)
	}()

	if err := c.checkSession(command, sessionID); err != nil {
		return err
	}

	held, release, lockErr := c.locker.Acquire(ctx, sessionID)
	if lockErr != nil {
		return bridgeerrors.NewCancelledError(command, lockErr)
	}
	defer release()

	return fn(held, cl)
}

func (c *Client) checkSession(command, sessionID string) error {
	if sessionID == "" {
		return bridgeerrors.NewInvalidArgumentError(command, "session id must not be empty")
	}
	if !c.config.HasSession(sessionID) {
		return bridgeerrors.NewInvalidArgumentError(command, fmt.Sprintf("unknown session %q", sessionID))
	}
	return nil
}

// finish normalizes err, logs the outcome and notifies observers.
func (c *Client) finish(cl *call, start time.Time, err error) error {
	duration := time.Since(start)
	rec := CommandRecord{
		ID:         cl.id,
		Session:    cl.session,
		Command:    cl.command,
		Target:     cl.target,
		Outcome:    OutcomeSuccess,
		StatusCode: cl.statusCode,
		Duration:   duration,
		Timestamp:  start,
	}

	var bridgeErr *bridgeerrors.BridgeError
	if err != nil {
		bridgeErr = bridgeerrors.Categorize(err, cl.command).WithSession(cl.session)
		rec.Outcome = bridgeErr.Type.String()
		rec.Message = bridgeErr.Message
		if bridgeErr.StatusCode != 0 {
			rec.StatusCode = bridgeErr.StatusCode
		}
	}

	switch {
	case bridgeErr == nil:
		cl.log.CommandEvent(logger.InfoLevel, rec.Outcome, duration).Msg("Command succeeded")
	case bridgeErr.Type == bridgeerrors.RemoteReported:
		cl.log.CommandEvent(logger.ErrorLevel, rec.Outcome, duration).
			Str("remote_error", bridgeErr.Message).
			Msg("Browser host reported failure")
	case bridgeErr.Type == bridgeerrors.ShapeValidation:
		cl.log.CommandEvent(logger.ErrorLevel, rec.Outcome, duration).
			Str("reason", bridgeErr.Message).
			Msg("Browser host reported success with an unexpected payload")
	default:
		cl.log.CommandEvent(logger.ErrorLevel, rec.Outcome, duration).
			Err(bridgeErr).
			Msg("Command failed")
	}

	for _, o := range c.observers {
		o.ObserveCommand(rec)
	}

	if bridgeErr == nil {
		return nil
	}
	return bridgeErr
}

// send issues one command and records the status for the command record.
func (c *Client) send(ctx context.Context, cl *call, endpoint string, params url.Values, budget Budget) (*transport.RawResponse, error) {
	cl.log.Debugf("Budget: server %s, client %s", budget.Server, budget.Client)
	resp, err := c.transport.Send(ctx, endpoint, params, budget.Client)
	if err != nil {
		return nil, err
	}
	cl.statusCode = resp.StatusCode
	return resp, nil
}

// wait blocks for d unless ctx ends first.
func wait(ctx context.Context, d time.Duration, operation string) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return bridgeerrors.NewCancelledError(operation, ctx.Err())
	}
}
