// Package shutdown stops the bridge service cleanly on SIGINT or SIGTERM.
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/PentesterFlow/WebviewBridge/internal/logger"
)

// Hook releases one resource during shutdown.
type Hook func(ctx context.Context) error

type namedHook struct {
	name string
	hook Hook
}

// Handler runs registered hooks in reverse registration order once a
// signal arrives or Shutdown is called.
type Handler struct {
	mu    sync.Mutex
	hooks []namedHook

	shuttingDown atomic.Bool
	done         chan struct{}
	timeout      time.Duration
	err          error

	ctx    context.Context
	cancel context.CancelFunc

	sigChan chan os.Signal
	log     *logger.Logger
}

// Config holds shutdown configuration.
type Config struct {
	Timeout time.Duration
	Signals []os.Signal
	Logger  *logger.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// New creates a handler and starts listening for the configured signals.
func New(cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &Handler{
		done:    make(chan struct{}),
		timeout: cfg.Timeout,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 1),
		log:     log.WithComponent("shutdown"),
	}

	signal.Notify(h.sigChan, cfg.Signals...)

	return h
}

// Register adds a hook. Hooks run last-registered first.
func (h *Handler) Register(name string, hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, namedHook{name: name, hook: hook})
}

// RegisterFunc adds a hook that cannot fail.
func (h *Handler) RegisterFunc(name string, fn func()) {
	h.Register(name, func(ctx context.Context) error {
		fn()
		return nil
	})
}

// GracefulServer is anything with an http.Server style Shutdown.
type GracefulServer interface {
	Shutdown(ctx context.Context) error
}

// RegisterServer adds a server's Shutdown as a hook.
func (h *Handler) RegisterServer(name string, server GracefulServer) {
	h.Register(name, server.Shutdown)
}

// Context is cancelled as soon as shutdown begins.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// IsShuttingDown returns whether shutdown is in progress.
func (h *Handler) IsShuttingDown() bool {
	return h.shuttingDown.Load()
}

// Done is closed once every hook has returned or timed out.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Err returns the joined hook errors once Done is closed.
func (h *Handler) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until a signal arrives or ctx ends, then shuts down.
func (h *Handler) Wait(ctx context.Context) error {
	select {
	case sig := <-h.sigChan:
		h.log.Infof("Received %s, shutting down", sig)
		return h.Shutdown()
	case <-ctx.Done():
		return h.Shutdown()
	case <-h.ctx.Done():
		<-h.done
		return h.err
	}
}

// Shutdown runs the hooks once. Later calls wait for the first to finish.
func (h *Handler) Shutdown() error {
	if !h.shuttingDown.CompareAndSwap(false, true) {
		<-h.done
		return h.err
	}

	start := time.Now()
	signal.Stop(h.sigChan)
	h.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), h.timeout)
	defer shutdownCancel()

	h.mu.Lock()
	hooks := make([]namedHook, len(h.hooks))
	copy(hooks, h.hooks)
	h.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := h.run(shutdownCtx, hooks[i]); err != nil {
			h.log.WithError(err).Warnf("Shutdown hook %s failed", hooks[i].name)
			errs = append(errs, err)
		}
	}

	h.err = errors.Join(errs...)
	h.log.WithDuration(time.Since(start)).Info("Shutdown complete")
	close(h.done)
	return h.err
}

// run gives one hook until ctx expires.
func (h *Handler) run(ctx context.Context, nh namedHook) error {
	result := make(chan error, 1)

	go func() {
		result <- nh.hook(ctx)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return &TimeoutError{Hook: nh.name}
	}
}

// Trigger delivers a synthetic SIGTERM, as a signal would.
func (h *Handler) Trigger() {
	select {
	case h.sigChan <- syscall.SIGTERM:
	default:
	}
}

// TimeoutError is returned when a hook outlives the shutdown timeout.
type TimeoutError struct {
	Hook string
}

func (e *TimeoutError) Error() string {
	return "shutdown hook timed out: " + e.Hook
}
