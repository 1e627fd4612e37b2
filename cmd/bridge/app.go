package main

import (
	"context"
	"fmt"
	"os"
	"time"

	bridgeerrors "github.com/PentesterFlow/WebviewBridge/internal/errors"
	"github.com/PentesterFlow/WebviewBridge/internal/journal"
	"github.com/PentesterFlow/WebviewBridge/internal/logger"
	"github.com/PentesterFlow/WebviewBridge/internal/metrics"
	"github.com/PentesterFlow/WebviewBridge/internal/output"
	"github.com/PentesterFlow/WebviewBridge/internal/progress"
	"github.com/PentesterFlow/WebviewBridge/pkg/bridge"
)

// app holds everything a command needs once the config has loaded.
type app struct {
	log      *logger.Logger
	config   *bridge.Config
	client   *bridge.Client
	metrics  *metrics.Collector
	journal  *journal.Journal
	progress *progress.Display
	out      output.Writer
}

func newLogger(min logger.Level) *logger.Logger {
	level := logger.WarnLevel
	if verbose {
		level = logger.InfoLevel
	}
	if debug {
		level = logger.DebugLevel
	}
	if level > min {
		level = min
	}

	cfg := logger.DefaultConfig()
	cfg.Level = level
	cfg.Pretty = !jsonLogs
	return logger.New(cfg)
}

func newWriter() output.Writer {
	return output.NewWriter(os.Stdout, output.Config{Format: "json", Pretty: pretty})
}

// newApp loads the config and builds the client. Any failure here is fatal.
func newApp(log *logger.Logger) (*app, error) {
	cfg, err := bridge.LoadConfig(configFile, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a := &app{
		log:     log,
		config:  cfg,
		metrics: metrics.New(),
		out:     newWriter(),
	}

	opts := []bridge.Option{
		bridge.WithLogger(log),
		bridge.WithObserver(a.metrics),
	}

	if showProgress && progress.Enabled(os.Stderr) {
		a.progress = progress.New(os.Stderr)
		opts = append(opts, bridge.WithObserver(a.progress))
	}

	if journalPath != "" {
		j, err := journal.Open(journalPath, journalMax, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		a.journal = j
		opts = append(opts, bridge.WithObserver(j))
	}

	client, err := bridge.New(cfg, opts...)
	if err != nil {
		a.closeJournal()
		return nil, fmt.Errorf("failed to create bridge client: %w", err)
	}
	a.client = client

	return a, nil
}

func (a *app) closeJournal() {
	if a.journal == nil {
		return
	}
	if err := a.journal.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close journal")
	}
	if n := a.journal.Dropped(); n > 0 {
		a.log.Warnf("Journal dropped %d records", n)
	}
}

// startProgress shows the status line for a run of steps commands.
func (a *app) startProgress(target string, steps int) {
	if a.progress != nil {
		a.progress.Start(target, steps)
	}
}

func (a *app) stopProgress() {
	if a.progress != nil {
		a.progress.Stop()
	}
}

// Close releases the client and the journal.
func (a *app) Close() {
	a.stopProgress()
	a.client.Close()
	a.closeJournal()
	a.out.Close()
}

// session returns the --session flag or the default session.
func (a *app) session() string {
	if sessionID != "" {
		return sessionID
	}
	return a.client.DefaultSession()
}

func (a *app) callOptions() []bridge.CallOption {
	if timeout > 0 {
		return []bridge.CallOption{bridge.WithTimeout(timeout)}
	}
	return nil
}

// retryDelay is the first backoff delay of --retries.
var retryDelay = time.Second

func newRetrier() *bridgeerrors.Retrier {
	cfg := bridgeerrors.DefaultRetryConfig()
	cfg.MaxRetries = retries
	cfg.InitialDelay = retryDelay
	return bridgeerrors.NewRetrier(cfg)
}

// retry runs fn under the --retries policy and counts every extra attempt.
func retry[T any](ctx context.Context, a *app, operation string, fn func(ctx context.Context) (T, error)) (T, int, error) {
	result, rr := bridgeerrors.DoWithResult(ctx, newRetrier(), operation, fn)
	for i := 1; i < rr.Attempts; i++ {
		a.metrics.RecordRetry()
	}
	if rr.Attempts > 1 {
		a.log.WithField("attempts", rr.Attempts).
			WithDuration(rr.Duration).
			Infof("%s finished after retries", operation)
	}
	if !rr.Success {
		return result, rr.Attempts, rr.LastError
	}
	return result, rr.Attempts, nil
}

// fail writes err as a CommandError and returns it for the exit status.
func (a *app) fail(command, target string, attempts int, err error) error {
	ce := output.NewCommandError(command, a.session(), target, err)
	ce.Attempts = attempts
	if werr := a.out.WriteError(ce); werr != nil {
		a.log.WithError(werr).Warn("Failed to write error")
	}
	return fmt.Errorf("%s failed: %w", command, err)
}
