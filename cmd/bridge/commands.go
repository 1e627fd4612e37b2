package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	bridgeerrors "github.com/PentesterFlow/WebviewBridge/internal/errors"
	"github.com/PentesterFlow/WebviewBridge/internal/journal"
	"github.com/PentesterFlow/WebviewBridge/internal/logger"
	"github.com/PentesterFlow/WebviewBridge/internal/output"
	"github.com/PentesterFlow/WebviewBridge/internal/server"
	"github.com/PentesterFlow/WebviewBridge/internal/shutdown"
	"github.com/PentesterFlow/WebviewBridge/pkg/bridge"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger(logger.InfoLevel)

	settings, err := server.LoadSettings()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("listen") {
		settings.Listen = listen
	}
	if cmd.Flags().Changed("rate-limit") {
		settings.RateLimitRPS = rateLimit
	}
	if cmd.Flags().Changed("rate-burst") {
		settings.RateLimitBurst = rateBurst
	}

	a, err := newApp(log)
	if err != nil {
		return err
	}

	srv := server.New(a.client, settings, a.metrics, log)

	sh := shutdown.New(shutdown.Config{
		Timeout: settings.ShutdownTimeout,
		Logger:  log,
	})
	sh.RegisterFunc("journal", a.closeJournal)
	sh.RegisterFunc("bridge client", func() { a.client.Close() })
	sh.RegisterServer("http server", srv)

	listenErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !sh.IsShuttingDown() {
			listenErr <- err
			sh.Trigger()
		}
	}()

	log.WithField("listen", settings.Listen).
		WithField("browser_host", a.config.BaseURL()).
		Infof("WebviewBridge %s serving", version)

	if err := sh.Wait(context.Background()); err != nil {
		log.WithError(err).Warn("Shutdown finished with errors")
	}

	select {
	case err := <-listenErr:
		return fmt.Errorf("server failed: %w", err)
	default:
		return nil
	}
}

func runNavigate(cmd *cobra.Command, args []string) error {
	target := args[0]

	a, err := newApp(newLogger(logger.FatalLevel))
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	start := time.Now()
	session := a.session()
	a.startProgress(target, 1)
	loaded, attempts, err := retry(ctx, a, bridge.CommandNavigate, func(ctx context.Context) (string, error) {
		return a.client.Navigate(ctx, session, target, a.callOptions()...)
	})
	a.stopProgress()
	if err != nil {
		return a.fail(bridge.CommandNavigate, target, attempts, err)
	}

	return a.out.WriteNavigation(&output.NavigationResult{
		Success:   true,
		Session:   session,
		Target:    target,
		LoadedURL: loaded,
		Attempts:  attempts,
		Duration:  time.Since(start),
	})
}

type listOutcome struct {
	loaded string
	items  []bridge.ListItem
}

func runList(cmd *cobra.Command, args []string) error {
	if page <= 0 {
		page = 1
	}
	target := bridge.SetQueryParam(baseURL, "page", page)

	a, err := newApp(newLogger(logger.FatalLevel))
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	start := time.Now()
	session := a.session()
	a.startProgress(target, 2)
	res, attempts, err := retry(ctx, a, bridge.CommandListExtract, func(ctx context.Context) (listOutcome, error) {
		var out listOutcome
		err := a.client.Exclusive(ctx, session, func(ctx context.Context) error {
			loaded, err := a.client.Navigate(ctx, session, target, a.callOptions()...)
			if err != nil {
				return err
			}
			out.loaded = loaded
			out.items, err = a.client.ExtractListData(ctx, session, listDelay, a.callOptions()...)
			return err
		})
		return out, err
	})
	a.stopProgress()
	if err != nil {
		return a.fail(bridge.CommandListExtract, target, attempts, err)
	}

	result := output.NewListResult(session, target, res.loaded, page, res.items)
	result.Attempts = attempts
	result.Duration = time.Since(start)
	return a.out.WriteList(result)
}

type detailsOutcome struct {
	loaded string
	result *bridge.DetailResult
}

func runDetails(cmd *cobra.Command, args []string) error {
	target := args[0]

	a, err := newApp(newLogger(logger.FatalLevel))
	if err != nil {
		return err
	}
	defer a.Close()

	if err := bridge.CheckTarget(target); err != nil {
		return a.fail(bridge.CommandDetailExtract, target, 0,
			bridgeerrors.NewInvalidArgumentError(bridge.CommandDetailExtract, fmt.Sprintf("invalid url %q: %v", target, err)))
	}

	ctx, cancel := signalContext()
	defer cancel()

	start := time.Now()
	session := a.session()
	a.startProgress(target, 2)
	res, attempts, err := retry(ctx, a, bridge.CommandDetailExtract, func(ctx context.Context) (detailsOutcome, error) {
		var out detailsOutcome
		err := a.client.Exclusive(ctx, session, func(ctx context.Context) error {
			loaded, err := a.client.Navigate(ctx, session, target, a.callOptions()...)
			if err != nil {
				return err
			}
			out.loaded = loaded
			if err := bridge.Pause(ctx, detailDelay); err != nil {
				return err
			}
			out.result, err = a.client.ExtractDetails(ctx, session, a.callOptions()...)
			return err
		})
		return out, err
	})
	a.stopProgress()
	if err != nil {
		return a.fail(bridge.CommandDetailExtract, target, attempts, err)
	}

	return a.out.WriteDetails(&output.DetailsResult{
		Success:   true,
		Session:   session,
		Target:    target,
		LoadedURL: res.loaded,
		Details:   res.result.Details,
		Prices:    res.result.Prices,
		Attempts:  attempts,
		Duration:  time.Since(start),
	})
}

func runConfig(cmd *cobra.Command, args []string) error {
	log := newLogger(logger.InfoLevel)

	cfg, err := bridge.LoadConfig(configFile, log)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	printConfig(cfg)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	if journalPath == "" {
		return fmt.Errorf("--journal is required for history")
	}
	if _, err := os.Stat(journalPath); err != nil {
		return fmt.Errorf("journal not found: %w", err)
	}

	log := newLogger(logger.FatalLevel)
	j, err := journal.Open(journalPath, journalMax, log)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer j.Close()

	records, err := j.Recent(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}

	out := newWriter()
	defer out.Close()
	return out.WriteHistory(output.NewHistoryReport(j.Path(), records))
}

func printConfig(cfg *bridge.Config) {
	composer := bridge.NewComposer(cfg.Timeouts)

	fmt.Println()
	fmt.Println("WebviewBridge configuration")
	fmt.Println()
	fmt.Printf("Config file:   %s\n", configFile)
	fmt.Printf("Browser host:  %s\n", cfg.BaseURL())
	fmt.Printf("Sessions:      %d (default: %s)\n", len(cfg.Sessions), cfg.DefaultSession().ID)
	for _, id := range cfg.SessionIDs() {
		fmt.Printf("  - %s\n", id)
	}
	fmt.Println()
	fmt.Println("Budgets (server / client):")
	for _, kind := range []bridge.OperationKind{bridge.Navigation, bridge.ListExtraction, bridge.DetailExtraction} {
		b := composer.Compose(kind, 0)
		fmt.Printf("  %-18s %v / %v\n", kind.String()+":", b.Server, b.Client)
	}
	if len(cfg.Warnings) > 0 {
		fmt.Println()
		fmt.Println("Warnings:")
		for _, w := range cfg.Warnings {
			fmt.Printf("  %s\n", w)
		}
	}
	fmt.Println()
}
