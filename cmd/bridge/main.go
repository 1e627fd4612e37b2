package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/WebviewBridge/internal/journal"
	"github.com/PentesterFlow/WebviewBridge/internal/server"
)

var (
	version = "1.0.0"

	// Global flags
	configFile  string
	verbose     bool
	debug       bool
	jsonLogs    bool
	journalPath string
	journalMax  int
	pretty      bool

	// Display flags
	showProgress bool

	// Command flags
	sessionID   string
	timeout     time.Duration
	retries     int
	page        int
	baseURL     string
	listDelay   time.Duration
	detailDelay time.Duration

	// Serve flags
	listen    string
	rateLimit float64
	rateBurst int

	// History flags
	historyLimit int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bridge",
		Short: "WebviewBridge - remote control for browser host sessions",
		Long: `WebviewBridge drives long-lived sessions of a browser host process.

It navigates a session, runs the host's list and detail extraction scripts,
and validates every response. Use "serve" for the HTTP API or the one-shot
commands from scripts.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog HTTP API",
		Long:  "Serve /fetch-page-data and /fetch-book-details-and-prices on top of the default session.",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	navigateCmd := &cobra.Command{
		Use:   "navigate [url]",
		Short: "Navigate a session to a URL",
		Args:  cobra.ExactArgs(1),
		RunE:  runNavigate,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Fetch one catalog page and extract its list",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	detailsCmd := &cobra.Command{
		Use:   "details [url]",
		Short: "Fetch a product page and extract its details and prices",
		Args:  cobra.ExactArgs(1),
		RunE:  runDetails,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Validate and print the bridge configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfig,
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent commands from the journal",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.json", "Bridge configuration file (JSON or YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Write logs as JSON")
	rootCmd.PersistentFlags().StringVar(&journalPath, "journal", "", "Command journal file (disabled when empty)")
	rootCmd.PersistentFlags().IntVar(&journalMax, "journal-max", journal.DefaultMaxEntries, "Maximum journal entries kept")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", true, "Indent JSON output")

	// One-shot flags
	for _, cmd := range []*cobra.Command{navigateCmd, listCmd, detailsCmd} {
		cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id (default: first configured session)")
		cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Server budget override (default: from config)")
		cmd.Flags().IntVarP(&retries, "retries", "r", 0, "Retries on connection failures and client timeouts")
		cmd.Flags().BoolVar(&showProgress, "progress", true, "Show a status line on stderr when it is a terminal")
	}

	listCmd.Flags().IntVarP(&page, "page", "p", 1, "Page number")
	listCmd.Flags().StringVar(&baseURL, "base-url", server.DefaultTargetURL, "Catalog listing URL")
	listCmd.Flags().DurationVar(&listDelay, "delay", 2*time.Second, "Wait between navigation and extraction")

	detailsCmd.Flags().DurationVar(&detailDelay, "delay", time.Second, "Wait between navigation and extraction")

	// Serve flags
	serveCmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (default: $BRIDGE_LISTEN or localhost:5000)")
	serveCmd.Flags().Float64Var(&rateLimit, "rate-limit", 0, "Requests per second per client (default: $BRIDGE_RATE_LIMIT_RPS)")
	serveCmd.Flags().IntVar(&rateBurst, "rate-burst", 0, "Rate limit burst (default: $BRIDGE_RATE_LIMIT_BURST)")

	// History flags
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries (0 for all)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(navigateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(detailsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
