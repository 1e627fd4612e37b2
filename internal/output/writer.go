// Package output renders bridge command results for the CLI.
package output

import (
	"io"
)

// Writer defines the interface for output writers.
type Writer interface {
	// WriteNavigation writes the result of a navigate command
	WriteNavigation(result *NavigationResult) error

	// WriteList writes the result of a list extraction
	WriteList(result *ListResult) error

	// WriteDetails writes the result of a detail extraction
	WriteDetails(result *DetailsResult) error

	// WriteHistory writes journal entries with their summary
	WriteHistory(report *HistoryReport) error

	// WriteError writes a failed command
	WriteError(err *CommandError) error

	// Flush flushes any buffered output
	Flush() error

	// Close closes the writer
	Close() error
}

// Config holds output configuration.
type Config struct {
	Format string
	Pretty bool
	// Stream wraps every document in a typed event, one per line.
	Stream bool
}

// NewWriter creates a new output writer.
func NewWriter(w io.Writer, config Config) Writer {
	switch config.Format {
	case "json":
		return NewJSONWriter(w, config.Pretty, config.Stream)
	default:
		return NewJSONWriter(w, config.Pretty, config.Stream)
	}
}
