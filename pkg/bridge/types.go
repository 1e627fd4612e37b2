package bridge

import (
	"encoding/json"
	"time"
)

// Browser host endpoints.
const (
	EndpointNavigate      = "/navigate"
	EndpointListExtract   = "/execute-fetch"
	EndpointDetailExtract = "/execute-book-detail-fetch"
)

// Command names used in logs, metrics and the journal.
const (
	CommandNavigate      = "navigate"
	CommandListExtract   = "list_extract"
	CommandDetailExtract = "detail_extract"
)

// OutcomeSuccess is the CommandRecord outcome of a successful command.
// Failed commands carry the error type name instead.
const OutcomeSuccess = "success"

// ListItem is one element of a list extraction. Its content belongs to the
// extraction script and is not interpreted.
type ListItem = json.RawMessage

// Record is an opaque JSON object returned by an extraction script.
type Record map[string]json.RawMessage

// DetailResult is the combined detail and price extraction.
type DetailResult struct {
	Details Record `json:"details"`
	Prices  Record `json:"prices"`
}

// CommandRecord describes one finished command. It never carries payloads.
type CommandRecord struct {
	ID         string        `json:"id"`
	Session    string        `json:"session"`
	Command    string        `json:"command"`
	Target     string        `json:"target,omitempty"`
	Outcome    string        `json:"outcome"`
	StatusCode int           `json:"status_code,omitempty"`
	Duration   time.Duration `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"`
	Message    string        `json:"message,omitempty"`
}

// Succeeded reports whether the command succeeded.
func (r CommandRecord) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Observer is notified after every command.
// It runs synchronously on the command's goroutine, so implementations
// must be safe for concurrent use and should hand slow work, such as disk
// writes, to a goroutine of their own.
type Observer interface {
	ObserveCommand(CommandRecord)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(CommandRecord)

// ObserveCommand calls f(rec).
func (f ObserverFunc) ObserveCommand(rec CommandRecord) {
	f(rec)
}
