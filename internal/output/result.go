package output

import (
	"errors"
	"time"

	bridgeerrors "github.com/PentesterFlow/WebviewBridge/internal/errors"
	"github.com/PentesterFlow/WebviewBridge/pkg/bridge"
)

// NavigationResult is the outcome of a navigate command.
type NavigationResult struct {
	Success   bool          `json:"success"`
	Session   string        `json:"session"`
	Target    string        `json:"target"`
	LoadedURL string        `json:"loaded_url"`
	Attempts  int           `json:"attempts,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// ListResult is the outcome of a list extraction, with the navigation
// that preceded it.
type ListResult struct {
	Success   bool              `json:"success"`
	Session   string            `json:"session"`
	Page      int               `json:"page,omitempty"`
	Target    string            `json:"target"`
	LoadedURL string            `json:"loaded_url"`
	Count     int               `json:"count"`
	Data      []bridge.ListItem `json:"data"`
	Attempts  int               `json:"attempts,omitempty"`
	Duration  time.Duration     `json:"duration"`
}

// NewListResult fills Count from items and never leaves Data nil.
func NewListResult(session, target, loadedURL string, page int, items []bridge.ListItem) *ListResult {
	if items == nil {
		items = []bridge.ListItem{}
	}
	return &ListResult{
		Success:   true,
		Session:   session,
		Page:      page,
		Target:    target,
		LoadedURL: loadedURL,
		Count:     len(items),
		Data:      items,
	}
}

// DetailsResult is the outcome of a detail extraction.
type DetailsResult struct {
	Success   bool          `json:"success"`
	Session   string        `json:"session"`
	Target    string        `json:"target"`
	LoadedURL string        `json:"loaded_url"`
	Details   bridge.Record `json:"details"`
	Prices    bridge.Record `json:"prices"`
	Attempts  int           `json:"attempts,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// CommandError describes a failed command.
type CommandError struct {
	Success    bool   `json:"success"`
	Command    string `json:"command"`
	Session    string `json:"session,omitempty"`
	Target     string `json:"target,omitempty"`
	Type       string `json:"type"`
	Error      string `json:"error"`
	StatusCode int    `json:"status_code,omitempty"`
	Retryable  bool   `json:"retryable"`
	Attempts   int    `json:"attempts,omitempty"`
}

// NewCommandError builds a CommandError from err. Messages reported by the
// browser host are passed through verbatim.
func NewCommandError(command, session, target string, err error) *CommandError {
	ce := &CommandError{
		Command:    command,
		Session:    session,
		Target:     target,
		Type:       bridgeerrors.GetErrorType(err).String(),
		StatusCode: bridgeerrors.GetStatusCode(err),
		Retryable:  bridgeerrors.IsRetryable(err),
	}
	if err != nil {
		ce.Error = err.Error()
	}
	var be *bridgeerrors.BridgeError
	if errors.As(err, &be) && be.Type == bridgeerrors.RemoteReported {
		ce.Error = be.Message
	}
	return ce
}
