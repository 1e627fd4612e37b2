package bridge

import "time"

// ClientSlack is added to the server budget so the local request outlives
// the browser host's own deadline.
const ClientSlack = 5 * time.Second

// OperationKind selects which timeout applies to a command.
type OperationKind int

const (
	Navigation OperationKind = iota
	ListExtraction
	DetailExtraction
)

// String returns the string representation of the kind.
func (k OperationKind) String() string {
	switch k {
	case Navigation:
		return "navigation"
	case ListExtraction:
		return "list_extraction"
	case DetailExtraction:
		return "detail_extraction"
	default:
		return "unknown"
	}
}

// DefaultBudget returns the built-in server budget for a kind.
func DefaultBudget(kind OperationKind) time.Duration {
	switch kind {
	case Navigation:
		return 90 * time.Second
	case ListExtraction:
		return 75 * time.Second
	case DetailExtraction:
		return 45 * time.Second
	default:
		return 90 * time.Second
	}
}

// Budget is the pair of deadlines for one remote call.
type Budget struct {
	// Server is how long the browser host may spend executing the command.
	Server time.Duration
	// Client is how long we wait for the response.
	Client time.Duration
}

// WireSeconds is the server budget as sent to the browser host: whole
// seconds, truncated, never below one.
func (b Budget) WireSeconds() int {
	s := int(b.Server / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// Composer derives budgets from configured timeouts.
type Composer struct {
	timeouts map[string]int
}

// NewComposer creates a composer over configured millisecond timeouts.
func NewComposer(timeouts map[string]int) *Composer {
	cp := make(map[string]int, len(timeouts))
	for k, v := range timeouts {
		cp[k] = v
	}
	return &Composer{timeouts: cp}
}

// Compose resolves the budget for kind. A positive override wins, then the
// configured value for the kind, then (for detail extraction) the configured
// extraction value, then the built-in default.
func (c *Composer) Compose(kind OperationKind, override time.Duration) Budget {
	server := override
	if server <= 0 {
		server = c.configured(kind)
	}
	return Budget{Server: server, Client: server + ClientSlack}
}

func (c *Composer) configured(kind OperationKind) time.Duration {
	var keys []string
	switch kind {
	case Navigation:
		keys = []string{TimeoutKeyNavigation}
	case ListExtraction:
		keys = []string{TimeoutKeyExtraction}
	case DetailExtraction:
		keys = []string{TimeoutKeyDetailExtraction, TimeoutKeyExtraction}
	}

	for _, key := range keys {
		if ms, ok := c.timeouts[key]; ok && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return DefaultBudget(kind)
}
