package output

import (
	"sort"
	"time"

	"github.com/PentesterFlow/WebviewBridge/pkg/bridge"
)

// HistoryReport lists journal entries, newest first, with a summary.
type HistoryReport struct {
	Journal string                 `json:"journal"`
	Summary HistorySummary         `json:"summary"`
	Entries []bridge.CommandRecord `json:"entries"`
}

// HistorySummary aggregates a set of command records.
type HistorySummary struct {
	Total           int            `json:"total"`
	Succeeded       int            `json:"succeeded"`
	Failed          int            `json:"failed"`
	ByCommand       map[string]int `json:"by_command"`
	ByOutcome       map[string]int `json:"by_outcome"`
	BySession       map[string]int `json:"by_session"`
	AverageDuration time.Duration  `json:"average_duration"`
	SlowestCommand  time.Duration  `json:"slowest_command"`
	TopFailures     []OutcomeCount `json:"top_failures,omitempty"`
}

// OutcomeCount is a failure outcome and how often it occurred.
type OutcomeCount struct {
	Outcome string `json:"outcome"`
	Count   int    `json:"count"`
}

// NewHistoryReport summarizes records read from the journal at path.
func NewHistoryReport(path string, records []bridge.CommandRecord) *HistoryReport {
	if records == nil {
		records = []bridge.CommandRecord{}
	}
	return &HistoryReport{
		Journal: path,
		Summary: Summarize(records),
		Entries: records,
	}
}

// Summarize aggregates records.
func Summarize(records []bridge.CommandRecord) HistorySummary {
	s := HistorySummary{
		Total:     len(records),
		ByCommand: make(map[string]int),
		ByOutcome: make(map[string]int),
		BySession: make(map[string]int),
	}

	var total time.Duration
	for _, rec := range records {
		s.ByCommand[rec.Command]++
		s.ByOutcome[rec.Outcome]++
		s.BySession[rec.Session]++
		if rec.Succeeded() {
			s.Succeeded++
		} else {
			s.Failed++
		}
		total += rec.Duration
		if rec.Duration > s.SlowestCommand {
			s.SlowestCommand = rec.Duration
		}
	}
	if len(records) > 0 {
		s.AverageDuration = total / time.Duration(len(records))
	}

	for outcome, count := range s.ByOutcome {
		if outcome == bridge.OutcomeSuccess {
			continue
		}
		s.TopFailures = append(s.TopFailures, OutcomeCount{Outcome: outcome, Count: count})
	}
	sort.Slice(s.TopFailures, func(i, k int) bool {
		if s.TopFailures[i].Count != s.TopFailures[k].Count {
			return s.TopFailures[i].Count > s.TopFailures[k].Count
		}
		return s.TopFailures[i].Outcome < s.TopFailures[k].Outcome
	})

	return s
}
