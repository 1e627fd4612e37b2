package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	bridgeerrors "github.com/PentesterFlow/WebviewBridge/internal/errors"
	"github.com/PentesterFlow/WebviewBridge/pkg/bridge"
)

// mockFlusher implements io.Writer with Flush support
type mockFlusher struct {
	bytes.Buffer
	flushed bool
}

func (m *mockFlusher) Flush() error {
	m.flushed = true
	return nil
}

// mockCloser implements io.Writer with Close support
type mockCloser struct {
	bytes.Buffer
	closed bool
}

func (m *mockCloser) Close() error {
	m.closed = true
	return nil
}

// mockWriteError simulates write errors
type mockWriteError struct {
	err error
}

func (m *mockWriteError) Write(p []byte) (n int, err error) {
	return 0, m.err
}

// =============================================================================
// Writer Tests
// =============================================================================

func TestNewWriter(t *testing.T) {
	for _, format := range []string{"json", "", "unknown"} {
		var buf bytes.Buffer
		w := NewWriter(&buf, Config{Format: format})
		if _, ok := w.(*JSONWriter); !ok {
			t.Errorf("NewWriter(%q) = %T, want *JSONWriter", format, w)
		}
	}
}

func TestJSONWriter_WriteNavigation(t *testing.T) {
	var buf bytes.Buffer
	jw := NewJSONWriter(&buf, false, false)

	err := jw.WriteNavigation(&NavigationResult{
		Success:   true,
		Session:   "main",
		Target:    "https://example.com",
		LoadedURL: "https://example.com/",
		Duration:  time.Second,
	})
	if err != nil {
		t.Fatalf("WriteNavigation() error = %v", err)
	}

	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("output should end with a newline")
	}

	var got map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if got["loaded_url"] != "https://example.com/" {
		t.Errorf("loaded_url = %v", got["loaded_url"])
	}
	if got["session"] != "main" {
		t.Errorf("session = %v", got["session"])
	}
}

func TestJSONWriter_Pretty(t *testing.T) {
	var buf bytes.Buffer
	jw := NewJSONWriter(&buf, true, false)

	jw.WriteNavigation(&NavigationResult{Session: "main"})

	if !strings.Contains(buf.String(), "\n  \"session\": \"main\"") {
		t.Errorf("pretty output not indented:\n%s", buf.String())
	}
}

func TestJSONWriter_StreamWrapsEvents(t *testing.T) {
	tests := []struct {
		name  string
		write func(*JSONWriter) error
		want  string
	}{
		{"navigation", func(j *JSONWriter) error { return j.WriteNavigation(&NavigationResult{}) }, EventNavigation},
		{"list", func(j *JSONWriter) error { return j.WriteList(NewListResult("main", "u", "u", 1, nil)) }, EventList},
		{"details", func(j *JSONWriter) error { return j.WriteDetails(&DetailsResult{}) }, EventDetails},
		{"history", func(j *JSONWriter) error { return j.WriteHistory(NewHistoryReport("j.db", nil)) }, EventHistory},
		{"error", func(j *JSONWriter) error { return j.WriteError(&CommandError{}) }, EventError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			jw := NewJSONWriter(&buf, false, true)

			if err := tt.write(jw); err != nil {
				t.Fatalf("write error = %v", err)
			}

			var event StreamEvent
			if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
				t.Fatalf("output is not a stream event: %v", err)
			}
			if event.Type != tt.want {
				t.Errorf("Type = %s, want %s", event.Type, tt.want)
			}
			if event.Data == nil {
				t.Error("Data is nil")
			}
		})
	}
}

func TestJSONWriter_OneLinePerDocument(t *testing.T) {
	var buf bytes.Buffer
	jw := NewJSONWriter(&buf, false, true)

	for i := 0; i < 3; i++ {
		jw.WriteNavigation(&NavigationResult{Session: "main"})
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Errorf("got %d lines, want 3", len(lines))
	}
}

func TestJSONWriter_WriteError(t *testing.T) {
	jw := NewJSONWriter(&mockWriteError{err: errors.New("disk full")}, false, false)

	if err := jw.WriteNavigation(&NavigationResult{}); err == nil {
		t.Error("expected the underlying write error")
	}
}

func TestJSONWriter_Flush(t *testing.T) {
	mf := &mockFlusher{}
	jw := NewJSONWriter(mf, false, false)

	if err := jw.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if !mf.flushed {
		t.Error("Flush() did not reach the underlying writer")
	}

	// plain writers are fine too
	if err := NewJSONWriter(&bytes.Buffer{}, false, false).Flush(); err != nil {
		t.Errorf("Flush() on a buffer error = %v", err)
	}
}

func TestJSONWriter_Close(t *testing.T) {
	mc := &mockCloser{}
	jw := NewJSONWriter(mc, false, false)

	if err := jw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !mc.closed {
		t.Error("Close() did not reach the underlying writer")
	}

	if err := jw.WriteNavigation(&NavigationResult{}); err != nil {
		t.Errorf("write after Close() error = %v", err)
	}
	if mc.Len() != 0 {
		t.Error("write after Close() produced output")
	}
	if err := jw.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestJSONWriter_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	jw := NewJSONWriter(&buf, false, true)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jw.WriteNavigation(&NavigationResult{Session: "main"})
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 20 {
		t.Fatalf("got %d lines, want 20", len(lines))
	}
	for _, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Errorf("interleaved output: %s", line)
		}
	}
}

// =============================================================================
// Result Tests
// =============================================================================

func TestNewListResult(t *testing.T) {
	items := []bridge.ListItem{
		json.RawMessage(`{"title":"A"}`),
		json.RawMessage(`{"title":"B"}`),
	}

	r := NewListResult("main", "https://example.com/?page=2", "https://example.com/?page=2", 2, items)
	if !r.Success || r.Count != 2 || r.Page != 2 {
		t.Errorf("NewListResult() = %+v", r)
	}

	empty := NewListResult("main", "u", "u", 1, nil)
	if empty.Data == nil {
		t.Fatal("Data should be an empty slice, not nil")
	}

	var buf bytes.Buffer
	NewJSONWriter(&buf, false, false).WriteList(empty)
	if !strings.Contains(buf.String(), `"data":[]`) {
		t.Errorf("empty list encoded as %s", buf.String())
	}
}

func TestNewCommandError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  string
		wantMsg   string
		wantCode  int
		retryable bool
	}{
		{
			name:     "remote reported passes message verbatim",
			err:      bridgeerrors.NewRemoteReportedError("/navigate", "Navigation timed out"),
			wantType: "remote_reported",
			wantMsg:  "Navigation timed out",
		},
		{
			name:      "connection",
			err:       bridgeerrors.NewConnectionError("/navigate", errors.New("connection refused")),
			wantType:  "connection",
			retryable: true,
		},
		{
			name:      "remote http carries status",
			err:       bridgeerrors.NewRemoteHTTPError("/execute-fetch", 502, "bad gateway"),
			wantType:  "remote_http",
			wantCode:  502,
			retryable: true,
		},
		{
			name:     "plain error",
			err:      errors.New("boom"),
			wantType: "unknown",
			wantMsg:  "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := NewCommandError(bridge.CommandNavigate, "main", "https://example.com", tt.err)

			if ce.Success {
				t.Error("Success should be false")
			}
			if ce.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", ce.Type, tt.wantType)
			}
			if tt.wantMsg != "" && ce.Error != tt.wantMsg {
				t.Errorf("Error = %q, want %q", ce.Error, tt.wantMsg)
			}
			if ce.Error == "" {
				t.Error("Error is empty")
			}
			if ce.StatusCode != tt.wantCode {
				t.Errorf("StatusCode = %d, want %d", ce.StatusCode, tt.wantCode)
			}
			if ce.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", ce.Retryable, tt.retryable)
			}
		})
	}
}

// =============================================================================
// History Tests
// =============================================================================

func TestSummarize(t *testing.T) {
	records := []bridge.CommandRecord{
		{Session: "main", Command: bridge.CommandNavigate, Outcome: bridge.OutcomeSuccess, Duration: 2 * time.Second},
		{Session: "main", Command: bridge.CommandListExtract, Outcome: bridge.OutcomeSuccess, Duration: 4 * time.Second},
		{Session: "main", Command: bridge.CommandNavigate, Outcome: "connection", Duration: time.Second},
		{Session: "side", Command: bridge.CommandDetailExtract, Outcome: "shape_validation", Duration: time.Second},
		{Session: "side", Command: bridge.CommandNavigate, Outcome: "connection", Duration: 2 * time.Second},
	}

	s := Summarize(records)

	if s.Total != 5 || s.Succeeded != 2 || s.Failed != 3 {
		t.Errorf("Total/Succeeded/Failed = %d/%d/%d, want 5/2/3", s.Total, s.Succeeded, s.Failed)
	}
	if s.ByCommand[bridge.CommandNavigate] != 3 {
		t.Errorf("ByCommand[navigate] = %d, want 3", s.ByCommand[bridge.CommandNavigate])
	}
	if s.BySession["side"] != 2 {
		t.Errorf("BySession[side] = %d, want 2", s.BySession["side"])
	}
	if s.AverageDuration != 2*time.Second {
		t.Errorf("AverageDuration = %v, want 2s", s.AverageDuration)
	}
	if s.SlowestCommand != 4*time.Second {
		t.Errorf("SlowestCommand = %v, want 4s", s.SlowestCommand)
	}

	want := []OutcomeCount{{"connection", 2}, {"shape_validation", 1}}
	if len(s.TopFailures) != len(want) {
		t.Fatalf("TopFailures = %+v, want %+v", s.TopFailures, want)
	}
	for i := range want {
		if s.TopFailures[i] != want[i] {
			t.Errorf("TopFailures[%d] = %+v, want %+v", i, s.TopFailures[i], want[i])
		}
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)

	if s.Total != 0 || s.AverageDuration != 0 {
		t.Errorf("Summarize(nil) = %+v", s)
	}
	if s.ByOutcome == nil {
		t.Error("maps should be initialised")
	}
}

func TestNewHistoryReport(t *testing.T) {
	r := NewHistoryReport("/tmp/journal.db", nil)

	if r.Entries == nil {
		t.Error("Entries should be an empty slice, not nil")
	}
	if r.Journal != "/tmp/journal.db" {
		t.Errorf("Journal = %s", r.Journal)
	}
}
