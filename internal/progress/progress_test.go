package progress

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/PentesterFlow/WebviewBridge/pkg/bridge"
)

func TestDisplay_ImplementsObserver(t *testing.T) {
	var _ bridge.Observer = New(&bytes.Buffer{})
}

func TestDisplay_Lifecycle(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf)

	d.Start("https://books.example/list?page=2", 2)
	if !strings.Contains(buf.String(), "0/2") {
		t.Errorf("initial line = %q, want 0/2", buf.String())
	}

	d.ObserveCommand(bridge.CommandRecord{
		Command:  bridge.CommandNavigate,
		Outcome:  bridge.OutcomeSuccess,
		Duration: 1500 * time.Millisecond,
	})
	d.ObserveCommand(bridge.CommandRecord{
		Command:  bridge.CommandListExtract,
		Outcome:  "shape_validation",
		Duration: 20 * time.Millisecond,
	})

	out := buf.String()
	if !strings.Contains(out, "navigate success 1.5s") {
		t.Errorf("output missing navigate step: %q", out)
	}
	if !strings.Contains(out, "2/2") || !strings.Contains(out, "list_extract shape_validation 20ms") {
		t.Errorf("output missing final step: %q", out)
	}

	done, failed := d.Stats()
	if done != 2 || failed != 1 {
		t.Errorf("Stats() = %d, %d, want 2, 1", done, failed)
	}

	d.Stop()
	d.Stop()
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("Stop() should end the line")
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Error("second Stop() should not print again")
	}
}

func TestDisplay_IgnoresBeforeStart(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf)

	d.ObserveCommand(bridge.CommandRecord{Outcome: bridge.OutcomeSuccess})
	d.Stop()

	if buf.Len() != 0 {
		t.Errorf("display wrote before Start(): %q", buf.String())
	}
}

func TestEnabled_NotATerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if Enabled(f) {
		t.Error("Enabled() = true for a regular file")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{95 * time.Second, "1m35.0s"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestTruncateURL(t *testing.T) {
	if got := truncateURL("https://example.com", 50); got != "https://example.com" {
		t.Errorf("short URL changed: %q", got)
	}
	long := "https://example.com/" + strings.Repeat("a", 60)
	if got := truncateURL(long, 50); len(got) != 50 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncateURL() = %q", got)
	}
}
