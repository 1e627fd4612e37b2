// Package progress shows a one-line status for CLI commands while the
// browser host works through navigation and extraction.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/PentesterFlow/WebviewBridge/pkg/bridge"
)

// Display renders command progress. It implements bridge.Observer.
type Display struct {
	mu      sync.Mutex
	started bool
	stopped bool
	out     io.Writer

	// Stats
	stepsTotal int
	stepsDone  atomic.Int64
	failures   atomic.Int64

	// Timing
	startTime time.Time
	target    string

	// Display
	lastStep string
	lastLine string
}

// New creates a display writing to out.
func New(out io.Writer) *Display {
	return &Display{out: out}
}

// Enabled reports whether f is a terminal worth drawing on.
func Enabled(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Start begins the display for a run of steps commands against target.
func (d *Display) Start(target string, steps int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}

	d.started = true
	d.startTime = time.Now()
	d.target = target
	d.stepsTotal = steps
	d.render()
}

// ObserveCommand advances the display by one finished command.
func (d *Display) ObserveCommand(rec bridge.CommandRecord) {
	d.stepsDone.Add(1)
	if !rec.Succeeded() {
		d.failures.Add(1)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started || d.stopped {
		return
	}

	d.lastStep = fmt.Sprintf("%s %s %s", rec.Command, rec.Outcome, formatDuration(rec.Duration))
	d.render()
}

// render redraws the status line. Callers hold d.mu.
func (d *Display) render() {
	done := int(d.stepsDone.Load())
	total := d.stepsTotal
	if total < done {
		total = done
	}

	progress := 0
	if total > 0 {
		progress = done * 100 / total
	}

	barWidth := 20
	filled := progress * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("\r[%s] %d/%d | %s | %s",
		bar, done, total, truncateURL(d.target, 50), formatDuration(time.Since(d.startTime)))
	if d.lastStep != "" {
		line += " | " + d.lastStep
	}

	// Clear previous line and print new one
	if len(line) < len(d.lastLine) {
		fmt.Fprint(d.out, "\r"+strings.Repeat(" ", len(d.lastLine)))
	}
	fmt.Fprint(d.out, line)
	d.lastLine = line
}

// Stop ends the display and moves past the status line.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}

	d.stopped = true
	fmt.Fprintln(d.out)
}

// Stats returns finished and failed command counts.
func (d *Display) Stats() (done, failed int64) {
	return d.stepsDone.Load(), d.failures.Load()
}

// truncateURL truncates a URL to maxLen characters.
func truncateURL(url string, maxLen int) string {
	if len(url) <= maxLen {
		return url
	}
	return url[:maxLen-3] + "..."
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	d = d.Round(100 * time.Millisecond)
	m := d / time.Minute
	d -= m * time.Minute

	if m > 0 {
		return fmt.Sprintf("%dm%04.1fs", m, d.Seconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
