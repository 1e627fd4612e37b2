package output

import (
	"encoding/json"
	"io"
	"sync"
)

// Event types used in stream mode.
const (
	EventNavigation = "navigation"
	EventList       = "list"
	EventDetails    = "details"
	EventHistory    = "history"
	EventError      = "error"
)

// JSONWriter writes output in JSON format.
type JSONWriter struct {
	mu     sync.Mutex
	writer io.Writer
	pretty bool
	stream bool
	closed bool
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(w io.Writer, pretty, stream bool) *JSONWriter {
	return &JSONWriter{
		writer: w,
		pretty: pretty,
		stream: stream,
	}
}

// WriteNavigation writes a navigation result.
func (j *JSONWriter) WriteNavigation(result *NavigationResult) error {
	return j.write(EventNavigation, result)
}

// WriteList writes a list extraction result.
func (j *JSONWriter) WriteList(result *ListResult) error {
	return j.write(EventList, result)
}

// WriteDetails writes a detail extraction result.
func (j *JSONWriter) WriteDetails(result *DetailsResult) error {
	return j.write(EventDetails, result)
}

// WriteHistory writes a history report.
func (j *JSONWriter) WriteHistory(report *HistoryReport) error {
	return j.write(EventHistory, report)
}

// WriteError writes a failed command.
func (j *JSONWriter) WriteError(err *CommandError) error {
	return j.write(EventError, err)
}

func (j *JSONWriter) write(eventType string, v interface{}) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	if j.stream {
		v = StreamEvent{Type: eventType, Data: v}
	}

	var data []byte
	var err error

	if j.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		return err
	}

	data = append(data, '\n')
	_, err = j.writer.Write(data)
	return err
}

// Flush flushes the writer.
func (j *JSONWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if flusher, ok := j.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Close closes the writer. Later writes are dropped.
func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if closer, ok := j.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// StreamEvent represents a streaming output event.
type StreamEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
