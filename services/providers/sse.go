package providers

import (
	"bufio"
	"io"
	"strings"
)

// SSEEvent is one server-sent event as read off the wire.
type SSEEvent struct {
	// Name is the event type, empty for unnamed data-only events.
	Name string

	// Data is the event payload with multi-line data fields joined by "\n".
	Data string
}

// SSEScanner reads server-sent events from a streaming response body.
// It understands the subset of the SSE wire format the provider APIs emit:
// "event:" and "data:" fields separated by blank lines. Comment lines
// (leading colon) are skipped.
type SSEScanner struct {
	scanner *bufio.Scanner
}

// NewSSEScanner wraps a streaming reader. The caller retains ownership of
// the reader and must close it when done.
func NewSSEScanner(r io.Reader) *SSEScanner {
	sc := bufio.NewScanner(r)
	// Provider deltas are small, but a full tool-call argument payload can
	// exceed the default 64KiB token limit.
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &SSEScanner{scanner: sc}
}

// Next returns the next complete event, or io.EOF when the stream ends.
func (s *SSEScanner) Next() (SSEEvent, error) {
	var event SSEEvent
	var data []string

	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			// Blank line terminates an event; skip leading blanks.
			if len(data) == 0 && event.Name == "" {
				continue
			}
			event.Data = strings.Join(data, "\n")
			return event, nil
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		if value, ok := strings.CutPrefix(line, "event:"); ok {
			event.Name = strings.TrimSpace(value)
			continue
		}
		if value, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(value, " "))
			continue
		}
		// Unknown fields (id:, retry:) are ignored.
	}

	if err := s.scanner.Err(); err != nil {
		return SSEEvent{}, err
	}

	// Stream ended mid-event: deliver what was buffered before EOF.
	if len(data) > 0 || event.Name != "" {
		event.Data = strings.Join(data, "\n")
		return event, nil
	}

	return SSEEvent{}, io.EOF
}
