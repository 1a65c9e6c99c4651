package sse

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/melih/lighthouse-console/internal/core/domain"
)

// MaxLineSize caps a single SSE line. Longer lines stop the scanner with an
// error wrapping bufio.ErrTooLong.
const MaxLineSize = 1 << 20

// Scanner reads Server-Sent Events from a stream.
//
// Events are separated by blank lines. "data:" lines are joined with
// newlines, "event:" sets the type, comment lines (":") and unknown fields
// are skipped. An event without a type gets the default type "message".
type Scanner struct {
	lines   *bufio.Scanner
	current domain.RawEvent
	err     error
	done    bool
}

// NewScanner creates a scanner over r.
func NewScanner(r io.Reader) *Scanner {
	lines := bufio.NewScanner(r)
	lines.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &Scanner{lines: lines}
}

// Next advances to the next event. It returns false at end of stream or on
// error; Err tells them apart.
func (s *Scanner) Next() bool {
	if s.done {
		return false
	}
	s.current = domain.RawEvent{}

	var data []string
	var eventType string
	hasData := false

	emit := func() {
		if eventType == "" {
			eventType = "message"
		}
		s.current = domain.RawEvent{Type: eventType, Data: strings.Join(data, "\n")}
	}

	for s.lines.Scan() {
		line := strings.TrimRight(s.lines.Text(), "\r")
		if line == "" {
			if hasData {
				emit()
				return true
			}
			eventType = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}
		switch field {
		case "data":
			data = append(data, value)
			hasData = true
		case "event":
			eventType = value
		}
	}

	s.done = true
	if err := s.lines.Err(); err != nil {
		if err == bufio.ErrTooLong {
			err = fmt.Errorf("sse line exceeds %d bytes: %w", MaxLineSize, err)
		}
		s.err = err
		return false
	}
	// A final event may end at EOF without a blank line.
	if hasData {
		emit()
		return true
	}
	return false
}

// Event returns the event read by the last successful Next.
func (s *Scanner) Event() domain.RawEvent {
	return s.current
}

// Err returns the error that stopped the scanner, or nil at a clean end of
// stream.
func (s *Scanner) Err() error {
	return s.err
}
