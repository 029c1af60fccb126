package realtime

import (
	"bufio"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/spec-kit/property-service/internal/events"
)

// Frame is one server-sent event.
type Frame struct {
	ID    string
	Event string
	Data  string
	// Retry is the reconnect delay in milliseconds requested by the server,
	// zero when absent.
	Retry int
}

// writeEvent encodes event as an SSE frame.
func writeEvent(w io.Writer, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	var b strings.Builder
	if event.ID != "" {
		b.WriteString("id: " + event.ID + "\n")
	}
	b.WriteString("event: " + string(event.Type) + "\n")
	b.WriteString("data: " + string(payload) + "\n\n")
	_, err = io.WriteString(w, b.String())
	return err
}

func writeComment(w io.Writer, text string) error {
	_, err := io.WriteString(w, ": "+text+"\n\n")
	return err
}

// scanner reads frames from an SSE stream. Comment lines and unknown fields
// are skipped; multiple data lines are joined with newlines.
type scanner struct {
	reader  *bufio.Reader
	current Frame
	err     error
}

func newScanner(r io.Reader) *scanner {
	return &scanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

func (s *scanner) Next() bool {
	s.current = Frame{}
	var frame Frame
	var data []string
	hasData := false

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF && hasData {
				frame.Data = strings.Join(data, "\n")
				s.current = frame
				s.err = io.EOF
				return true
			}
			s.err = err
			return false
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				frame.Data = strings.Join(data, "\n")
				s.current = frame
				return true
			}
			frame = Frame{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if !found {
			field, value = line, ""
		}
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
			hasData = true
		case "event":
			frame.Event = value
		case "id":
			frame.ID = value
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil {
				frame.Retry = ms
			}
		}
	}
}

func (s *scanner) Frame() Frame { return s.current }

// Err returns the error that stopped the scanner, nil on a clean EOF.
func (s *scanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}
