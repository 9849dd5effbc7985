package core

import (
	"bufio"
	"fmt"
	"net/http"
	"strings"
)

// writeEvent writes one SSE frame and flushes it.
func writeEvent(w http.ResponseWriter, event string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func writeComment(w http.ResponseWriter, text string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", text); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// readEvent reads the next complete SSE event, skipping comments and
// frames without an event name or data.
func readEvent(r *bufio.Reader) (string, string, error) {
	for {
		eventType := ""
		var dataLines []string

		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return "", "", err
			}
			line = strings.TrimRight(line, "\r\n")

			// Blank line dispatches event
			if line == "" {
				break
			}
			if strings.HasPrefix(line, ":") {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if strings.HasPrefix(line, "data:") {
				dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			}
		}

		if eventType == "" || len(dataLines) == 0 {
			continue
		}
		return eventType, strings.Join(dataLines, "\n"), nil
	}
}
