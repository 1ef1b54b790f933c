package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// HistoryCommand is one exported command from a legacy CLI history file.
type HistoryCommand struct {
	Text      string
	At        time.Time
	SessionID string
}

// exportLine is a single line of a history-export JSONL file. The legacy CLI
// wrote naive local timestamps, newer exports write RFC 3339.
type exportLine struct {
	Command   string `json:"command"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id"`
}

// ParseExportFile parses a history-export JSONL file into commands, in file
// order. Malformed lines, blank commands and local slash commands are
// skipped; slash commands never reached the assistant and carry nothing to
// replay.
func ParseExportFile(path string) ([]HistoryCommand, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	var cmds []HistoryCommand

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // 1MB line buffer
	for scanner.Scan() {
		var line exportLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue // skip malformed lines
		}

		text := strings.TrimSpace(line.Command)
		if text == "" || strings.HasPrefix(text, "/") {
			continue
		}

		cmds = append(cmds, HistoryCommand{
			Text:      text,
			At:        parseExportTime(line.Timestamp),
			SessionID: line.SessionID,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	return cmds, nil
}

// parseExportTime accepts both RFC 3339 and the zone-less form Python's
// isoformat() produced. Unparseable stamps come back zero.
func parseExportTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts
	}
	if ts, err := time.Parse("2006-01-02T15:04:05.999999999", raw); err == nil {
		return ts
	}
	return time.Time{}
}
