package session

import (
	"strconv"
	"strings"
)

// Verdict classifies a reply to a confirmation prompt.
type Verdict string

const (
	VerdictConfirmed Verdict = "confirmed"
	VerdictDeclined  Verdict = "declined"
	VerdictUnclear   Verdict = "unclear"
)

// ParseConfirmation maps a raw reply to a confirmation verdict. Anything
// outside the known forms is unclear and re-prompts once before cancelling.
func ParseConfirmation(raw string) Verdict {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "y", "confirm", "proceed", "do it", "yes please":
		return VerdictConfirmed
	case "no", "n", "cancel", "stop", "abort", "no thanks", "nevermind", "never mind":
		return VerdictDeclined
	}
	return VerdictUnclear
}

var dismissals = map[string]bool{
	"/new":       true,
	"new search": true,
	"cancel":     true,
	"nevermind":  true,
	"never mind": true,
	"forget it":  true,
	"dismiss":    true,
	"no thanks":  true,
	"stop":       true,
}

// IsDismissal reports whether the input walks away from whatever is pending
// without selecting or answering.
func IsDismissal(raw string) bool {
	return dismissals[strings.ToLower(strings.TrimSpace(raw))]
}

// parseOrdinal reads a list position ("2", "#2"). Range checking is the
// caller's job; a parsed-but-invalid number should re-prompt, not fall
// through to query handling.
func parseOrdinal(raw string) (int, bool) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	n, err := strconv.Atoi(s)
	return n, err == nil
}
