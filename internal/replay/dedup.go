package replay

import (
	"strings"
	"time"
)

// History exports are sliding windows, so consecutive exports repeat most of
// their entries. The same text at the same second is the same command.

// Fingerprint identifies one exported command across overlapping export
// files: whitespace-collapsed lowercase text plus the timestamp truncated to
// the second. Commands without a timestamp collapse on text alone.
func Fingerprint(cmd HistoryCommand) string {
	text := strings.ToLower(strings.Join(strings.Fields(cmd.Text), " "))
	if cmd.At.IsZero() {
		return text
	}
	return cmd.At.UTC().Truncate(time.Second).Format(time.RFC3339) + " " + text
}

// Deduper tracks command fingerprints seen during one replay run.
type Deduper struct {
	seen map[string]bool
}

func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]bool)}
}

// Seen reports whether cmd was already offered this run, recording it
// either way.
func (d *Deduper) Seen(cmd HistoryCommand) bool {
	fp := Fingerprint(cmd)
	if d.seen[fp] {
		return true
	}
	d.seen[fp] = true
	return false
}
