package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
)

// Container keys checked in order when the payload is an object. The
// connector nests records under different keys depending on which underlying
// tool it selected.
var resultKeys = [...]string{"results", "records"}

// maxNesting bounds recursion through "data" wrapper objects.
const maxNesting = 5

// Normalizer turns the connector's variably-shaped JSON payloads into
// RecordSets.
type Normalizer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize parses one connector payload. A payload with no records yields
// an empty RecordSet and no error; a payload that cannot be interpreted as a
// record structure at all yields a *ParseFailure. The same payload always
// yields the same RecordSet.
func (n *Normalizer) Normalize(payload []byte) (RecordSet, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, &ParseFailure{Reason: "empty payload"}
	}

	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		n.logger.Error("connector payload is not JSON", "error", err, "payload", clip(payload))
		return nil, &ParseFailure{Reason: "payload is not valid JSON"}
	}

	// Tool results are often double-encoded: a JSON string whose content is
	// itself JSON.
	if s, ok := value.(string); ok {
		if err := json.Unmarshal([]byte(s), &value); err != nil {
			n.logger.Error("connector payload is a bare string", "payload", clip(payload))
			return nil, &ParseFailure{Reason: "payload is a bare string, not a record structure"}
		}
	}

	switch value.(type) {
	case map[string]any, []any:
	default:
		return nil, &ParseFailure{Reason: "payload is not a record structure"}
	}

	rows, ok := n.rows(value, 0)
	if !ok {
		n.logger.Warn("connector payload has no recognizable record container", "payload", clip(payload))
		return RecordSet{}, nil
	}

	records := make(RecordSet, 0, len(rows))
	for _, raw := range rows {
		row, ok := raw.(map[string]any)
		if !ok {
			n.logger.Warn("connector row is not an object", "row", raw)
			continue
		}
		if zapOnly(row) {
			n.logger.Debug("dropping connector bookkeeping row")
			continue
		}
		rec, ok := toRecord(row)
		if !ok {
			n.logger.Warn("dropping record with no id", "keys", rowKeys(row))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// rows locates the raw record objects inside a decoded payload. Shapes are
// tried in a fixed order: a top-level array, a results or records container
// holding an array or a single object, the payload itself when it carries an
// id-like field, then a nested data wrapper.
func (n *Normalizer) rows(value any, depth int) ([]any, bool) {
	if depth > maxNesting {
		return nil, false
	}

	switch v := value.(type) {
	case []any:
		return v, true
	case map[string]any:
		for _, key := range resultKeys {
			nested, present := v[key]
			if !present {
				continue
			}
			switch rows := nested.(type) {
			case []any:
				return rows, true
			case map[string]any:
				return []any{rows}, true
			case nil:
				return nil, true
			default:
				n.logger.Warn("unusable results container", "type", fmt.Sprintf("%T", nested))
				return nil, true
			}
		}
		if hasAny(v, idKeys[:]...) {
			return []any{v}, true
		}
		if nested, present := v["data"]; present {
			return n.rows(nested, depth+1)
		}
	}
	return nil, false
}

func rowKeys(row map[string]any) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// clip bounds payload excerpts in log output.
func clip(payload []byte) string {
	const max = 512
	if len(payload) <= max {
		return string(payload)
	}
	return string(payload[:max]) + "..."
}
