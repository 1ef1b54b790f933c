package normalize

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/bartleby/internal/intent"
)

// CanonicalRecord is the normalized, null-filtered form of one connector
// record. Fields carries display-ready values with bookkeeping keys removed;
// RawFields keeps the original row for save and export.
type CanonicalRecord struct {
	ID          string            `json:"id"`
	EntityType  intent.EntityType `json:"entity_type"`
	DisplayName string            `json:"display_name"`
	Fields      map[string]string `json:"fields"`
	RawFields   map[string]any    `json:"raw_fields,omitempty"`
}

// RecordSet is the ordered outcome of normalizing one connector payload.
// Its length drives the turn flow: zero is a no-match, one goes straight to
// detail, more than one requires a selection.
type RecordSet []CanonicalRecord

// ParseFailure reports a connector payload that could not be interpreted as
// a record structure. It is distinct from a payload that is merely empty of
// records.
type ParseFailure struct {
	Reason string
}

func (p *ParseFailure) Error() string {
	return "parse connector payload: " + p.Reason
}

var idKeys = [...]string{"Id", "id", "ID"}

// toRecord converts a raw connector row. Rows without an id-like value
// cannot be selected or acted on downstream, so ok is false for them.
func toRecord(row map[string]any) (CanonicalRecord, bool) {
	var id string
	for _, k := range idKeys {
		if id = scalarString(row[k]); id != "" {
			break
		}
	}
	if id == "" {
		return CanonicalRecord{}, false
	}

	fields := make(map[string]string, len(row))
	for k, v := range row {
		if strings.HasPrefix(k, "_") || k == "attributes" {
			continue
		}
		s := scalarString(v)
		if s == "" {
			continue
		}
		fields[k] = s
	}

	rec := CanonicalRecord{
		ID:         id,
		EntityType: inferEntity(row, id),
		Fields:     fields,
		RawFields:  row,
	}
	rec.DisplayName = displayName(rec)
	return rec, true
}

// displayName picks the record's Name, then FirstName LastName, then the id.
func displayName(rec CanonicalRecord) string {
	for _, k := range []string{"Name", "name"} {
		if name := rec.Fields[k]; name != "" {
			return name
		}
	}
	full := strings.TrimSpace(rec.Fields["FirstName"] + " " + rec.Fields["LastName"])
	if full != "" {
		return full
	}
	return rec.ID
}

// inferEntity determines the record's entity from the attributes envelope
// when the connector includes one, then from shape-specific fields, then
// from the record id prefix.
func inferEntity(row map[string]any, id string) intent.EntityType {
	if attrs, ok := row["attributes"].(map[string]any); ok {
		if t, _ := attrs["type"].(string); t != "" {
			if e := intent.ParseEntity(t); e != intent.EntityUnknown {
				return e
			}
		}
	}

	switch {
	case hasAny(row, "FirstName", "LastName"):
		return intent.EntityContact
	case hasAny(row, "Industry", "BillingCity"):
		return intent.EntityAccount
	case hasAny(row, "StageName", "Amount"):
		return intent.EntityOpportunity
	case hasAny(row, "Company") && hasAny(row, "Status"):
		return intent.EntityLead
	}

	return intent.EntityFromID(id)
}

func hasAny(row map[string]any, keys ...string) bool {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != nil {
			return true
		}
	}
	return false
}

// zapOnly reports whether a row carries nothing but the connector's own
// bookkeeping keys, such as _zap_search_was_found_status.
func zapOnly(row map[string]any) bool {
	if len(row) == 0 {
		return true
	}
	for k := range row {
		if !strings.HasPrefix(k, "_zap") {
			return false
		}
	}
	return true
}

// scalarString renders a JSON value for display. Nulls and blank strings
// come back empty so callers can filter them out.
func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
