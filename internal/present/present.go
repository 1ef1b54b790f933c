package present

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/MikeSquared-Agency/bartleby/internal/intent"
	"github.com/MikeSquared-Agency/bartleby/internal/normalize"
)

// FieldView is one labeled field value in display order.
type FieldView struct {
	Field string `json:"field"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// View is the presentation split of one record: the curated primary fields,
// everything else, and the follow-up actions for its entity. Every field of
// the record lands in exactly one of the two lists.
type View struct {
	Primary   []FieldView `json:"primary"`
	Full      []FieldView `json:"full"`
	FollowUps []Action    `json:"follow_ups"`
}

// Preferred fields per entity, shown first and in this order when present.
var preferredFields = map[intent.EntityType][]string{
	intent.EntityContact:     {"Id", "Name", "FirstName", "LastName", "Email", "Phone", "MobilePhone", "Title", "AccountId"},
	intent.EntityAccount:     {"Id", "Name", "Type", "Industry", "Phone", "Website", "BillingCity", "BillingState"},
	intent.EntityOpportunity: {"Id", "Name", "StageName", "Amount", "CloseDate", "AccountId", "OwnerId"},
	intent.EntityLead:        {"Id", "Name", "FirstName", "LastName", "Email", "Phone", "Company", "Status"},
}

var genericFields = []string{"Id", "Name", "Email", "Phone", "Type", "Status"}

var fieldLabels = map[string]string{
	"Id":           "Record ID",
	"FirstName":    "First Name",
	"LastName":     "Last Name",
	"Email":        "Email Address",
	"Phone":        "Phone",
	"MobilePhone":  "Mobile Phone",
	"AccountId":    "Account ID",
	"BillingCity":  "Billing City",
	"BillingState": "Billing State",
	"StageName":    "Stage",
	"CloseDate":    "Close Date",
	"OwnerId":      "Owner ID",
}

// Record splits a canonical record into its primary and remaining fields and
// attaches the follow-up actions for its entity.
func Record(rec normalize.CanonicalRecord) View {
	shown := make(map[string]bool)
	var primary []FieldView
	for _, f := range preferredFor(rec.EntityType) {
		v := rec.Fields[f]
		if v == "" {
			continue
		}
		primary = append(primary, FieldView{Field: f, Label: labelFor(f), Value: v})
		shown[f] = true
	}

	rest := make([]string, 0, len(rec.Fields))
	for f := range rec.Fields {
		if !shown[f] {
			rest = append(rest, f)
		}
	}
	sort.Strings(rest)

	var full []FieldView
	for _, f := range rest {
		full = append(full, FieldView{Field: f, Label: labelFor(f), Value: rec.Fields[f]})
	}

	return View{Primary: primary, Full: full, FollowUps: FollowUps(rec)}
}

// Summary renders the one-line form used in selection lists.
func Summary(rec normalize.CanonicalRecord) string {
	shortID := rec.ID
	if len(shortID) > 8 {
		shortID = shortID[:8] + "..."
	}
	if email := rec.Fields["Email"]; email != "" {
		return fmt.Sprintf("%s (%s, ID: %s)", rec.DisplayName, email, shortID)
	}
	return fmt.Sprintf("%s (ID: %s)", rec.DisplayName, shortID)
}

func preferredFor(entity intent.EntityType) []string {
	if fields, ok := preferredFields[entity]; ok {
		return fields
	}
	return genericFields
}

// labelFor humanizes a field name for display, using the fixed label table
// first and falling back to splitting the camel-case name.
func labelFor(field string) string {
	if l, ok := fieldLabels[field]; ok {
		return l
	}
	var b strings.Builder
	runes := []rune(field)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(runes[i-1]) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
