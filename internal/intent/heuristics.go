package intent

import (
	"regexp"
	"strings"
)

var (
	quotedPattern   = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	containsPattern = regexp.MustCompile(`(?i)\b(?:with|containing|mentioning|including)\s+(.+?)\s+in\s+(?:the\s+)?([A-Za-z][A-Za-z ]*?)\s*$`)
	andPairPattern  = regexp.MustCompile(`(?i)\s+and\s+([A-Za-z][A-Za-z ]*?):\s*(.+)$`)
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

const tokenCutset = ".,!?;\"'()"

// extractLocal resolves a query with keyword heuristics alone. It is the
// mandatory fallback when the completion capability is absent or failing,
// and must produce the same intent shape as the delegated path.
func extractLocal(raw string) (*QueryIntent, *ConfusionSignal) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return nil, &ConfusionSignal{Query: raw, Missing: "value"}
	}

	words := strings.Fields(clean)
	trimmed := make([]string, len(words))
	lowered := make([]string, len(words))
	for i, w := range words {
		trimmed[i] = strings.Trim(w, tokenCutset)
		lowered[i] = strings.ToLower(trimmed[i])
	}

	entity, entityIdx, entityPlural, entityFound := detectEntity(lowered)
	mutating := detectMutation(lowered)
	op, opIdx := detectOperator(lowered)

	qi := &QueryIntent{
		EntityType:  entity,
		Operator:    op,
		Cardinality: CardinalitySingle,
		Mutating:    mutating,
		Raw:         clean,
	}

	// Extraction patterns, tried in order. The first that produces a value wins.
	matched := false

	// 1. Quoted value.
	if m := quotedPattern.FindStringSubmatch(clean); m != nil {
		value := m[1]
		if value == "" {
			value = m[2]
		}
		qi.Value = strings.TrimSpace(value)
		qi.Field = findAliasedField(entity, lowered, entityIdx)
		matched = qi.Value != ""
	}

	// 2. Colon form: "find contact email: bob@example.com".
	if !matched {
		if field, value, ok := matchColonForm(entity, clean); ok {
			qi.Field = field
			qi.Value = value
			if qi.Operator == OpUnknown || qi.Operator == OpContains {
				qi.Operator = OpEquals
			}
			if m := andPairPattern.FindStringSubmatch(qi.Value); m != nil {
				qi.SecondaryField = CanonicalField(entity, m[1])
				qi.SecondaryValue = strings.TrimSpace(m[2])
				qi.Value = strings.TrimSpace(qi.Value[:len(qi.Value)-len(m[0])])
			}
			matched = true
		}
	}

	// 3. Contains form: "show accounts with QA in name".
	if !matched {
		if m := containsPattern.FindStringSubmatch(clean); m != nil {
			qi.Value = strings.TrimSpace(m[1])
			qi.Field = resolveFieldTerm(entity, m[2])
			qi.Operator = OpContains
			matched = true
		}
	}

	// 4. Record id token.
	if !matched {
		for _, w := range trimmed {
			if LooksLikeRecordID(w) {
				qi.Value = w
				qi.Field = "Id"
				qi.Operator = OpEquals
				if !entityFound {
					if inferred := EntityFromID(w); inferred != EntityUnknown {
						qi.EntityType = inferred
						entityFound = true
					}
				}
				matched = true
				break
			}
		}
	}

	// 5. Email token.
	if !matched {
		for _, w := range trimmed {
			if emailPattern.MatchString(w) {
				qi.Value = w
				qi.Field = "Email"
				qi.Operator = OpEquals
				if !entityFound {
					qi.EntityType = EntityContact
					entityFound = true
				}
				matched = true
				break
			}
		}
	}

	// 6. Remainder: everything that is not an instruction word is the value.
	manySignal := false
	if !matched {
		var valueWords []string
		started := false
		for i := range words {
			if entityIdx[i] || opIdx[i] {
				continue
			}
			w := lowered[i]
			if !started && (fillerWords[w] || mutationKeywords[w]) {
				if cardinalityMany[w] {
					manySignal = true
				}
				continue
			}
			started = true
			valueWords = append(valueWords, trimmed[i])
		}

		// A leading field term belongs to the field, not the value.
		if len(valueWords) > 2 && aliasKnown(entity, strings.ToLower(valueWords[0]+" "+valueWords[1])) {
			qi.Field = CanonicalField(entity, valueWords[0]+" "+valueWords[1])
			valueWords = valueWords[2:]
		} else if len(valueWords) > 1 && aliasKnown(entity, strings.ToLower(valueWords[0])) {
			qi.Field = CanonicalField(entity, valueWords[0])
			valueWords = valueWords[1:]
		}

		qi.Value = strings.TrimSpace(strings.Join(valueWords, " "))
	}

	if !entityFound {
		if !matched {
			return nil, &ConfusionSignal{Query: raw, Missing: "entity"}
		}
		// A strong value signal without an entity keyword falls back to the
		// default entity rather than confusing the user.
		if qi.EntityType == EntityUnknown {
			qi.EntityType = EntityAccount
		}
	}

	if qi.Value == "" {
		return nil, &ConfusionSignal{Query: raw, Missing: "value"}
	}

	if qi.Field == "" {
		qi.Field = CanonicalField(qi.EntityType, "name")
	}
	if qi.Operator == OpUnknown {
		qi.Operator = OpEquals
	}

	qi.Cardinality = decideCardinality(qi, entityPlural, manySignal)
	return qi, nil
}

// decideCardinality applies the cardinality rules in priority order.
func decideCardinality(qi *QueryIntent, entityPlural, manySignal bool) Cardinality {
	switch {
	case qi.Operator == OpContains:
		return CardinalityMultiple
	case qi.Field == "Id":
		return CardinalitySingle
	case emailPattern.MatchString(qi.Value):
		return CardinalitySingle
	case entityPlural:
		return CardinalityMultiple
	case manySignal:
		return CardinalityMultiple
	default:
		return CardinalitySingle
	}
}

// detectEntity scans tokens against the entity rules in priority order and
// returns the matched entity, the token positions it claimed, and whether a
// plural keyword was used.
func detectEntity(lowered []string) (EntityType, map[int]bool, bool, bool) {
	idx := make(map[int]bool)
	for _, rule := range entityRules {
		found := false
		plural := false
		for i, w := range lowered {
			for _, kw := range rule.keywords {
				if w == kw {
					idx[i] = true
					found = true
					if pluralKeywords[w] {
						plural = true
					}
				}
			}
		}
		if found {
			return rule.entity, idx, plural, true
		}
	}
	return EntityUnknown, idx, false, false
}

// detectOperator returns the highest-priority operator whose keyword appears,
// and the positions of every operator keyword so value extraction can skip
// them.
func detectOperator(lowered []string) (Operator, map[int]bool) {
	idx := make(map[int]bool)
	present := make(map[Operator]bool)
	for i, w := range lowered {
		for _, rule := range operatorRules {
			for _, kw := range rule.keywords {
				if w == kw {
					idx[i] = true
					present[rule.op] = true
				}
			}
		}
	}
	// "greater than" and friends: the trailing "than"/"to" is part of the
	// operator phrase, not the value.
	for i, w := range lowered {
		if (w == "than" || w == "to") && i > 0 && idx[i-1] {
			idx[i] = true
		}
	}
	for _, rule := range operatorRules {
		if present[rule.op] {
			return rule.op, idx
		}
	}
	return OpUnknown, idx
}

func detectMutation(lowered []string) bool {
	for _, w := range lowered {
		if mutationKeywords[w] {
			return true
		}
	}
	return false
}

// matchColonForm handles "find contact email: bob@example.com". The word
// before the colon must be a known field alias, which keeps URLs and times
// from being misread as field separators.
func matchColonForm(entity EntityType, clean string) (field, value string, ok bool) {
	i := strings.Index(clean, ":")
	if i <= 0 {
		return "", "", false
	}
	tail := strings.TrimSpace(clean[i+1:])
	if tail == "" {
		return "", "", false
	}
	headWords := strings.Fields(strings.ToLower(clean[:i]))
	if len(headWords) == 0 {
		return "", "", false
	}
	if len(headWords) >= 2 {
		two := headWords[len(headWords)-2] + " " + headWords[len(headWords)-1]
		if aliasKnown(entity, two) {
			return CanonicalField(entity, two), tail, true
		}
	}
	last := headWords[len(headWords)-1]
	if aliasKnown(entity, last) {
		return CanonicalField(entity, last), tail, true
	}
	return "", "", false
}

// resolveFieldTerm maps a captured field phrase to a canonical field. The
// phrase may carry trailing words ("name for that account"), so the whole
// term, its last word, its first two words and its first word are tried in
// that order before passing the term through verbatim.
func resolveFieldTerm(entity EntityType, term string) string {
	term = strings.TrimSpace(strings.ToLower(term))
	words := strings.Fields(term)
	candidates := []string{term}
	if len(words) > 1 {
		candidates = append(candidates, words[len(words)-1], words[0]+" "+words[1], words[0])
	}
	for _, c := range candidates {
		if aliasKnown(entity, c) {
			return CanonicalField(entity, c)
		}
	}
	return term
}

// aliasKnown reports whether a term is an explicit field alias for the
// entity, as opposed to a verbatim passthrough.
func aliasKnown(entity EntityType, term string) bool {
	aliases, ok := fieldAliases[entity]
	if !ok {
		aliases = fieldAliases[EntityContact]
	}
	_, ok = aliases[strings.TrimSpace(strings.ToLower(term))]
	return ok
}

// findAliasedField returns the first token outside the entity keywords that
// maps to a field alias, or the entity's name field when none does.
func findAliasedField(entity EntityType, lowered []string, entityIdx map[int]bool) string {
	for i, w := range lowered {
		if entityIdx[i] {
			continue
		}
		if aliasKnown(entity, w) {
			return CanonicalField(entity, w)
		}
	}
	return CanonicalField(entity, "name")
}
