package intent

import "strings"

// entityRule binds keyword tokens to an entity type. Rules are evaluated in
// order, so more specific terms must come before generic fallbacks.
type entityRule struct {
	entity   EntityType
	keywords []string
}

var entityRules = []entityRule{
	{EntityAsset, []string{"asset", "assets"}},
	{EntityOpportunity, []string{"opportunity", "opportunities", "deal", "deals", "sale", "sales"}},
	{EntityContact, []string{"contact", "contacts", "person", "people"}},
	{EntityLead, []string{"lead", "leads", "prospect", "prospects"}},
	{EntityAccount, []string{"account", "accounts", "company", "companies", "organization", "organizations", "org"}},
}

// pluralKeywords are the entity keywords that imply multiple results.
var pluralKeywords = map[string]bool{
	"assets": true, "opportunities": true, "deals": true, "sales": true,
	"contacts": true, "people": true, "leads": true, "prospects": true,
	"accounts": true, "companies": true, "organizations": true,
}

// operatorRule binds keyword tokens to an operator. Evaluated in order so
// comparison words win over the generic contains family.
type operatorRule struct {
	op       Operator
	keywords []string
}

var operatorRules = []operatorRule{
	{OpGreaterThan, []string{"greater", "more", "over", "above", "exceeding"}},
	{OpLessThan, []string{"less", "under", "below", "fewer"}},
	{OpStartsWith, []string{"starting", "starts", "begins", "beginning"}},
	{OpContains, []string{"contains", "containing", "with", "mentioning", "including"}},
	{OpEquals, []string{"equals", "equal", "is", "named", "called"}},
}

// mutationKeywords mark an intent as mutating. These mirror the families the
// connector treats as write operations.
var mutationKeywords = map[string]bool{
	"create": true, "creating": true, "add": true, "adding": true,
	"update": true, "updating": true, "change": true, "set": true,
	"delete": true, "deleting": true, "remove": true,
	"log": true, "logging": true,
	"convert": true, "converting": true,
}

// fillerWords are leading instruction words stripped before value extraction.
var fillerWords = map[string]bool{
	"find": true, "show": true, "get": true, "search": true, "lookup": true,
	"look": true, "display": true, "list": true, "give": true, "me": true,
	"all": true, "the": true, "a": true, "an": true, "please": true,
	"for": true, "up": true, "records": true, "record": true, "named": true,
	"called": true,
}

// cardinalityMany are non-entity tokens that imply multiple results.
var cardinalityMany = map[string]bool{
	"all": true, "every": true, "list": true,
}

// fieldAliases maps common user terms to canonical field names per entity.
// Unmapped terms pass through verbatim.
var fieldAliases = map[EntityType]map[string]string{
	EntityContact: {
		"id": "Id", "name": "Name", "first name": "FirstName",
		"last name": "LastName", "email": "Email", "phone": "Phone",
		"mobile": "MobilePhone", "title": "Title", "account": "AccountId",
	},
	EntityAccount: {
		"id": "Id", "name": "Name", "type": "Type", "industry": "Industry",
		"phone": "Phone", "website": "Website", "city": "BillingCity",
		"state": "BillingState",
	},
	EntityOpportunity: {
		"id": "Id", "name": "Name", "stage": "StageName", "amount": "Amount",
		"close date": "CloseDate", "account": "AccountId", "owner": "OwnerId",
	},
	EntityLead: {
		"id": "Id", "name": "Name", "first name": "FirstName",
		"last name": "LastName", "email": "Email", "phone": "Phone",
		"company": "Company", "status": "Status",
	},
	EntityAsset: {
		"id": "Id", "name": "Name", "status": "Status", "serial": "SerialNumber",
		"product": "Product2Id", "account": "AccountId",
	},
}

// CanonicalField maps a user field term to the entity's canonical field name.
// Two-word terms are tried whole first, then by their last word. Unmapped
// terms are returned verbatim with surrounding whitespace trimmed.
func CanonicalField(entity EntityType, term string) string {
	term = strings.TrimSpace(strings.ToLower(term))
	if term == "" {
		return ""
	}
	aliases, ok := fieldAliases[entity]
	if !ok {
		aliases = fieldAliases[EntityContact]
	}
	if canonical, ok := aliases[term]; ok {
		return canonical
	}
	parts := strings.Fields(term)
	if len(parts) > 1 {
		if canonical, ok := aliases[parts[len(parts)-1]]; ok {
			return canonical
		}
	}
	return strings.TrimSpace(term)
}

// idPrefixes maps Salesforce record-id key prefixes to entity types.
var idPrefixes = map[string]EntityType{
	"001": EntityAccount,
	"003": EntityContact,
	"006": EntityOpportunity,
	"00Q": EntityLead,
	"02i": EntityAsset,
}

// LooksLikeRecordID reports whether a token has the shape of a Salesforce
// record id: 15 or 18 alphanumeric characters with at least one digit.
func LooksLikeRecordID(s string) bool {
	if len(s) != 15 && len(s) != 18 {
		return false
	}
	hasDigit := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return hasDigit
}

// EntityFromID infers the entity type from a record id's key prefix.
func EntityFromID(id string) EntityType {
	if len(id) < 3 {
		return EntityUnknown
	}
	if e, ok := idPrefixes[id[:3]]; ok {
		return e
	}
	return EntityUnknown
}
