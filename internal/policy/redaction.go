package policy

import "regexp"

// Redaction categories reported by RedactPII.
const (
	CategoryEmail    = "email"
	CategoryCard     = "card"
	CategoryNationID = "national_id"
	CategoryPhone    = "phone"
)

type rule struct {
	category    string
	pattern     *regexp.Regexp
	replacement string
}

// Rules run in order: cards before phones so long digit runs are not
// classified as phone numbers, national ids before phones for the same reason.
var rules = []rule{
	{CategoryEmail, regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{CategoryCard, regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{CategoryNationID, regexp.MustCompile(`(?i)\b(?:\d{8}|[XYZ]\d{7})-?[A-Z]\b`), "[REDACTED_ID]"},
	{CategoryPhone, regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks common high-risk PII patterns in conversation text before it
// is persisted. It returns the categories that matched, in rule order.
func RedactPII(input string) (string, []string) {
	out := input
	var found []string
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out, r.replacement)
		if next != out {
			found = append(found, r.category)
			out = next
		}
	}
	return out, found
}
