package middleware

import "regexp"

// Patterns are applied in order: ids first so the loose phone pattern cannot
// eat the digit groups of a UUID, and email before payment handles because a
// handle is an email without a TLD.
var (
	uuidRE   = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE  = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	handleRE = regexp.MustCompile(`(?i)\b[a-z0-9._\-]{2,}@[a-z]{2,}\b`)
	phoneRE  = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// Redact replaces UUIDs, email addresses, payment handles (name@bank) and
// phone numbers in s with typed placeholders. It is meant for log fields,
// never for data that is stored or sent back.
func Redact(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	s = handleRE.ReplaceAllString(s, "[REDACTED:handle]")
	s = phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
	return s
}
