package pipeline

import "regexp"

// Receipts outlive sessions and travel to auditors, so anything that
// looks like credential material is redacted before it is persisted.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(api[_-]?key|access[_-]?key|secret|token|password|passwd)\b(\s*[=:]\s*)\S+`),
	regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]+=*`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{30,}\b`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
}

// Scrub replaces secret-looking substrings with a redaction marker.
func Scrub(s string) string {
	out := s
	out = secretPatterns[0].ReplaceAllString(out, "$1$2[REDACTED]")
	for _, re := range secretPatterns[1:] {
		out = re.ReplaceAllString(out, "[REDACTED]")
	}
	return out
}

// ContainsSecret reports whether the input carries secret-looking
// material.
func ContainsSecret(s string) bool {
	for _, re := range secretPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
