package pipeline

import "regexp"

var (
	urlCredentials = regexp.MustCompile(`(?i)([a-z][a-z0-9+.-]*://)[^/@\s]+@`)
	secretPairs    = regexp.MustCompile(`(?i)\b(token|access_token|api[_-]?key|password|secret|authorization)(\s*[=:]\s*)("[^"]*"|\S+)`)
	bearerTokens   = regexp.MustCompile(`(?i)\b(bearer|basic)\s+[a-z0-9._~+/=-]{8,}`)
)

// sanitize removes credentials from error text before it leaves the process
// through results, checkpoints or ticket comments.
func sanitize(msg string) string {
	msg = urlCredentials.ReplaceAllString(msg, "${1}***@")
	msg = bearerTokens.ReplaceAllString(msg, "${1} ***")
	return secretPairs.ReplaceAllString(msg, "${1}${2}***")
}
