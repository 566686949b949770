package extract

import "strings"

// TextExtractor converts raw PDF bytes into plain text. Implementations may
// fail on malformed document structure; callers decide whether the failure
// signature warrants a repair attempt.
type TextExtractor interface {
	Name() string
	ExtractText(data []byte) (string, error)
}

// Repairer rewrites a malformed PDF's internal structure so it can be parsed.
// Invoked only as a fallback on specific failure signatures.
type Repairer interface {
	Repair(data []byte) ([]byte, error)
}

// IsXRefError reports whether an extraction failure looks like the malformed
// cross-reference table class of error, the only class the repair fallback
// is known to fix.
func IsXRefError(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "xref") ||
		strings.Contains(message, "cross-reference") ||
		strings.Contains(message, "cross reference")
}

// NormalizeText unifies line endings and trims surrounding whitespace.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}
