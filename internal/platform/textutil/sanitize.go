package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicy = bluemonday.StrictPolicy()
	richPolicy   = newRichTextPolicy()
)

func newRichTextPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	return policy
}

// PlainText removes every tag and returns trimmed text with entities decoded, so
// "A &amp; B" round-trips to "A & B".
func PlainText(value string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(value)))
}

// RichText keeps a safe subset of markup for product descriptions.
func RichText(value string) string {
	return strings.TrimSpace(richPolicy.Sanitize(value))
}

// NormalizeStringMap trims keys and plain-text sanitises values, dropping empty keys.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = PlainText(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
