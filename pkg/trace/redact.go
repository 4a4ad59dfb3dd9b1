package trace

import (
	"regexp"
	"strings"
)

// Redacted is the placeholder inserted for sensitive values.
const Redacted = "<redacted>"

// sensitiveKeys are payload keys whose values are always masked regardless
// of content.
var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"auth":          {},
	"api_key":       {},
	"apikey":        {},
	"token":         {},
	"secret":        {},
	"password":      {},
	"passwd":        {},
	"cookie":        {},
	"set-cookie":    {},
	"access_token":  {},
	"refresh_token": {},
	"email":         {},
}

// tokenPatterns match secret-shaped substrings inside string values:
// bearer tokens, common API key prefixes, JWTs, and email addresses.
var tokenPatterns = []string{
	`Bearer\s+[A-Za-z0-9_\-\.]+`,
	`sk-[A-Za-z0-9_\-]{20,}`,
	`ghp_[A-Za-z0-9_\-]{36,}`,
	`gho_[A-Za-z0-9_\-]{36,}`,
	`eyJ[A-Za-z0-9_\-]{10,}\.[A-Za-z0-9_\-]{10,}\.[A-Za-z0-9_\-]{10,}`,
	`AIza[A-Za-z0-9_\-]{35}`,
	`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
}

var tokenRegex = regexp.MustCompile("(?i)" + strings.Join(tokenPatterns, "|"))

// RedactionProfile controls how payloads are sanitized.
type RedactionProfile struct {
	// MaxValueChars truncates string values longer than this cap.
	// Zero disables truncation.
	MaxValueChars int
}

// DefaultProfile is the redaction profile applied when none is given.
var DefaultProfile = RedactionProfile{MaxValueChars: 500}

// SanitizePayload returns a deep copy of payload with sensitive keys masked,
// secret-shaped substrings replaced, and long values truncated. The second
// return value counts the redactions performed.
func SanitizePayload(payload map[string]any, profile RedactionProfile) (map[string]any, int) {
	if payload == nil {
		return map[string]any{}, 0
	}
	clean, hits := sanitizeValue("", payload, profile)
	m, ok := clean.(map[string]any)
	if !ok {
		return map[string]any{"value": clean}, hits
	}
	return m, hits
}

// ScrubString applies the secret patterns to a bare string. Used for error
// messages crossing the HTTP boundary and for tool output scrubbing.
func ScrubString(s string) (string, int) {
	if !tokenRegex.MatchString(s) {
		return s, 0
	}
	return tokenRegex.ReplaceAllString(s, Redacted), 1
}

func sanitizeValue(key string, value any, profile RedactionProfile) (any, int) {
	if _, sensitive := sensitiveKeys[strings.ToLower(key)]; sensitive {
		return Redacted, 1
	}

	switch v := value.(type) {
	case map[string]any:
		redactions := 0
		clean := make(map[string]any, len(v))
		for k, item := range v {
			c, hits := sanitizeValue(k, item, profile)
			clean[k] = c
			redactions += hits
		}
		return clean, redactions

	case []any:
		redactions := 0
		clean := make([]any, len(v))
		for i, item := range v {
			c, hits := sanitizeValue("", item, profile)
			clean[i] = c
			redactions += hits
		}
		return clean, redactions

	case string:
		return sanitizeString(v, profile)

	default:
		return value, 0
	}
}

func sanitizeString(s string, profile RedactionProfile) (string, int) {
	redactions := 0
	if tokenRegex.MatchString(s) {
		s = tokenRegex.ReplaceAllString(s, Redacted)
		redactions++
	}
	if profile.MaxValueChars > 0 && len(s) > profile.MaxValueChars {
		cut := profile.MaxValueChars - len("...<truncated>")
		if cut < 0 {
			cut = 0
		}
		s = s[:cut] + "...<truncated>"
		redactions++
	}
	return s, redactions
}
