package intent

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// signatureLen is the hex prefix length of the cache signature.
const signatureLen = 32

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]+`)

	// Secret and PII shapes are scrubbed before hashing so two inputs that
	// differ only in an embedded credential share a signature and neither
	// leaks into the cache key material.
	scrubPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9_\-.]+`),
		regexp.MustCompile(`(?i)sk-[A-Za-z0-9_\-]{20,}`),
		regexp.MustCompile(`(?i)ghp_[A-Za-z0-9_\-]{20,}`),
		regexp.MustCompile(`(?i)-----BEGIN[\sA-Z]+PRIVATE KEY-----`),
		regexp.MustCompile(`(?i)[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
		regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),
	}

	whitespace = regexp.MustCompile(`\s+`)
)

// Normalize canonicalizes user input for signature computation: control
// characters stripped, secret/PII shapes replaced, whitespace collapsed,
// lowercased.
func Normalize(text string) string {
	s := controlChars.ReplaceAllString(text, " ")
	for _, p := range scrubPatterns {
		s = p.ReplaceAllString(s, "[REDACTED]")
	}
	s = whitespace.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// Signature hashes normalized input into the cache key component. The
// policy hash joins it at lookup time, so a policy change invalidates every
// signature implicitly.
func Signature(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:signatureLen]
}
