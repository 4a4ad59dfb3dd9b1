package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// HashArgs computes the SHA-256 hash of the canonical JSON form of a tool's
// arguments (RFC 8785: sorted keys at every depth, no insignificant
// whitespace, stable numeric lexemes). The same canonicalization backs the
// intent cache signature, so equivalent argument maps always hash alike.
func HashArgs(args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tool args: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize tool args: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
