package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// eventEnvelope is the hashed shape of a step. Field order does not matter
// because the envelope is canonicalized before hashing.
type eventEnvelope struct {
	StepType  string         `json:"step_type"`
	CreatedAt string         `json:"created_at"`
	Payload   map[string]any `json:"payload"`
}

// EventHash computes the SHA-256 hash of a step over its canonical JSON
// envelope (RFC 8785: sorted keys at every depth, no insignificant
// whitespace, stable numeric lexemes).
func EventHash(stepType string, createdAt time.Time, payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(eventEnvelope{
		StepType:  stepType,
		CreatedAt: createdAt.UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal step envelope: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize step envelope: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ChainHash folds the previous chain hash with the current event hash.
// Both inputs are hex strings; the fold hashes their concatenation so the
// chain can be recomputed from the stored hex values alone.
func ChainHash(prev, eventHash string) string {
	sum := sha256.Sum256([]byte(prev + eventHash))
	return hex.EncodeToString(sum[:])
}
