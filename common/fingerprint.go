package common

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint derives the dedup identity of an event: a SHA-256 hex digest
// over the exact concatenation eventType + payload + tenantID. The payload is
// serialized with encoding/json, whose sorted map keys make the digest stable
// across processes for equal payloads. The composition is a compatibility
// contract shared with the durable processed_events records; do not reorder.
func Fingerprint(eventType string, payload interface{}, tenantID string) string {
	body, err := json.Marshal(payload)
	if err != nil {
		// Payloads arrive as decoded JSON, so marshaling cannot realistically
		// fail; fall back to the empty body rather than propagate.
		body = []byte("")
	}

	h := sha256.New()
	h.Write([]byte(eventType))
	h.Write(body)
	h.Write([]byte(tenantID))
	return hex.EncodeToString(h.Sum(nil))
}
