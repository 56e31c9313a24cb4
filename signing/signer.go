// Package signing produces and verifies payload signatures for outbound
// deliveries. The signed string, header layout and secret format are a
// compatibility contract with receivers; none of the byte-level details here
// may change without breaking existing verification code in the field.
package signing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Header names attached to every signed delivery.
const (
	HeaderSignature = "X-Integration-Signature"
	HeaderTimestamp = "X-Integration-Timestamp"
	HeaderMessageID = "X-Integration-ID"
)

// SecretPrefix marks generated signing secrets.
const SecretPrefix = "whsec_"

// Tolerance is the timestamp skew receivers should accept.
const Tolerance = 300 * time.Second

// Signature is the result of signing one payload: the three header values
// plus the inputs an audit row preserves.
type Signature struct {
	MessageID string
	Timestamp int64
	// Header is the full X-Integration-Signature value: one "v1,<b64hmac>"
	// token per active secret, head-first, space-separated.
	Header string
	// Primary is the head-secret signature alone, the one recorded in logs.
	Primary string
}

// Headers renders the three outbound headers.
func (s *Signature) Headers() map[string]string {
	return map[string]string{
		HeaderSignature: s.Header,
		HeaderTimestamp: strconv.FormatInt(s.Timestamp, 10),
		HeaderMessageID: s.MessageID,
	}
}

// Sign produces signatures over payload with every secret in the active list.
// The signed string is exactly "{messageId}.{timestamp}.{payload}" where
// payload is the byte sequence that goes on the wire.
func Sign(payload []byte, secrets []string) (*Signature, error) {
	return SignAt(payload, secrets, uuid.NewString(), time.Now().Unix())
}

// SignAt is Sign with a fixed message id and timestamp, used on the retry
// path (and in tests) to reproduce a previous attempt's signed string.
func SignAt(payload []byte, secrets []string, messageID string, timestamp int64) (*Signature, error) {
	if len(secrets) == 0 {
		return nil, fmt.Errorf("signing: no secrets configured")
	}

	signed := signedContent(messageID, timestamp, payload)

	tokens := make([]string, 0, len(secrets))
	for _, secret := range secrets {
		tokens = append(tokens, "v1,"+computeHMAC(signed, secret))
	}

	return &Signature{
		MessageID: messageID,
		Timestamp: timestamp,
		Header:    strings.Join(tokens, " "),
		Primary:   tokens[0],
	}, nil
}

// Verify checks a received signature header against the active secrets. Any
// token matching any secret verifies, so rotated-out receivers and rotated-in
// senders overlap cleanly. Comparison is constant-time per token.
func Verify(payload []byte, header, messageID string, timestamp int64, secrets []string, now time.Time) bool {
	if header == "" || messageID == "" {
		return false
	}

	skew := now.Unix() - timestamp
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(Tolerance.Seconds()) {
		return false
	}

	signed := signedContent(messageID, timestamp, payload)
	for _, token := range strings.Fields(header) {
		mac, ok := strings.CutPrefix(token, "v1,")
		if !ok {
			continue
		}
		for _, secret := range secrets {
			expected := computeHMAC(signed, secret)
			if hmac.Equal([]byte(mac), []byte(expected)) {
				return true
			}
		}
	}
	return false
}

// GenerateSecret returns a fresh signing secret: the whsec_ prefix over
// base64 of 32 random bytes.
func GenerateSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("signing: secret generation failed: %w", err)
	}
	return SecretPrefix + base64.StdEncoding.EncodeToString(raw), nil
}

func signedContent(messageID string, timestamp int64, payload []byte) []byte {
	prefix := messageID + "." + strconv.FormatInt(timestamp, 10) + "."
	content := make([]byte, 0, len(prefix)+len(payload))
	content = append(content, prefix...)
	content = append(content, payload...)
	return content
}

func computeHMAC(content []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(content)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
