package callback

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// SignatureHeader carries the HMAC of the request body when a secret is set.
const SignatureHeader = "X-Honeypot-Signature"

// Sign computes the "sha256=<hex>" HMAC of body.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(h.Sum(nil)))
}

// Verify checks a signature produced by Sign in constant time. Receivers of
// callbacks can use it to authenticate deliveries.
func Verify(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(signature), []byte(Sign(body, secret))) == 1
}
