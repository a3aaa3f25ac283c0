package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

const signaturePrefix = "sha256="

// ErrSignature is the single reason given for any verification failure.
var ErrSignature = errors.New("webhook signature verification failed")

// Sign returns the X-Hub-Signature-256 value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the HMAC-SHA256 of body. It returns
// nil or ErrSignature and never says which check failed.
func VerifySignature(body []byte, header, secret string) error {
	if secret == "" || header == "" {
		return ErrSignature
	}

	expected := Sign(secret, body)
	// ConstantTimeCompare leaks length anyway; make the check explicit.
	if len(header) != len(expected) {
		return ErrSignature
	}
	if subtle.ConstantTimeCompare([]byte(header), []byte(expected)) != 1 {
		return ErrSignature
	}
	return nil
}

// ValidSignature is VerifySignature as a boolean.
func ValidSignature(body []byte, header, secret string) bool {
	return VerifySignature(body, header, secret) == nil
}
