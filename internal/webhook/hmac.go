package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// errVerification is the only error verification returns, so callers
// cannot leak why a signature was rejected.
var errVerification = errors.New("webhook verification failed")

// Sign returns the GitHub-style "sha256=<hex>" signature of body.
func Sign(body []byte, secret string) string {
	return "sha256=" + hex.EncodeToString(mac(body, secret))
}

func mac(body []byte, secret string) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(body)
	return m.Sum(nil)
}

// verifySignature checks an HMAC-SHA256 signature of body in constant time.
// Accepted forms are "sha256=<hex>" and plain hex.
func verifySignature(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return errVerification
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return errVerification
	}
	if !hmac.Equal(mac(body, secret), got) {
		return errVerification
	}
	return nil
}
