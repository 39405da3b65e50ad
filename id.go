package x402

import (
	"crypto/rand"
	"encoding/hex"
)

// NewNonce returns a fresh random 32-byte hex nonce. Nonces are unique
// per signed header; reusing one is rejected at authorization time.
func NewNonce() string {
	return randomHex(32)
}

// NewRecordID returns a fresh payment record identifier.
func NewRecordID() string {
	return randomHex(16)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("x402: entropy source unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
