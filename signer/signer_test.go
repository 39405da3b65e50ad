package signer

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	x402 "github.com/smart402/x402-go"
)

// testKey is a fixed key so failures are reproducible.
const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testHeader(t *testing.T, payer string) x402.Header {
	t.Helper()
	return x402.Header{
		Version:    x402.ProtocolVersion,
		ContractID: "contract-1",
		Payer:      payer,
		Asset:      x402.AssetNative,
		Amount:     "1.5",
		Deadline:   time.Now().Add(time.Hour).Unix(),
		Nonce:      "746573742d6e6f6e6365",
	}
}

func newTestKey(t *testing.T) *LocalKey {
	t.Helper()
	key, err := NewLocalKey(testKeyHex)
	if err != nil {
		t.Fatalf("NewLocalKey() error = %v", err)
	}
	return key
}

func TestNewLocalKeyInvalid(t *testing.T) {
	for _, in := range []string{"", "zz", "0x1234"} {
		if _, err := NewLocalKey(in); !errors.Is(err, x402.ErrInvalidKey) {
			t.Errorf("NewLocalKey(%q) error = %v; want ErrInvalidKey", in, err)
		}
	}
}

func TestNewLocalKeyAcceptsPrefix(t *testing.T) {
	plain, err := NewLocalKey(testKeyHex)
	if err != nil {
		t.Fatalf("NewLocalKey() error = %v", err)
	}
	prefixed, err := NewLocalKey("0x" + testKeyHex)
	if err != nil {
		t.Fatalf("NewLocalKey() with prefix error = %v", err)
	}
	if plain.Address() != prefixed.Address() {
		t.Errorf("addresses differ: %s vs %s", plain.Address(), prefixed.Address())
	}
	if !strings.HasPrefix(plain.Address(), "0x") {
		t.Errorf("Address() = %q; want 0x prefix", plain.Address())
	}
}

func TestDigestDeterministic(t *testing.T) {
	h := testHeader(t, "0x1234567890123456789012345678901234567890")

	d1, err := Digest(h)
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}
	d2, err := Digest(h)
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}
	if !bytes.Equal(d1, d2) {
		t.Error("Digest() not deterministic for identical headers")
	}
	if len(d1) != 32 {
		t.Errorf("Digest() length = %d; want 32", len(d1))
	}

	// The signature never participates in the digest.
	signed := h
	signed.Signature = "0xdeadbeef"
	d3, err := Digest(signed)
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}
	if !bytes.Equal(d1, d3) {
		t.Error("Digest() changed when the signature was set")
	}
}

func TestDigestSensitiveToFields(t *testing.T) {
	base := testHeader(t, "0x1234567890123456789012345678901234567890")
	baseDigest, err := Digest(base)
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}

	mutations := []struct {
		name   string
		mutate func(*x402.Header)
	}{
		{"contract", func(h *x402.Header) { h.ContractID = "contract-2" }},
		{"payer", func(h *x402.Header) { h.Payer = "0x0000000000000000000000000000000000000001" }},
		{"asset", func(h *x402.Header) { h.Asset = "some-token" }},
		{"amount", func(h *x402.Header) { h.Amount = "1.6" }},
		{"deadline", func(h *x402.Header) { h.Deadline++ }},
		{"nonce", func(h *x402.Header) { h.Nonce = "6f74686572" }},
	}

	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			h := base
			tt.mutate(&h)
			d, err := Digest(h)
			if err != nil {
				t.Fatalf("Digest() error = %v", err)
			}
			if bytes.Equal(d, baseDigest) {
				t.Errorf("digest unchanged after mutating %s", tt.name)
			}
		})
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key := newTestKey(t)
	h := testHeader(t, key.Address())

	signed, err := Sign(h, key)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if !signed.Signed() {
		t.Fatal("Sign() returned an unsigned header")
	}
	if h.Signed() {
		t.Error("Sign() mutated its input")
	}

	recovered, err := Verify(signed)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !strings.EqualFold(recovered, key.Address()) {
		t.Errorf("Verify() recovered %s; want %s", recovered, key.Address())
	}
}

func TestSignRejections(t *testing.T) {
	key := newTestKey(t)

	tests := []struct {
		name    string
		mutate  func(*x402.Header)
		wantErr error
	}{
		{"already signed", func(h *x402.Header) { h.Signature = "0xff" }, x402.ErrAlreadySigned},
		{"zero amount", func(h *x402.Header) { h.Amount = "0" }, x402.ErrNonPositiveAmount},
		{"expired deadline", func(h *x402.Header) { h.Deadline = time.Now().Add(-time.Minute).Unix() }, x402.ErrDeadlineExpired},
		{"missing nonce", func(h *x402.Header) { h.Nonce = "" }, x402.ErrMissingNonce},
		{"payer is not the key", func(h *x402.Header) { h.Payer = "0x0000000000000000000000000000000000000001" }, x402.ErrSignatureMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testHeader(t, key.Address())
			tt.mutate(&h)
			if _, err := Sign(h, key); !errors.Is(err, tt.wantErr) {
				t.Errorf("Sign() error = %v; want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSignCaseInsensitivePayer(t *testing.T) {
	key := newTestKey(t)
	h := testHeader(t, strings.ToLower(key.Address()))

	signed, err := Sign(h, key)
	if err != nil {
		t.Fatalf("Sign() with lowercased payer error = %v", err)
	}
	if _, err := Verify(signed); err != nil {
		t.Errorf("Verify() with lowercased payer error = %v", err)
	}
}

func TestVerifyDetectsMutation(t *testing.T) {
	key := newTestKey(t)
	signed, err := Sign(testHeader(t, key.Address()), key)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	mutations := []struct {
		name   string
		mutate func(*x402.Header)
	}{
		{"amount", func(h *x402.Header) { h.Amount = "2.5" }},
		{"contract", func(h *x402.Header) { h.ContractID = "contract-2" }},
		{"asset", func(h *x402.Header) { h.Asset = "some-token" }},
		{"nonce", func(h *x402.Header) { h.Nonce = "6f74686572" }},
		{"deadline", func(h *x402.Header) { h.Deadline++ }},
	}

	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			h := signed
			tt.mutate(&h)
			if _, err := Verify(h); !errors.Is(err, x402.ErrSignatureMismatch) {
				t.Errorf("Verify() after mutating %s error = %v; want ErrSignatureMismatch", tt.name, err)
			}
		})
	}
}

func TestVerifyMalformedSignature(t *testing.T) {
	key := newTestKey(t)
	signed, err := Sign(testHeader(t, key.Address()), key)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	tests := []struct {
		name string
		sig  string
	}{
		{"absent", ""},
		{"not hex", "0xzzzz"},
		{"too short", "0xdeadbeef"},
		{"truncated", signed.Signature[:len(signed.Signature)-2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := signed
			h.Signature = tt.sig
			if _, err := Verify(h); !errors.Is(err, x402.ErrMalformedSignature) {
				t.Errorf("Verify() error = %v; want ErrMalformedSignature", err)
			}
		})
	}
}

func TestVerifyWrongKey(t *testing.T) {
	key := newTestKey(t)
	other, err := GenerateLocalKey()
	if err != nil {
		t.Fatalf("GenerateLocalKey() error = %v", err)
	}

	// Sign with one key, claim the other's address.
	h := testHeader(t, key.Address())
	signed, err := Sign(h, key)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	signed.Payer = other.Address()

	if _, err := Verify(signed); !errors.Is(err, x402.ErrSignatureMismatch) {
		t.Errorf("Verify() error = %v; want ErrSignatureMismatch", err)
	}
}

func TestVerifyExpiredBeforeSignature(t *testing.T) {
	// An expired header is rejected for its deadline even when the
	// signature is garbage.
	h := testHeader(t, "0x1234567890123456789012345678901234567890")
	h.Deadline = time.Now().Add(-time.Minute).Unix()
	h.Signature = "0xnot-even-hex"

	if _, err := Verify(h); !errors.Is(err, x402.ErrDeadlineExpired) {
		t.Errorf("Verify() error = %v; want ErrDeadlineExpired", err)
	}
}
