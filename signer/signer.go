// Package signer binds an X402 header to a payer identity. The digest
// is keccak256 over the header's canonical encoding (signature field
// excluded), signatures are 65-byte [R || S || V] secp256k1 signatures
// with the Ethereum V+27 convention, and verification recovers the
// signing address and compares it to the payer claimed in the header.
//
// Digest, Sign, and Verify are pure apart from invoking the signing
// capability and are safe for concurrent use.
package signer

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/smart402/x402-go"
	"github.com/smart402/x402-go/encoding"
)

// domainPrefix separates X402 header digests from any other signed
// payload a key might produce.
const domainPrefix = "X402-HEADER-V1"

// SignatureLength is the expected signature length in bytes.
const SignatureLength = 65

// Capability is the key custody boundary: a signing primitive plus its
// public identity. Implementations may be local keys or remote signers;
// remote ones can be slow, so callers should bound Sign with a timeout.
type Capability interface {
	// Sign signs a 32-byte digest and returns a 65-byte [R || S || V]
	// signature with V in {27, 28}.
	Sign(digest []byte) ([]byte, error)

	// Address returns the 0x-prefixed hex address of the signing key.
	Address() string
}

// Digest computes the deterministic signing digest for a header:
// keccak256 over a domain prefix followed by the length-prefixed
// canonical wire fields, signature excluded.
func Digest(h x402.Header) ([]byte, error) {
	fields, err := encoding.SigningFields(h)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(domainPrefix)
	var scratch [binary.MaxVarintLen64]byte
	for _, f := range fields {
		n := binary.PutUvarint(scratch[:], uint64(len(f.Key)))
		buf.Write(scratch[:n])
		buf.WriteString(f.Key)
		n = binary.PutUvarint(scratch[:], uint64(len(f.Value)))
		buf.Write(scratch[:n])
		buf.WriteString(f.Value)
	}
	return crypto.Keccak256(buf.Bytes()), nil
}

// Sign returns a copy of the header with the signature populated. The
// header must be unsigned, carry a positive amount, and (when a deadline
// is set) not yet be expired. The capability's identity must match the
// payer claimed in the header.
func Sign(h x402.Header, cap Capability) (x402.Header, error) {
	if h.Signed() {
		return x402.Header{}, x402.ErrAlreadySigned
	}
	if err := h.ValidateForSigning(time.Now()); err != nil {
		return x402.Header{}, err
	}
	if !strings.EqualFold(cap.Address(), h.Payer) {
		return x402.Header{}, x402.ErrSignatureMismatch
	}

	digest, err := Digest(h)
	if err != nil {
		return x402.Header{}, err
	}
	sig, err := cap.Sign(digest)
	if err != nil {
		return x402.Header{}, err
	}
	if len(sig) != SignatureLength {
		return x402.Header{}, x402.ErrMalformedSignature
	}

	signed := h
	signed.Signature = "0x" + hex.EncodeToString(sig)
	return signed, nil
}

// Verify validates a signed header and returns the recovered payer
// address. The deadline is checked first: an expired header fails with
// ErrDeadlineExpired regardless of signature validity. A missing or
// wrong-length signature fails with ErrMalformedSignature, and a
// recovered address that differs from the claimed payer fails with
// ErrSignatureMismatch.
func Verify(h x402.Header) (string, error) {
	if h.Expired(time.Now()) {
		return "", x402.ErrDeadlineExpired
	}
	if !h.Signed() {
		return "", x402.ErrMalformedSignature
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(h.Signature, "0x"))
	if err != nil || len(raw) != SignatureLength {
		return "", x402.ErrMalformedSignature
	}

	digest, err := Digest(h)
	if err != nil {
		return "", err
	}

	// go-ethereum recovery expects V in {0, 1}.
	sig := make([]byte, SignatureLength)
	copy(sig, raw)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", x402.ErrMalformedSignature
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), h.Payer) {
		return "", x402.ErrSignatureMismatch
	}
	return recovered.Hex(), nil
}
