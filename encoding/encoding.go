// Package encoding implements the X402 header codec: the lossless,
// deterministic mapping between a Header and its wire representation, a
// flat ordered set of key/value strings. Key order is fixed by protocol
// version, not insertion order, so signing digests are reproducible
// across implementations.
package encoding

import (
	"strconv"

	x402 "github.com/smart402/x402-go"
)

// Wire keys for protocol version "1.0".
const (
	KeyVersion    = "version"
	KeyContractID = "contract_id"
	KeyPayer      = "payer_address"
	KeyAsset      = "asset"
	KeyAmount     = "amount"
	KeyDeadline   = "deadline"
	KeyNonce      = "nonce"
	KeySignature  = "signature"
)

// fieldOrder is the canonical key order for version "1.0". The signature
// is always last so the signing input is a prefix of the full encoding.
var fieldOrder = []string{
	KeyVersion,
	KeyContractID,
	KeyPayer,
	KeyAsset,
	KeyAmount,
	KeyDeadline,
	KeyNonce,
	KeySignature,
}

// Field is one wire key/value pair.
type Field struct {
	Key   string
	Value string
}

// Encode maps a header to its ordered wire fields. Optional fields
// (deadline when zero, signature when unsigned) are omitted entirely
// rather than emitted empty. The amount is re-canonicalized; a header
// carrying a malformed amount fails with ErrMalformedValue.
func Encode(h x402.Header) ([]Field, error) {
	amount, err := x402.CanonicalAmount(h.Amount)
	if err != nil {
		return nil, &x402.DecodeError{Field: KeyAmount, Err: x402.ErrMalformedValue}
	}

	values := map[string]string{
		KeyVersion:    h.Version,
		KeyContractID: h.ContractID,
		KeyPayer:      h.Payer,
		KeyAsset:      string(h.Asset),
		KeyAmount:     amount,
		KeyNonce:      h.Nonce,
	}
	if h.Deadline != 0 {
		values[KeyDeadline] = strconv.FormatInt(h.Deadline, 10)
	}
	if h.Signature != "" {
		values[KeySignature] = h.Signature
	}

	fields := make([]Field, 0, len(values))
	for _, key := range fieldOrder {
		if v, ok := values[key]; ok {
			fields = append(fields, Field{Key: key, Value: v})
		}
	}
	return fields, nil
}

// SigningFields returns the encoded fields that participate in the
// signing digest: everything except the signature itself.
func SigningFields(h x402.Header) ([]Field, error) {
	unsigned := h
	unsigned.Signature = ""
	return Encode(unsigned)
}

// Decode rebuilds a header from wire fields. Missing required fields
// fail with a DecodeError wrapping ErrMissingField; unparseable or
// non-canonical values fail with ErrMalformedValue. A missing required
// field is never silently defaulted. Unknown keys are ignored;
// duplicated keys are malformed.
func Decode(fields []Field) (x402.Header, error) {
	seen := make(map[string]string, len(fields))
	for _, f := range fields {
		if _, dup := seen[f.Key]; dup {
			return x402.Header{}, &x402.DecodeError{Field: f.Key, Err: x402.ErrMalformedValue}
		}
		seen[f.Key] = f.Value
	}

	required := []string{KeyVersion, KeyContractID, KeyPayer, KeyAsset, KeyAmount, KeyNonce}
	for _, key := range required {
		if seen[key] == "" {
			return x402.Header{}, &x402.DecodeError{Field: key, Err: x402.ErrMissingField}
		}
	}

	amount, err := x402.CanonicalAmount(seen[KeyAmount])
	if err != nil || amount != seen[KeyAmount] {
		return x402.Header{}, &x402.DecodeError{Field: KeyAmount, Err: x402.ErrMalformedValue}
	}

	h := x402.Header{
		Version:    seen[KeyVersion],
		ContractID: seen[KeyContractID],
		Payer:      seen[KeyPayer],
		Asset:      x402.Asset(seen[KeyAsset]),
		Amount:     amount,
		Nonce:      seen[KeyNonce],
		Signature:  seen[KeySignature],
	}

	if raw, ok := seen[KeyDeadline]; ok {
		deadline, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || deadline <= 0 {
			return x402.Header{}, &x402.DecodeError{Field: KeyDeadline, Err: x402.ErrMalformedValue}
		}
		h.Deadline = deadline
	}

	return h, nil
}
