package encoding

import (
	"net/http"

	x402 "github.com/smart402/x402-go"
)

// HTTP header names carrying each wire key. The request metadata form of
// the protocol transports the same flat key/value set under X402-*
// header names.
var httpNames = map[string]string{
	KeyVersion:    "X402-Version",
	KeyContractID: "X402-Contract-Id",
	KeyPayer:      "X402-Payer-Address",
	KeyAsset:      "X402-Asset",
	KeyAmount:     "X402-Amount",
	KeyDeadline:   "X402-Deadline",
	KeyNonce:      "X402-Nonce",
	KeySignature:  "X402-Signature",
}

// HTTPHeaderName returns the X402-* header name for a wire key, or ""
// for unknown keys.
func HTTPHeaderName(key string) string {
	return httpNames[key]
}

// HasPaymentHeader reports whether the request headers carry an X402
// authorization.
func HasPaymentHeader(src http.Header) bool {
	return src.Get(httpNames[KeyVersion]) != ""
}

// WriteHTTPHeader encodes a header onto an http.Header.
func WriteHTTPHeader(h x402.Header, dst http.Header) error {
	fields, err := Encode(h)
	if err != nil {
		return err
	}
	for _, f := range fields {
		dst.Set(httpNames[f.Key], f.Value)
	}
	return nil
}

// ReadHTTPHeader decodes an X402 header from http.Header metadata.
func ReadHTTPHeader(src http.Header) (x402.Header, error) {
	var fields []Field
	for _, key := range fieldOrder {
		if v := src.Get(httpNames[key]); v != "" {
			fields = append(fields, Field{Key: key, Value: v})
		}
	}
	return Decode(fields)
}
