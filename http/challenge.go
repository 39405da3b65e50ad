// Package http carries the X402 header contract over HTTP: a client
// transport that answers 402 challenges with signed payment headers,
// and provider middleware that gates handlers on authorization and
// settlement.
package http

import (
	"net/http"
	"strconv"
	"strings"

	x402 "github.com/smart402/x402-go"
	"github.com/smart402/x402-go/encoding"
)

// Challenge response headers. A 402 response advertises the terms the
// provider will accept; the client answers with the X402-* request
// headers from the encoding package.
const (
	challengeContractID = "X402-Contract-Id"
	challengePayer      = "X402-Payer-Address"
	challengeAsset      = "X402-Asset"
	challengeAmount     = "X402-Amount"
	challengeDeadline   = "X402-Deadline"
	challengeConditions = "X402-Conditions"

	// ErrorHeader carries the rejection reason on a refused payment.
	ErrorHeader = "X402-Error"

	// RecordHeader carries the payment record id on an accepted payment.
	RecordHeader = "X402-Payment-Record"

	// StateHeader carries the payment state on an accepted payment.
	StateHeader = "X402-Payment-State"
)

// WriteChallenge writes a 402 response advertising the given terms and
// required condition ids.
func WriteChallenge(w http.ResponseWriter, terms x402.PaymentTerms, conditions []string, reason string) {
	h := w.Header()
	h.Set(challengeContractID, terms.ContractID)
	h.Set(challengeAsset, string(terms.Asset))
	h.Set(challengeAmount, terms.Amount)
	if terms.Payer != "" {
		h.Set(challengePayer, terms.Payer)
	}
	if terms.Deadline != 0 {
		h.Set(challengeDeadline, strconv.FormatInt(terms.Deadline, 10))
	}
	if len(conditions) > 0 {
		h.Set(challengeConditions, strings.Join(conditions, ","))
	}
	if reason != "" {
		h.Set(ErrorHeader, reason)
	}
	w.WriteHeader(http.StatusPaymentRequired)
}

// ParseChallenge reads the advertised terms back out of a 402 response.
func ParseChallenge(resp *http.Response) (x402.PaymentTerms, error) {
	h := resp.Header

	contractID := h.Get(challengeContractID)
	if contractID == "" {
		return x402.PaymentTerms{}, &x402.DecodeError{Field: encoding.KeyContractID, Err: x402.ErrMissingField}
	}
	asset := h.Get(challengeAsset)
	if asset == "" {
		return x402.PaymentTerms{}, &x402.DecodeError{Field: encoding.KeyAsset, Err: x402.ErrMissingField}
	}
	amount, err := x402.CanonicalAmount(h.Get(challengeAmount))
	if err != nil {
		return x402.PaymentTerms{}, &x402.DecodeError{Field: encoding.KeyAmount, Err: x402.ErrMalformedValue}
	}

	terms := x402.PaymentTerms{
		ContractID: contractID,
		Payer:      h.Get(challengePayer),
		Asset:      x402.Asset(asset),
		Amount:     amount,
	}
	if raw := h.Get(challengeDeadline); raw != "" {
		deadline, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || deadline <= 0 {
			return x402.PaymentTerms{}, &x402.DecodeError{Field: encoding.KeyDeadline, Err: x402.ErrMalformedValue}
		}
		terms.Deadline = deadline
	}
	return terms, nil
}
