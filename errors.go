package x402

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for X402 protocol operations.
var (
	// ErrInvalidAmount indicates a malformed amount string.
	ErrInvalidAmount = errors.New("x402: invalid amount")

	// ErrNonPositiveAmount indicates an amount that is zero or negative.
	ErrNonPositiveAmount = errors.New("x402: amount must be positive")

	// ErrAmountExceeded indicates a challenge amount above the caller's
	// configured per-payment limit.
	ErrAmountExceeded = errors.New("x402: payment amount exceeds per-payment limit")

	// ErrMissingNonce indicates a header without a nonce.
	ErrMissingNonce = errors.New("x402: missing nonce")

	// ErrMissingField indicates a required header field is absent.
	ErrMissingField = errors.New("x402: missing header field")

	// ErrMalformedValue indicates a header field failed to parse.
	ErrMalformedValue = errors.New("x402: malformed header value")

	// ErrAlreadySigned indicates an attempt to re-sign a signed header.
	// Headers are single-use; a fresh nonce and deadline require a fresh header.
	ErrAlreadySigned = errors.New("x402: header already signed")

	// ErrDeadlineExpired indicates the header deadline is in the past.
	ErrDeadlineExpired = errors.New("x402: header deadline expired")

	// ErrSignatureMismatch indicates the recovered signer does not match
	// the payer address claimed in the header.
	ErrSignatureMismatch = errors.New("x402: signature does not match payer")

	// ErrMalformedSignature indicates a missing or wrong-length signature.
	ErrMalformedSignature = errors.New("x402: malformed signature")

	// ErrInvalidKey indicates an invalid private key.
	ErrInvalidKey = errors.New("x402: invalid private key")

	// ErrUnverified indicates authorization was refused because the header
	// failed signature or deadline verification.
	ErrUnverified = errors.New("x402: header verification failed")

	// ErrConditionsNotMet indicates required contract conditions are unmet.
	ErrConditionsNotMet = errors.New("x402: payment conditions not met")

	// ErrReplayedNonce indicates the header nonce was already accepted.
	ErrReplayedNonce = errors.New("x402: replayed nonce")

	// ErrNotAuthorized indicates an operation that requires a record in
	// the Authorized state.
	ErrNotAuthorized = errors.New("x402: record is not in authorized state")

	// ErrNotSubmitted indicates an operation that requires a record in
	// the Submitted state.
	ErrNotSubmitted = errors.New("x402: record is not in submitted state")

	// ErrAlreadyTracked indicates the record id is already registered
	// with the tracker.
	ErrAlreadyTracked = errors.New("x402: record already tracked")

	// ErrNotTerminal indicates a purge of a record that has not reached
	// a terminal state.
	ErrNotTerminal = errors.New("x402: record has not reached a terminal state")

	// ErrRecordNotFound indicates an unknown payment record id.
	ErrRecordNotFound = errors.New("x402: payment record not found")

	// ErrContractNotFound indicates the registry has no such contract.
	ErrContractNotFound = errors.New("x402: contract not found")

	// ErrEmptyBatch indicates a flush on a grouping key with no entries.
	ErrEmptyBatch = errors.New("x402: no entries queued for grouping key")
)

// DecodeError reports which header field failed to decode. It wraps
// ErrMissingField or ErrMalformedValue so callers can branch with
// errors.Is while still naming the field.
type DecodeError struct {
	// Field is the wire key that failed.
	Field string

	// Err is ErrMissingField or ErrMalformedValue, possibly wrapped.
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Field)
}

// Unwrap returns the underlying sentinel.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ConditionsNotMetError lists the condition ids that blocked authorization.
// It wraps ErrConditionsNotMet.
type ConditionsNotMetError struct {
	// Unmet is the list of unmet condition ids.
	Unmet []string
}

// Error implements the error interface.
func (e *ConditionsNotMetError) Error() string {
	return fmt.Sprintf("x402: payment conditions not met: %s", strings.Join(e.Unmet, ", "))
}

// Unwrap returns ErrConditionsNotMet for errors.Is matching.
func (e *ConditionsNotMetError) Unwrap() error {
	return ErrConditionsNotMet
}

// SubmitError is returned by ledger clients that reject a transfer
// synchronously. The executor converts it into an immediate Failed
// transition, surfacing Reason verbatim.
type SubmitError struct {
	// Reason is a short ledger-reported reason, e.g. "malformed recipient".
	Reason string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *SubmitError) Error() string {
	if e.Err != nil {
		return "x402: ledger rejected transfer: " + e.Reason + ": " + e.Err.Error()
	}
	return "x402: ledger rejected transfer: " + e.Reason
}

// Unwrap returns the underlying error.
func (e *SubmitError) Unwrap() error {
	return e.Err
}
