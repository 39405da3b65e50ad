// Package x402 implements the X402 payment authorization protocol:
// HTTP-header-carried, blockchain-settled payment authorizations.
//
// A caller obtains PaymentTerms for a contract, constructs a Header,
// signs it (signer package), and presents it with a request. The
// provider verifies the header, evaluates the contract's conditions,
// and settles either directly (executor package) or in aggregate
// (batch package). The tracker package owns every in-flight
// PaymentRecord until it reaches a terminal state.
//
// Import path: github.com/smart402/x402-go
package x402

import (
	"time"
)

// ProtocolVersion is the X402 header protocol version emitted by this library.
const ProtocolVersion = "1.0"

// Asset identifies what is being transferred: the native ledger asset or
// a fungible token. The wire form is "native" or the token identifier.
type Asset string

// AssetNative is the ledger's native asset.
const AssetNative Asset = "native"

// IsNative reports whether the asset is the ledger's native asset.
func (a Asset) IsNative() bool {
	return a == AssetNative
}

// TokenID returns the fungible token identifier, or "" for the native asset.
func (a Asset) TokenID() string {
	if a.IsNative() {
		return ""
	}
	return string(a)
}

// PaymentTerms are the payment terms a contract registry resolves for a
// contract. Terms are immutable; this library only reads them.
type PaymentTerms struct {
	// ContractID identifies the contract the terms belong to.
	ContractID string

	// Payer is the address expected to sign authorizations for this contract.
	Payer string

	// Recipient is the settlement address.
	Recipient string

	// Amount is the payment amount as a fixed-point decimal string.
	// Never a float.
	Amount string

	// Asset is what the payment transfers.
	Asset Asset

	// Deadline is an absolute unix timestamp after which authorizations
	// are no longer acceptable. Zero means no deadline.
	Deadline int64
}

// Header is a single payment authorization. It is constructed fresh per
// authorization and must not be reused: presenting a header whose nonce
// has already been accepted is a protocol violation and is rejected with
// ErrReplayedNonce. A Header is treated as immutable once signed; the
// signer returns a signed copy rather than mutating in place.
type Header struct {
	// Version is the protocol version, e.g. "1.0".
	Version string

	// ContractID identifies the contract being paid under.
	ContractID string

	// Payer is the address the signature must recover to.
	Payer string

	// Asset is "native" or a fungible token identifier.
	Asset Asset

	// Amount is the authorized amount as a canonical decimal string
	// (no trailing zeros, no exponent notation).
	Amount string

	// Deadline is a unix timestamp; the authorization is invalid at or
	// after this instant. Zero means no deadline.
	Deadline int64

	// Nonce is unique per signed header and prevents replay.
	Nonce string

	// Signature is the hex-encoded signature over the canonical digest.
	// Empty until signed.
	Signature string
}

// Signed reports whether the header carries a signature.
func (h Header) Signed() bool {
	return h.Signature != ""
}

// Expired reports whether the header's deadline has passed at the given
// instant. Headers without a deadline never expire.
func (h Header) Expired(at time.Time) bool {
	return h.Deadline != 0 && !at.Before(time.Unix(h.Deadline, 0))
}

// ValidateForSigning checks the invariants a header must satisfy before
// it may be signed: a positive amount and, when a deadline is set, a
// deadline strictly in the future.
func (h Header) ValidateForSigning(now time.Time) error {
	amt, err := ParseAmount(h.Amount)
	if err != nil {
		return err
	}
	if amt.Sign() <= 0 {
		return ErrNonPositiveAmount
	}
	if h.Deadline != 0 && !now.Before(time.Unix(h.Deadline, 0)) {
		return ErrDeadlineExpired
	}
	if h.Nonce == "" {
		return ErrMissingNonce
	}
	return nil
}

// NewHeader builds an unsigned header for the given terms with a fresh
// random nonce. The amount is canonicalized; terms with a non-positive
// amount or an already-passed deadline are rejected.
func NewHeader(terms PaymentTerms) (Header, error) {
	amount, err := CanonicalAmount(terms.Amount)
	if err != nil {
		return Header{}, err
	}
	h := Header{
		Version:    ProtocolVersion,
		ContractID: terms.ContractID,
		Payer:      terms.Payer,
		Asset:      terms.Asset,
		Amount:     amount,
		Deadline:   terms.Deadline,
		Nonce:      NewNonce(),
	}
	if err := h.ValidateForSigning(time.Now()); err != nil {
		return Header{}, err
	}
	return h, nil
}

// PaymentState is the lifecycle state of a PaymentRecord.
type PaymentState string

const (
	// StateAuthorized means the header passed verification and condition
	// checks but nothing has reached the ledger yet.
	StateAuthorized PaymentState = "authorized"

	// StateSubmitted means a transfer has been submitted and is awaiting
	// confirmations.
	StateSubmitted PaymentState = "submitted"

	// StateConfirmed is the terminal success state.
	StateConfirmed PaymentState = "confirmed"

	// StateFailed is the terminal failure state; FailureReason is set.
	StateFailed PaymentState = "failed"

	// StateExpired is terminal: the deadline lapsed before submission.
	StateExpired PaymentState = "expired"
)

// Terminal reports whether the state is a sink: no record ever leaves
// Confirmed, Failed, or Expired.
func (s PaymentState) Terminal() bool {
	switch s {
	case StateConfirmed, StateFailed, StateExpired:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle permits moving to next.
func (s PaymentState) CanTransition(next PaymentState) bool {
	switch s {
	case StateAuthorized:
		return next == StateSubmitted || next == StateExpired || next == StateFailed
	case StateSubmitted:
		return next == StateConfirmed || next == StateFailed
	}
	return false
}

// PaymentRecord tracks one settlement from authorization to a terminal
// state. After submission the record is owned exclusively by the tracker;
// every other component observes it by value.
type PaymentRecord struct {
	// ID is the record identifier, unique within this process.
	ID string

	// Header is the originating authorization.
	Header Header

	// CreatedAt is when the record entered Authorized.
	CreatedAt time.Time

	// SubmittedAt is when the transfer reached the ledger client.
	SubmittedAt time.Time

	// State is the current lifecycle state.
	State PaymentState

	// LedgerTxID is the ledger transaction identifier, set once submitted.
	LedgerTxID string

	// Confirmations is the last observed confirmation count.
	Confirmations int

	// FeePaid is the settlement fee reported by the ledger, as a decimal
	// string. Set on confirmation.
	FeePaid string

	// FailureReason is set only in the Failed state.
	FailureReason string

	// SettledEntries holds the folded batch entries when the record was
	// produced by a batch flush; empty for direct settlements.
	SettledEntries []BatchEntry
}

// BatchEntry is one authorized header queued for aggregated settlement.
// Owned by the batch settler until folded into a submitted record, then
// read-only history on that record.
type BatchEntry struct {
	// Header is the authorized header.
	Header Header

	// Amount is the entry's requested amount (canonical decimal string).
	Amount string

	// EnqueuedAt is when the entry was queued.
	EnqueuedAt time.Time
}

// TransferInstruction is the abstract transfer handed to a ledger client.
// The native versus fungible-token distinction is carried by Asset; any
// chain-specific transaction format is the ledger client's concern.
type TransferInstruction struct {
	From   string
	To     string
	Asset  Asset
	Amount string
}

// Receipt reports the ledger-side outcome of a submitted transfer.
type Receipt struct {
	// Confirmations is the number of confirmations observed.
	Confirmations int

	// Success reports whether the transaction succeeded on chain.
	Success bool

	// Fee is the fee paid, as a decimal string.
	Fee string

	// BlockHeight is the block the transaction was included in.
	BlockHeight uint64

	// FailureReason carries the chain-reported reason when Success is false.
	FailureReason string
}
