package x402

import "time"

// PaymentEventType represents the type of payment lifecycle event.
type PaymentEventType string

const (
	// PaymentEventAuthorized indicates a header passed authorization.
	PaymentEventAuthorized PaymentEventType = "authorized"

	// PaymentEventSubmitted indicates a transfer reached the ledger.
	PaymentEventSubmitted PaymentEventType = "submitted"

	// PaymentEventConfirmed indicates a settlement confirmed.
	PaymentEventConfirmed PaymentEventType = "confirmed"

	// PaymentEventFailed indicates a settlement failed.
	PaymentEventFailed PaymentEventType = "failed"

	// PaymentEventExpired indicates an authorization lapsed unsubmitted.
	PaymentEventExpired PaymentEventType = "expired"
)

// PaymentEvent is a payment lifecycle notification. Both the executor
// and the tracker emit these so callers can hook logging, webhooks, or
// monitoring without polling record state.
type PaymentEvent struct {
	// Type is the event type.
	Type PaymentEventType

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// RecordID identifies the payment record.
	RecordID string

	// ContractID identifies the contract being paid under.
	ContractID string

	// Payer is the authorizing address.
	Payer string

	// Amount is the payment amount in canonical decimal form.
	Amount string

	// Asset is the transferred asset.
	Asset Asset

	// LedgerTxID is the ledger transaction id, when one exists.
	LedgerTxID string

	// FeePaid is the settlement fee, available on confirmation.
	FeePaid string

	// Err carries the failure cause, available on failure.
	Err error
}

// PaymentCallback handles payment events. Callbacks run synchronously on
// the emitting goroutine and should return quickly; spawn a goroutine
// for anything slow.
type PaymentCallback func(PaymentEvent)
