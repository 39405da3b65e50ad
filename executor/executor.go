// Package executor turns verified X402 headers into ledger submissions.
// It drives the first half of the payment lifecycle: Authorized on a
// successful authorize call, then Submitted (or Failed, or Expired)
// on submit. Everything after submission belongs to the tracker.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	x402 "github.com/smart402/x402-go"
	"github.com/smart402/x402-go/signer"
)

// Executor authorizes headers and submits their transfers to the ledger.
// Authorize and Submit may run concurrently across different headers;
// calling either twice for the same header or record is a caller error
// and is not deduplicated here.
type Executor struct {
	ledger     x402.LedgerClient
	registry   x402.ContractRegistry
	conditions x402.ConditionEvaluator
	nonces     *nonceWindow
	timeouts   x402.TimeoutConfig
	callback   x402.PaymentCallback
	now        func() time.Time
}

// Option configures an Executor.
type Option func(*Executor) error

// WithNonceWindow overrides the replay-detection window configuration.
func WithNonceWindow(cfg x402.NonceWindowConfig) Option {
	return func(e *Executor) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		e.nonces = newNonceWindow(cfg)
		return nil
	}
}

// WithTimeouts overrides the collaborator call timeouts.
func WithTimeouts(tc x402.TimeoutConfig) Option {
	return func(e *Executor) error {
		if err := tc.Validate(); err != nil {
			return err
		}
		e.timeouts = tc
		return nil
	}
}

// WithCallback registers a payment event callback.
func WithCallback(cb x402.PaymentCallback) Option {
	return func(e *Executor) error {
		e.callback = cb
		return nil
	}
}

// withClock overrides the time source. Test hook.
func withClock(now func() time.Time) Option {
	return func(e *Executor) error {
		e.now = now
		return nil
	}
}

// New builds an Executor over the given collaborators. The condition
// evaluator may be nil when contracts carry no conditions.
func New(ledger x402.LedgerClient, registry x402.ContractRegistry, conditions x402.ConditionEvaluator, opts ...Option) (*Executor, error) {
	if ledger == nil {
		return nil, fmt.Errorf("x402: executor requires a ledger client")
	}
	if registry == nil {
		return nil, fmt.Errorf("x402: executor requires a contract registry")
	}
	e := &Executor{
		ledger:     ledger,
		registry:   registry,
		conditions: conditions,
		nonces:     newNonceWindow(x402.DefaultNonceWindow),
		timeouts:   x402.DefaultTimeouts,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Authorize verifies a signed header, evaluates the required conditions,
// and checks the nonce for replay. On success it returns a record in the
// Authorized state; nothing has reached the ledger yet, so a caller may
// abandon the record with no side effect.
//
// Failures map to the protocol taxonomy: ErrUnverified wraps signature
// and deadline failures from the signer, ConditionsNotMetError lists the
// unmet condition ids, and ErrReplayedNonce rejects nonce reuse. The
// nonce is only burned on success, so a header refused for unmet
// conditions may be presented again once they hold.
func (e *Executor) Authorize(ctx context.Context, h x402.Header, required []string) (x402.PaymentRecord, error) {
	if _, err := signer.Verify(h); err != nil {
		return x402.PaymentRecord{}, fmt.Errorf("%w: %w", x402.ErrUnverified, err)
	}

	if len(required) > 0 {
		if e.conditions == nil {
			return x402.PaymentRecord{}, &x402.ConditionsNotMetError{Unmet: required}
		}
		unmet, err := e.conditions.Evaluate(ctx, h.ContractID, required)
		if err != nil {
			return x402.PaymentRecord{}, fmt.Errorf("x402: condition evaluation: %w", err)
		}
		if len(unmet) > 0 {
			return x402.PaymentRecord{}, &x402.ConditionsNotMetError{Unmet: unmet}
		}
	}

	now := e.now()
	if !e.nonces.register(h.Payer, h.Nonce, now) {
		return x402.PaymentRecord{}, x402.ErrReplayedNonce
	}

	rec := x402.PaymentRecord{
		ID:        x402.NewRecordID(),
		Header:    h,
		CreatedAt: now,
		State:     x402.StateAuthorized,
	}
	e.emit(x402.PaymentEventAuthorized, rec, nil)
	return rec, nil
}

// Submit builds the transfer instruction for an authorized record and
// submits it to the ledger exactly once. The record transitions to
// Submitted on acceptance, to Failed with the ledger's reason on a
// synchronous rejection, and to Expired without any ledger contact if
// the deadline lapsed since authorization. Submit on a record that is
// not Authorized is rejected without touching the ledger; retrying a
// rejected submission is the caller's decision, never done here.
func (e *Executor) Submit(ctx context.Context, rec x402.PaymentRecord) (x402.PaymentRecord, error) {
	if rec.State != x402.StateAuthorized {
		return rec, x402.ErrNotAuthorized
	}

	now := e.now()
	if rec.Header.Expired(now) {
		rec.State = x402.StateExpired
		e.emit(x402.PaymentEventExpired, rec, x402.ErrDeadlineExpired)
		return rec, x402.ErrDeadlineExpired
	}

	terms, err := e.registry.GetTerms(ctx, rec.Header.ContractID)
	if err != nil {
		rec.State = x402.StateFailed
		rec.FailureReason = err.Error()
		e.emit(x402.PaymentEventFailed, rec, err)
		return rec, err
	}

	tx := buildTransfer(rec.Header, terms.Recipient)

	submitCtx, cancel := context.WithTimeout(ctx, e.timeouts.SubmitTimeout)
	defer cancel()

	txID, err := e.ledger.SubmitTransfer(submitCtx, tx)
	if err != nil {
		rec.State = x402.StateFailed
		rec.FailureReason = submitReason(err)
		e.emit(x402.PaymentEventFailed, rec, err)
		return rec, err
	}

	rec.LedgerTxID = txID
	rec.SubmittedAt = now
	rec.State = x402.StateSubmitted
	e.emit(x402.PaymentEventSubmitted, rec, nil)
	return rec, nil
}

// buildTransfer maps a header onto the abstract transfer instruction,
// branching on the asset kind. Both branches share the instruction
// shape; any chain-specific encoding is the ledger client's concern.
func buildTransfer(h x402.Header, recipient string) x402.TransferInstruction {
	tx := x402.TransferInstruction{
		From:   h.Payer,
		To:     recipient,
		Amount: h.Amount,
	}
	if h.Asset.IsNative() {
		tx.Asset = x402.AssetNative
	} else {
		tx.Asset = x402.Asset(h.Asset.TokenID())
	}
	return tx
}

func submitReason(err error) string {
	var submitErr *x402.SubmitError
	if errors.As(err, &submitErr) {
		return submitErr.Reason
	}
	return err.Error()
}

func (e *Executor) emit(typ x402.PaymentEventType, rec x402.PaymentRecord, err error) {
	if e.callback == nil {
		return
	}
	e.callback(x402.PaymentEvent{
		Type:       typ,
		Timestamp:  e.now(),
		RecordID:   rec.ID,
		ContractID: rec.Header.ContractID,
		Payer:      rec.Header.Payer,
		Amount:     rec.Header.Amount,
		Asset:      rec.Header.Asset,
		LedgerTxID: rec.LedgerTxID,
		Err:        err,
	})
}
