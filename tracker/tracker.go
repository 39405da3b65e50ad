// Package tracker owns the authoritative lifecycle of every in-flight
// payment record. Records enter as Submitted, are advanced by receipt
// polling sweeps, and are retained in their terminal state until the
// caller purges them. No other component mutates a tracked record; the
// rest of the system observes snapshots by value.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	x402 "github.com/smart402/x402-go"
)

// TimeoutReason is the failure reason recorded when a submitted record
// never confirms inside the configured settlement window. The chain-side
// transaction may still confirm later; callers seeing this reason should
// re-query the ledger directly.
const TimeoutReason = "timeout"

// Tracker polls the ledger for receipts and transitions tracked records
// through the payment lifecycle. Poll sweeps are serialized internally,
// so a scheduler may tick PollOnce without coordinating callers.
type Tracker struct {
	ledger   x402.LedgerClient
	cfg      x402.TrackerConfig
	timeouts x402.TimeoutConfig
	callback x402.PaymentCallback
	log      *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	records map[string]*x402.PaymentRecord

	pollMu sync.Mutex
}

// Option configures a Tracker.
type Option func(*Tracker) error

// WithTimeouts overrides the collaborator call timeouts.
func WithTimeouts(tc x402.TimeoutConfig) Option {
	return func(t *Tracker) error {
		if err := tc.Validate(); err != nil {
			return err
		}
		t.timeouts = tc
		return nil
	}
}

// WithCallback registers a payment event callback.
func WithCallback(cb x402.PaymentCallback) Option {
	return func(t *Tracker) error {
		t.callback = cb
		return nil
	}
}

// WithLogger overrides the slog logger used for sweep diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(t *Tracker) error {
		t.log = log
		return nil
	}
}

// withClock overrides the time source. Test hook.
func withClock(now func() time.Time) Option {
	return func(t *Tracker) error {
		t.now = now
		return nil
	}
}

// New builds a Tracker over the given ledger client.
func New(ledger x402.LedgerClient, cfg x402.TrackerConfig, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Tracker{
		ledger:   ledger,
		cfg:      cfg,
		timeouts: x402.DefaultTimeouts,
		log:      slog.Default(),
		now:      time.Now,
		records:  make(map[string]*x402.PaymentRecord),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Track registers a Submitted record for receipt polling. The tracker
// takes exclusive ownership of the record from this point on. Records
// in any other state are rejected with ErrNotSubmitted, and a duplicate
// id with ErrAlreadyTracked.
func (t *Tracker) Track(rec x402.PaymentRecord) error {
	if rec.State != x402.StateSubmitted {
		return x402.ErrNotSubmitted
	}
	if rec.LedgerTxID == "" {
		return x402.ErrNotSubmitted
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.records[rec.ID]; exists {
		return x402.ErrAlreadyTracked
	}
	copied := rec
	t.records[rec.ID] = &copied
	recordsInFlight.Inc()
	return nil
}

// CheckStatus returns a snapshot of the record's current state. It is
// read-only and never touches the ledger.
func (t *Tracker) CheckStatus(recordID string) (x402.PaymentRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[recordID]
	if !ok {
		return x402.PaymentRecord{}, x402.ErrRecordNotFound
	}
	return snapshot(rec), nil
}

// Snapshot returns value copies of every tracked record.
func (t *Tracker) Snapshot() []x402.PaymentRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]x402.PaymentRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, snapshot(rec))
	}
	return out
}

// Purge removes a terminal record from the tracker. Retention policy is
// the caller's: records are kept until purged. Purging a record that is
// still in flight fails with ErrNotTerminal.
func (t *Tracker) Purge(recordID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[recordID]
	if !ok {
		return x402.ErrRecordNotFound
	}
	if !rec.State.Terminal() {
		return x402.ErrNotTerminal
	}
	delete(t.records, recordID)
	return nil
}

// PollOnce sweeps every Submitted record once, querying the ledger for a
// receipt and applying at most one lifecycle transition per record:
//
//   - receipt with confirmations at or above the threshold: Confirmed,
//     fee recorded
//   - receipt reporting on-chain failure: Failed with the ledger's reason
//   - no receipt, or confirmations still below threshold: remains
//     Submitted, unless the settlement timeout has elapsed, in which case
//     Failed with reason "timeout"
//
// At most one sweep runs at a time; concurrent calls queue behind the
// running one. Transient receipt-query errors leave the record untouched
// for the next sweep.
func (t *Tracker) PollOnce(ctx context.Context) error {
	t.pollMu.Lock()
	defer t.pollMu.Unlock()

	for _, id := range t.submittedIDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.pollRecord(ctx, id)
	}
	return nil
}

// submittedIDs snapshots the ids needing a receipt query.
func (t *Tracker) submittedIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.records))
	for id, rec := range t.records {
		if rec.State == x402.StateSubmitted {
			ids = append(ids, id)
		}
	}
	return ids
}

func (t *Tracker) pollRecord(ctx context.Context, id string) {
	t.mu.Lock()
	rec, ok := t.records[id]
	if !ok || rec.State != x402.StateSubmitted {
		t.mu.Unlock()
		return
	}
	txID := rec.LedgerTxID
	t.mu.Unlock()

	receiptCtx, cancel := context.WithTimeout(ctx, t.timeouts.ReceiptTimeout)
	receipt, err := t.ledger.GetReceipt(receiptCtx, txID)
	cancel()
	if err != nil {
		pollErrors.Inc()
		t.log.Warn("receipt query failed", "record_id", id, "tx_id", txID, "error", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok = t.records[id]
	if !ok || rec.State != x402.StateSubmitted {
		return
	}

	now := t.now()
	if receipt != nil {
		rec.Confirmations = receipt.Confirmations
		switch {
		case !receipt.Success:
			reason := receipt.FailureReason
			if reason == "" {
				reason = "transaction failed on chain"
			}
			t.failLocked(rec, reason, "onchain")
			return
		case receipt.Confirmations >= t.cfg.ConfirmationThreshold:
			rec.State = x402.StateConfirmed
			rec.FeePaid = receipt.Fee
			settlementsConfirmed.Inc()
			recordsInFlight.Dec()
			settlementLatency.Observe(now.Sub(rec.SubmittedAt).Seconds())
			t.emit(x402.PaymentEventConfirmed, rec, nil)
			return
		}
	}

	if now.Sub(rec.SubmittedAt) > t.cfg.SettlementTimeout {
		t.failLocked(rec, TimeoutReason, "timeout")
	}
}

// failLocked transitions a record to Failed. Caller holds t.mu. The
// metric label is fixed-cardinality; the record keeps the full reason.
func (t *Tracker) failLocked(rec *x402.PaymentRecord, reason, label string) {
	rec.State = x402.StateFailed
	rec.FailureReason = reason
	settlementsFailed.WithLabelValues(label).Inc()
	recordsInFlight.Dec()
	t.emit(x402.PaymentEventFailed, rec, nil)
}

func snapshot(rec *x402.PaymentRecord) x402.PaymentRecord {
	out := *rec
	if len(rec.SettledEntries) > 0 {
		out.SettledEntries = append([]x402.BatchEntry(nil), rec.SettledEntries...)
	}
	return out
}

func (t *Tracker) emit(typ x402.PaymentEventType, rec *x402.PaymentRecord, err error) {
	if t.callback == nil {
		return
	}
	t.callback(x402.PaymentEvent{
		Type:       typ,
		Timestamp:  t.now(),
		RecordID:   rec.ID,
		ContractID: rec.Header.ContractID,
		Payer:      rec.Header.Payer,
		Amount:     rec.Header.Amount,
		Asset:      rec.Header.Asset,
		LedgerTxID: rec.LedgerTxID,
		FeePaid:    rec.FeePaid,
		Err:        err,
	})
}
