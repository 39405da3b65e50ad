// Package batch aggregates authorized payments that share a payer,
// recipient, and asset into single ledger submissions, amortizing the
// fixed settlement overhead across the folded entries.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	x402 "github.com/smart402/x402-go"
)

// GroupKey identifies a settlement queue: entries are aggregated only
// when payer, recipient, and asset all match.
type GroupKey struct {
	Payer     string
	Recipient string
	Asset     x402.Asset
}

// Settler queues authorized records and settles each grouping key with
// one aggregate transfer. Enqueue and Flush are safe for concurrent use;
// a flush drains its queue under the lock before submitting, so an entry
// is never lost mid-flush and never settled twice.
type Settler struct {
	ledger   x402.LedgerClient
	registry x402.ContractRegistry
	cfg      x402.BatchConfig
	timeouts x402.TimeoutConfig
	callback x402.PaymentCallback
	now      func() time.Time

	mu     sync.Mutex
	queues map[GroupKey][]x402.BatchEntry
}

// Option configures a Settler.
type Option func(*Settler) error

// WithTimeouts overrides the collaborator call timeouts.
func WithTimeouts(tc x402.TimeoutConfig) Option {
	return func(s *Settler) error {
		if err := tc.Validate(); err != nil {
			return err
		}
		s.timeouts = tc
		return nil
	}
}

// WithCallback registers a payment event callback.
func WithCallback(cb x402.PaymentCallback) Option {
	return func(s *Settler) error {
		s.callback = cb
		return nil
	}
}

// withClock overrides the time source. Test hook.
func withClock(now func() time.Time) Option {
	return func(s *Settler) error {
		s.now = now
		return nil
	}
}

// New builds a Settler. The config's size and age triggers feed DueKeys;
// when both are zero, flushing is entirely explicit.
func New(ledger x402.LedgerClient, registry x402.ContractRegistry, cfg x402.BatchConfig, opts ...Option) (*Settler, error) {
	if ledger == nil {
		return nil, fmt.Errorf("x402: settler requires a ledger client")
	}
	if registry == nil {
		return nil, fmt.Errorf("x402: settler requires a contract registry")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Settler{
		ledger:   ledger,
		registry: registry,
		cfg:      cfg,
		timeouts: x402.DefaultTimeouts,
		now:      time.Now,
		queues:   make(map[GroupKey][]x402.BatchEntry),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Enqueue queues an authorized record for aggregated settlement. The
// record must be in the Authorized state, i.e. its header has already
// passed executor authorization; anything else is rejected with
// ErrNotAuthorized. The entry's grouping key is resolved through the
// contract registry.
func (s *Settler) Enqueue(ctx context.Context, rec x402.PaymentRecord) (x402.BatchEntry, error) {
	if rec.State != x402.StateAuthorized {
		return x402.BatchEntry{}, x402.ErrNotAuthorized
	}

	terms, err := s.registry.GetTerms(ctx, rec.Header.ContractID)
	if err != nil {
		return x402.BatchEntry{}, err
	}

	entry := x402.BatchEntry{
		Header:     rec.Header,
		Amount:     rec.Header.Amount,
		EnqueuedAt: s.now(),
	}
	key := GroupKey{Payer: rec.Header.Payer, Recipient: terms.Recipient, Asset: rec.Header.Asset}

	s.mu.Lock()
	s.queues[key] = append(s.queues[key], entry)
	s.mu.Unlock()

	return entry, nil
}

// Pending returns a snapshot of the entries queued under a grouping key.
func (s *Settler) Pending(key GroupKey) []x402.BatchEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]x402.BatchEntry(nil), s.queues[key]...)
}

// Keys returns every grouping key with queued entries.
func (s *Settler) Keys() []GroupKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]GroupKey, 0, len(s.queues))
	for key := range s.queues {
		keys = append(keys, key)
	}
	return keys
}

// DueKeys returns the grouping keys whose queues hit a configured flush
// trigger: MaxEntries entries queued, or an oldest entry older than
// MaxAge. With neither trigger configured it returns nothing; flushing
// is then entirely the caller's call.
func (s *Settler) DueKeys() []GroupKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []GroupKey
	for key, entries := range s.queues {
		if len(entries) == 0 {
			continue
		}
		if s.cfg.MaxEntries > 0 && len(entries) >= s.cfg.MaxEntries {
			due = append(due, key)
			continue
		}
		if s.cfg.MaxAge > 0 && now.Sub(entries[0].EnqueuedAt) >= s.cfg.MaxAge {
			due = append(due, key)
		}
	}
	return due
}

// Flush drains the queue for a grouping key and submits one aggregate
// transfer whose amount is the exact decimal sum of the entry amounts.
// The folded entries are attached to the resulting record's
// SettledEntries, whether the submission succeeded (Submitted, ready for
// tracking) or was rejected by the ledger (Failed). Entries enqueued
// after the drain fall into the next batch. An empty queue fails with
// ErrEmptyBatch.
func (s *Settler) Flush(ctx context.Context, key GroupKey) (x402.PaymentRecord, error) {
	s.mu.Lock()
	entries := s.queues[key]
	delete(s.queues, key)
	s.mu.Unlock()

	if len(entries) == 0 {
		return x402.PaymentRecord{}, x402.ErrEmptyBatch
	}

	amounts := make([]string, len(entries))
	for i, e := range entries {
		amounts[i] = e.Amount
	}
	total, err := x402.SumAmounts(amounts...)
	if err != nil {
		return x402.PaymentRecord{}, err
	}

	now := s.now()
	rec := x402.PaymentRecord{
		ID: x402.NewRecordID(),
		// Aggregate records carry a synthetic unsigned header describing
		// the combined transfer; the signed per-entry headers live in
		// SettledEntries.
		Header: x402.Header{
			Version: x402.ProtocolVersion,
			Payer:   key.Payer,
			Asset:   key.Asset,
			Amount:  total,
			Nonce:   x402.NewNonce(),
		},
		CreatedAt:      now,
		State:          x402.StateAuthorized,
		SettledEntries: entries,
	}

	tx := x402.TransferInstruction{
		From:   key.Payer,
		To:     key.Recipient,
		Asset:  key.Asset,
		Amount: total,
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.timeouts.SubmitTimeout)
	defer cancel()

	txID, err := s.ledger.SubmitTransfer(submitCtx, tx)
	if err != nil {
		rec.State = x402.StateFailed
		rec.FailureReason = err.Error()
		s.emit(x402.PaymentEventFailed, rec, err)
		return rec, err
	}

	rec.LedgerTxID = txID
	rec.SubmittedAt = now
	rec.State = x402.StateSubmitted
	s.emit(x402.PaymentEventSubmitted, rec, nil)
	return rec, nil
}

// FlushDue flushes every grouping key currently hitting a configured
// trigger and returns the resulting records. The first submission error
// stops the pass and is returned alongside the records produced so far.
func (s *Settler) FlushDue(ctx context.Context) ([]x402.PaymentRecord, error) {
	var out []x402.PaymentRecord
	for _, key := range s.DueKeys() {
		rec, err := s.Flush(ctx, key)
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Settler) emit(typ x402.PaymentEventType, rec x402.PaymentRecord, err error) {
	if s.callback == nil {
		return
	}
	s.callback(x402.PaymentEvent{
		Type:       typ,
		Timestamp:  s.now(),
		RecordID:   rec.ID,
		Payer:      rec.Header.Payer,
		Amount:     rec.Header.Amount,
		Asset:      rec.Header.Asset,
		LedgerTxID: rec.LedgerTxID,
		Err:        err,
	})
}
