package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	x402 "github.com/smart402/x402-go"
)

type receiptLedger struct {
	mu       sync.Mutex
	receipts map[string]*x402.Receipt
	err      error
	queries  int
}

func (l *receiptLedger) SubmitTransfer(context.Context, x402.TransferInstruction) (string, error) {
	return "", errors.New("not used")
}

func (l *receiptLedger) GetReceipt(_ context.Context, txID string) (*x402.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries++
	if l.err != nil {
		return nil, l.err
	}
	return l.receipts[txID], nil
}

func (l *receiptLedger) set(txID string, r *x402.Receipt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.receipts == nil {
		l.receipts = make(map[string]*x402.Receipt)
	}
	l.receipts[txID] = r
}

func submittedRecord(id, txID string, at time.Time) x402.PaymentRecord {
	return x402.PaymentRecord{
		ID: id,
		Header: x402.Header{
			Version:    x402.ProtocolVersion,
			ContractID: "contract-1",
			Payer:      "0xabc",
			Asset:      x402.AssetNative,
			Amount:     "1.5",
			Nonce:      "n-" + id,
			Signature:  "0xsig",
		},
		State:       x402.StateSubmitted,
		LedgerTxID:  txID,
		SubmittedAt: at,
	}
}

func TestTrackValidation(t *testing.T) {
	trk, err := New(&receiptLedger{}, x402.DefaultTrackerConfig)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	rec := submittedRecord("rec-1", "tx-1", time.Now())

	authorized := rec
	authorized.State = x402.StateAuthorized
	if err := trk.Track(authorized); !errors.Is(err, x402.ErrNotSubmitted) {
		t.Errorf("Track(authorized) error = %v; want ErrNotSubmitted", err)
	}

	noTx := rec
	noTx.LedgerTxID = ""
	if err := trk.Track(noTx); !errors.Is(err, x402.ErrNotSubmitted) {
		t.Errorf("Track(no tx id) error = %v; want ErrNotSubmitted", err)
	}

	if err := trk.Track(rec); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if err := trk.Track(rec); !errors.Is(err, x402.ErrAlreadyTracked) {
		t.Errorf("duplicate Track() error = %v; want ErrAlreadyTracked", err)
	}
}

func TestCheckStatusNeverQueriesLedger(t *testing.T) {
	ledger := &receiptLedger{}
	trk, err := New(ledger, x402.DefaultTrackerConfig)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := trk.Track(submittedRecord("rec-1", "tx-1", time.Now())); err != nil {
		t.Fatalf("Track() error = %v", err)
	}

	rec, err := trk.CheckStatus("rec-1")
	if err != nil {
		t.Fatalf("CheckStatus() error = %v", err)
	}
	if rec.State != x402.StateSubmitted {
		t.Errorf("State = %s; want %s", rec.State, x402.StateSubmitted)
	}
	if ledger.queries != 0 {
		t.Errorf("ledger queries = %d during CheckStatus; want 0", ledger.queries)
	}

	if _, err := trk.CheckStatus("unknown"); !errors.Is(err, x402.ErrRecordNotFound) {
		t.Errorf("CheckStatus(unknown) error = %v; want ErrRecordNotFound", err)
	}
}

func TestPollConfirms(t *testing.T) {
	var events []x402.PaymentEvent
	ledger := &receiptLedger{}
	trk, err := New(ledger,
		x402.DefaultTrackerConfig.WithConfirmationThreshold(2),
		WithCallback(func(ev x402.PaymentEvent) { events = append(events, ev) }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := trk.Track(submittedRecord("rec-1", "tx-1", time.Now())); err != nil {
		t.Fatalf("Track() error = %v", err)
	}

	// Below threshold: still submitted.
	ledger.set("tx-1", &x402.Receipt{Confirmations: 1, Success: true})
	if err := trk.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}
	rec, _ := trk.CheckStatus("rec-1")
	if rec.State != x402.StateSubmitted {
		t.Fatalf("State = %s after 1 confirmation; want %s", rec.State, x402.StateSubmitted)
	}
	if rec.Confirmations != 1 {
		t.Errorf("Confirmations = %d; want 1", rec.Confirmations)
	}

	// At threshold: confirmed with the fee recorded.
	ledger.set("tx-1", &x402.Receipt{Confirmations: 2, Success: true, Fee: "0.001"})
	if err := trk.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}
	rec, _ = trk.CheckStatus("rec-1")
	if rec.State != x402.StateConfirmed {
		t.Fatalf("State = %s; want %s", rec.State, x402.StateConfirmed)
	}
	if rec.FeePaid != "0.001" {
		t.Errorf("FeePaid = %q; want \"0.001\"", rec.FeePaid)
	}

	if len(events) != 1 || events[0].Type != x402.PaymentEventConfirmed {
		t.Errorf("events = %+v; want one confirmed event", events)
	}

	// Terminal records are not polled again.
	before := ledger.queries
	if err := trk.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}
	if ledger.queries != before {
		t.Error("confirmed record was polled again")
	}
}

func TestPollOnChainFailure(t *testing.T) {
	ledger := &receiptLedger{}
	trk, err := New(ledger, x402.DefaultTrackerConfig)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := trk.Track(submittedRecord("rec-1", "tx-1", time.Now())); err != nil {
		t.Fatalf("Track() error = %v", err)
	}

	ledger.set("tx-1", &x402.Receipt{Success: false, FailureReason: "reverted"})
	if err := trk.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}

	rec, _ := trk.CheckStatus("rec-1")
	if rec.State != x402.StateFailed {
		t.Fatalf("State = %s; want %s", rec.State, x402.StateFailed)
	}
	if rec.FailureReason != "reverted" {
		t.Errorf("FailureReason = %q; want \"reverted\"", rec.FailureReason)
	}
}

func TestPollTransientErrorLeavesRecord(t *testing.T) {
	ledger := &receiptLedger{err: errors.New("node unreachable")}
	trk, err := New(ledger, x402.DefaultTrackerConfig)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := trk.Track(submittedRecord("rec-1", "tx-1", time.Now())); err != nil {
		t.Fatalf("Track() error = %v", err)
	}

	if err := trk.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}

	rec, _ := trk.CheckStatus("rec-1")
	if rec.State != x402.StateSubmitted {
		t.Errorf("State = %s after transient error; want %s", rec.State, x402.StateSubmitted)
	}
}

func TestPollSettlementTimeout(t *testing.T) {
	submittedAt := time.Unix(1_700_000_000, 0)
	clock := submittedAt
	ledger := &receiptLedger{}
	trk, err := New(ledger,
		x402.DefaultTrackerConfig.WithSettlementTimeout(10*time.Minute),
		withClock(func() time.Time { return clock }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := trk.Track(submittedRecord("rec-1", "tx-1", submittedAt)); err != nil {
		t.Fatalf("Track() error = %v", err)
	}

	// Inside the window with no receipt: still submitted.
	clock = submittedAt.Add(5 * time.Minute)
	if err := trk.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}
	rec, _ := trk.CheckStatus("rec-1")
	if rec.State != x402.StateSubmitted {
		t.Fatalf("State = %s inside the window; want %s", rec.State, x402.StateSubmitted)
	}

	// Past the window: failed with the timeout reason.
	clock = submittedAt.Add(11 * time.Minute)
	if err := trk.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}
	rec, _ = trk.CheckStatus("rec-1")
	if rec.State != x402.StateFailed {
		t.Fatalf("State = %s past the window; want %s", rec.State, x402.StateFailed)
	}
	if rec.FailureReason != TimeoutReason {
		t.Errorf("FailureReason = %q; want %q", rec.FailureReason, TimeoutReason)
	}
}

func TestPurge(t *testing.T) {
	ledger := &receiptLedger{}
	trk, err := New(ledger, x402.DefaultTrackerConfig)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := trk.Track(submittedRecord("rec-1", "tx-1", time.Now())); err != nil {
		t.Fatalf("Track() error = %v", err)
	}

	if err := trk.Purge("rec-1"); !errors.Is(err, x402.ErrNotTerminal) {
		t.Errorf("Purge(in-flight) error = %v; want ErrNotTerminal", err)
	}
	if err := trk.Purge("unknown"); !errors.Is(err, x402.ErrRecordNotFound) {
		t.Errorf("Purge(unknown) error = %v; want ErrRecordNotFound", err)
	}

	ledger.set("tx-1", &x402.Receipt{Confirmations: 1, Success: true})
	if err := trk.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}
	if err := trk.Purge("rec-1"); err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if _, err := trk.CheckStatus("rec-1"); !errors.Is(err, x402.ErrRecordNotFound) {
		t.Errorf("CheckStatus after purge error = %v; want ErrRecordNotFound", err)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	trk, err := New(&receiptLedger{}, x402.DefaultTrackerConfig)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rec := submittedRecord("rec-1", "tx-1", time.Now())
	rec.SettledEntries = []x402.BatchEntry{{Amount: "1.5"}}
	if err := trk.Track(rec); err != nil {
		t.Fatalf("Track() error = %v", err)
	}

	snaps := trk.Snapshot()
	if len(snaps) != 1 {
		t.Fatalf("Snapshot() returned %d records; want 1", len(snaps))
	}

	// Mutating the snapshot does not reach the tracked record.
	snaps[0].State = x402.StateFailed
	snaps[0].SettledEntries[0].Amount = "999"

	got, _ := trk.CheckStatus("rec-1")
	if got.State != x402.StateSubmitted {
		t.Error("snapshot mutation leaked into the tracked record state")
	}
	if got.SettledEntries[0].Amount != "1.5" {
		t.Error("snapshot mutation leaked into the tracked entries")
	}
}
