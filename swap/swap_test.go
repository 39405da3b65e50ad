package swap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	x402 "github.com/smart402/x402-go"
)

type mockLedger struct {
	mu        sync.Mutex
	submits   []x402.TransferInstruction
	submitErr error
}

func (m *mockLedger) SubmitTransfer(_ context.Context, tx x402.TransferInstruction) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return "", m.submitErr
	}
	m.submits = append(m.submits, tx)
	return "tx-swap-1", nil
}

func (m *mockLedger) GetReceipt(context.Context, string) (*x402.Receipt, error) {
	return nil, nil
}

func (m *mockLedger) submitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submits)
}

type fixture struct {
	handler *Handler
	ledger  *mockLedger
	clock   time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		ledger: &mockLedger{},
		clock:  time.Unix(1_700_000_000, 0),
	}
	opts = append(opts, withClock(func() time.Time { return f.clock }))
	h, err := New(f.ledger, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.handler = h
	return f
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func (f *fixture) create(t *testing.T) (Contract, []byte) {
	t.Helper()
	c, secret, err := f.handler.Create("0xsender", "0xreceiver", "0xlock", "2.50", x402.AssetNative)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return c, secret
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	c, secret := f.create(t)

	if len(secret) != SecretLength {
		t.Errorf("secret length = %d; want %d", len(secret), SecretLength)
	}
	if len(c.HashLock) != 64 {
		t.Errorf("HashLock length = %d; want 64 hex chars", len(c.HashLock))
	}
	if c.Amount != "2.5" {
		t.Errorf("Amount = %q; want canonical %q", c.Amount, "2.5")
	}
	if got, ok := f.handler.Lookup(c.HashLock); !ok || got.ID != c.ID {
		t.Errorf("Lookup() = %+v, %v; want the created contract", got, ok)
	}

	if _, _, err := f.handler.Create("0xs", "0xr", "0xl", "bogus", x402.AssetNative); !errors.Is(err, x402.ErrInvalidAmount) {
		t.Errorf("Create() with bad amount error = %v; want ErrInvalidAmount", err)
	}
}

func TestCreateUniqueSecrets(t *testing.T) {
	f := newFixture(t)
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		c, _ := f.create(t)
		if seen[c.HashLock] {
			t.Fatal("duplicate hash lock generated")
		}
		seen[c.HashLock] = true
	}
}

func TestWithdrawWithSecret(t *testing.T) {
	f := newFixture(t)
	c, secret := f.create(t)
	ctx := context.Background()

	if !f.handler.CanWithdraw(c.HashLock, secret) {
		t.Error("CanWithdraw() = false inside the time lock with the right secret")
	}

	txID, err := f.handler.Withdraw(ctx, c.HashLock, secret)
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if txID == "" {
		t.Error("Withdraw() returned no tx id")
	}
	if f.ledger.submitCount() != 1 {
		t.Fatalf("ledger submissions = %d; want 1", f.ledger.submitCount())
	}
	tx := f.ledger.submits[0]
	if tx.From != "0xlock" || tx.To != "0xreceiver" || tx.Amount != "2.5" {
		t.Errorf("transfer = %+v; want lock address -> receiver for 2.5", tx)
	}

	// A settled contract leaves the active set: no double withdrawal.
	if _, err := f.handler.Withdraw(ctx, c.HashLock, secret); !errors.Is(err, ErrUnknownLock) {
		t.Errorf("second Withdraw() error = %v; want ErrUnknownLock", err)
	}
	if f.ledger.submitCount() != 1 {
		t.Errorf("ledger submissions = %d after replay; want 1", f.ledger.submitCount())
	}
}

func TestWithdrawRejections(t *testing.T) {
	f := newFixture(t)
	c, secret := f.create(t)
	ctx := context.Background()

	if _, err := f.handler.Withdraw(ctx, "deadbeef", secret); !errors.Is(err, ErrUnknownLock) {
		t.Errorf("Withdraw() with unknown lock error = %v; want ErrUnknownLock", err)
	}
	if _, err := f.handler.Withdraw(ctx, c.HashLock, []byte("guess")); !errors.Is(err, ErrWrongSecret) {
		t.Errorf("Withdraw() with wrong secret error = %v; want ErrWrongSecret", err)
	}

	// The right secret stops working the moment the time lock passes.
	f.advance(DefaultLockDuration)
	if f.handler.CanWithdraw(c.HashLock, secret) {
		t.Error("CanWithdraw() = true after the time lock expired")
	}
	if _, err := f.handler.Withdraw(ctx, c.HashLock, secret); !errors.Is(err, ErrLockExpired) {
		t.Errorf("Withdraw() after expiry error = %v; want ErrLockExpired", err)
	}
	if f.ledger.submitCount() != 0 {
		t.Errorf("ledger submissions = %d; want 0", f.ledger.submitCount())
	}
}

func TestRefundAfterExpiry(t *testing.T) {
	f := newFixture(t, WithLockDuration(time.Hour))
	c, _ := f.create(t)
	ctx := context.Background()

	if f.handler.CanRefund(c.HashLock) {
		t.Error("CanRefund() = true while the time lock runs")
	}
	if _, err := f.handler.Refund(ctx, c.HashLock); !errors.Is(err, ErrLockActive) {
		t.Errorf("Refund() before expiry error = %v; want ErrLockActive", err)
	}

	f.advance(time.Hour)
	if !f.handler.CanRefund(c.HashLock) {
		t.Error("CanRefund() = false after expiry")
	}
	if _, err := f.handler.Refund(ctx, c.HashLock); err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	tx := f.ledger.submits[0]
	if tx.From != "0xlock" || tx.To != "0xsender" {
		t.Errorf("transfer = %+v; want lock address -> sender", tx)
	}

	if _, err := f.handler.Refund(ctx, c.HashLock); !errors.Is(err, ErrUnknownLock) {
		t.Errorf("second Refund() error = %v; want ErrUnknownLock", err)
	}
	if f.ledger.submitCount() != 1 {
		t.Errorf("ledger submissions = %d; want 1", f.ledger.submitCount())
	}
}

func TestRefundUnknownLock(t *testing.T) {
	f := newFixture(t)
	if _, err := f.handler.Refund(context.Background(), "deadbeef"); !errors.Is(err, ErrUnknownLock) {
		t.Errorf("Refund() error = %v; want ErrUnknownLock", err)
	}
}

func TestWithdrawRollbackOnLedgerError(t *testing.T) {
	f := newFixture(t)
	c, secret := f.create(t)
	ctx := context.Background()

	f.ledger.submitErr = errors.New("node down")
	if _, err := f.handler.Withdraw(ctx, c.HashLock, secret); err == nil {
		t.Fatal("Withdraw() succeeded despite ledger rejection")
	}

	// The contract stays claimable after a transient ledger failure.
	f.ledger.submitErr = nil
	if _, err := f.handler.Withdraw(ctx, c.HashLock, secret); err != nil {
		t.Errorf("Withdraw() retry error = %v", err)
	}
	if f.ledger.submitCount() != 1 {
		t.Errorf("ledger submissions = %d; want 1", f.ledger.submitCount())
	}
}
