// Package swap implements hash time-locked contracts for atomic swaps.
// Funds locked at a contract address are withdrawable by the receiver
// only with the secret behind the hash lock while the time lock runs,
// and refundable to the sender only after it expires. The two windows
// never overlap, so an honest party always gets exactly one of the two.
package swap

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	x402 "github.com/smart402/x402-go"
)

// Swap errors.
var (
	// ErrUnknownLock indicates no active contract under the hash lock.
	ErrUnknownLock = errors.New("x402: unknown hash lock")

	// ErrWrongSecret indicates the secret does not hash to the lock.
	ErrWrongSecret = errors.New("x402: secret does not match hash lock")

	// ErrLockExpired indicates a withdrawal after the time lock passed.
	ErrLockExpired = errors.New("x402: time lock expired")

	// ErrLockActive indicates a refund before the time lock passed.
	ErrLockActive = errors.New("x402: time lock has not expired")
)

// DefaultLockDuration is how long a contract stays withdrawable.
const DefaultLockDuration = 24 * time.Hour

// SecretLength is the byte length of generated swap secrets.
const SecretLength = 32

// Contract is one hash time-locked contract. The secret is handed to
// the caller of Create and never stored here.
type Contract struct {
	// ID identifies the contract.
	ID string

	// HashLock is the hex SHA-256 of the withdrawal secret.
	HashLock string

	// TimeLock is when withdrawal closes and refund opens.
	TimeLock time.Time

	// LockAddress holds the funds until withdrawal or refund.
	LockAddress string

	// Sender funds the contract and may refund after expiry.
	Sender string

	// Receiver may withdraw with the secret before expiry.
	Receiver string

	// Amount is the locked amount in canonical form.
	Amount string

	// Asset is the locked asset.
	Asset x402.Asset
}

// Handler manages active contracts and settles withdrawals and refunds
// on the ledger. All methods are safe for concurrent use.
type Handler struct {
	ledger       x402.LedgerClient
	lockDuration time.Duration
	now          func() time.Time

	mu     sync.Mutex
	active map[string]Contract
}

// Option configures a Handler.
type Option func(*Handler) error

// WithLockDuration overrides the default withdrawal window.
func WithLockDuration(d time.Duration) Option {
	return func(h *Handler) error {
		if d <= 0 {
			return errors.New("x402: lock duration must be positive")
		}
		h.lockDuration = d
		return nil
	}
}

func withClock(now func() time.Time) Option {
	return func(h *Handler) error {
		h.now = now
		return nil
	}
}

// New builds a Handler submitting through the given ledger.
func New(ledger x402.LedgerClient, opts ...Option) (*Handler, error) {
	if ledger == nil {
		return nil, errors.New("x402: swap handler requires a ledger client")
	}
	h := &Handler{
		ledger:       ledger,
		lockDuration: DefaultLockDuration,
		now:          time.Now,
		active:       make(map[string]Contract),
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Create locks amount from sender toward receiver at lockAddress under
// a fresh secret. It returns the contract and the secret; the secret
// goes to the receiver out of band and is the only way to withdraw.
func (h *Handler) Create(sender, receiver, lockAddress, amount string, asset x402.Asset) (Contract, []byte, error) {
	canonical, err := x402.CanonicalAmount(amount)
	if err != nil {
		return Contract{}, nil, err
	}

	secret := make([]byte, SecretLength)
	if _, err := rand.Read(secret); err != nil {
		return Contract{}, nil, err
	}
	sum := sha256.Sum256(secret)

	c := Contract{
		ID:          x402.NewRecordID(),
		HashLock:    hex.EncodeToString(sum[:]),
		TimeLock:    h.now().Add(h.lockDuration),
		LockAddress: lockAddress,
		Sender:      sender,
		Receiver:    receiver,
		Amount:      canonical,
		Asset:       asset,
	}

	h.mu.Lock()
	h.active[c.HashLock] = c
	h.mu.Unlock()

	return c, secret, nil
}

// Lookup returns the active contract under the hash lock.
func (h *Handler) Lookup(hashLock string) (Contract, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.active[hashLock]
	return c, ok
}

// CanWithdraw reports whether secret opens the contract right now:
// the contract must be active, the secret must hash to the lock, and
// the time lock must not have passed.
func (h *Handler) CanWithdraw(hashLock string, secret []byte) bool {
	return h.checkWithdraw(hashLock, secret, h.now()) == nil
}

// CanRefund reports whether the contract is refundable: active with an
// expired time lock.
func (h *Handler) CanRefund(hashLock string) bool {
	return h.checkRefund(hashLock, h.now()) == nil
}

// Withdraw pays the locked amount to the receiver in exchange for the
// secret. The contract leaves the active set on success and stays
// claimable when the ledger rejects the transfer.
func (h *Handler) Withdraw(ctx context.Context, hashLock string, secret []byte) (string, error) {
	now := h.now()
	if err := h.checkWithdraw(hashLock, secret, now); err != nil {
		return "", err
	}

	h.mu.Lock()
	c, ok := h.active[hashLock]
	if !ok {
		h.mu.Unlock()
		return "", ErrUnknownLock
	}
	delete(h.active, hashLock)
	h.mu.Unlock()

	txID, err := h.ledger.SubmitTransfer(ctx, x402.TransferInstruction{
		From:   c.LockAddress,
		To:     c.Receiver,
		Asset:  c.Asset,
		Amount: c.Amount,
	})
	if err != nil {
		h.mu.Lock()
		h.active[hashLock] = c
		h.mu.Unlock()
		return "", err
	}
	return txID, nil
}

// Refund returns the locked amount to the sender once the time lock has
// expired. Like Withdraw it settles at most once per contract.
func (h *Handler) Refund(ctx context.Context, hashLock string) (string, error) {
	now := h.now()
	if err := h.checkRefund(hashLock, now); err != nil {
		return "", err
	}

	h.mu.Lock()
	c, ok := h.active[hashLock]
	if !ok {
		h.mu.Unlock()
		return "", ErrUnknownLock
	}
	delete(h.active, hashLock)
	h.mu.Unlock()

	txID, err := h.ledger.SubmitTransfer(ctx, x402.TransferInstruction{
		From:   c.LockAddress,
		To:     c.Sender,
		Asset:  c.Asset,
		Amount: c.Amount,
	})
	if err != nil {
		h.mu.Lock()
		h.active[hashLock] = c
		h.mu.Unlock()
		return "", err
	}
	return txID, nil
}

func (h *Handler) checkWithdraw(hashLock string, secret []byte, now time.Time) error {
	h.mu.Lock()
	c, ok := h.active[hashLock]
	h.mu.Unlock()
	if !ok {
		return ErrUnknownLock
	}
	sum := sha256.Sum256(secret)
	if hex.EncodeToString(sum[:]) != hashLock {
		return ErrWrongSecret
	}
	if !now.Before(c.TimeLock) {
		return ErrLockExpired
	}
	return nil
}

func (h *Handler) checkRefund(hashLock string, now time.Time) error {
	h.mu.Lock()
	c, ok := h.active[hashLock]
	h.mu.Unlock()
	if !ok {
		return ErrUnknownLock
	}
	if now.Before(c.TimeLock) {
		return ErrLockActive
	}
	return nil
}
