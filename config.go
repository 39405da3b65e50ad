package x402

import (
	"fmt"
	"time"
)

// TrackerConfig holds configuration for the status tracker.
type TrackerConfig struct {
	// ConfirmationThreshold is the number of confirmations required
	// before a submitted record becomes Confirmed.
	ConfirmationThreshold int

	// SettlementTimeout is how long a Submitted record may wait for a
	// receipt before it is failed with reason "timeout". The underlying
	// transaction may still confirm on chain afterwards; callers who see
	// a timeout should re-query the ledger directly.
	SettlementTimeout time.Duration
}

// DefaultTrackerConfig provides sensible defaults for receipt polling.
var DefaultTrackerConfig = TrackerConfig{
	ConfirmationThreshold: 1,
	SettlementTimeout:     10 * time.Minute,
}

// WithConfirmationThreshold returns a copy with an updated threshold.
func (c TrackerConfig) WithConfirmationThreshold(n int) TrackerConfig {
	c.ConfirmationThreshold = n
	return c
}

// WithSettlementTimeout returns a copy with an updated timeout.
func (c TrackerConfig) WithSettlementTimeout(d time.Duration) TrackerConfig {
	c.SettlementTimeout = d
	return c
}

// Validate ensures tracker configuration values are usable.
func (c TrackerConfig) Validate() error {
	if c.ConfirmationThreshold < 1 {
		return fmt.Errorf("confirmation threshold must be at least 1, got %d", c.ConfirmationThreshold)
	}
	if c.SettlementTimeout <= 0 {
		return fmt.Errorf("settlement timeout must be positive, got %v", c.SettlementTimeout)
	}
	return nil
}

// NonceWindowConfig bounds how long accepted nonces are remembered for
// replay detection. Nonces are payer-scoped; the horizon must be at
// least as long as the longest deadline handed out, otherwise a replay
// could slip in after its nonce was forgotten but before the header
// expired.
type NonceWindowConfig struct {
	// Horizon is how long an accepted nonce is remembered.
	Horizon time.Duration

	// MaxPerPayer caps remembered nonces per payer. Zero means no cap.
	MaxPerPayer int
}

// DefaultNonceWindow remembers nonces for 24 hours, well beyond typical
// per-request deadlines.
var DefaultNonceWindow = NonceWindowConfig{
	Horizon:     24 * time.Hour,
	MaxPerPayer: 0,
}

// Validate ensures the nonce window is bounded and usable.
func (c NonceWindowConfig) Validate() error {
	if c.Horizon <= 0 {
		return fmt.Errorf("nonce horizon must be positive, got %v", c.Horizon)
	}
	if c.MaxPerPayer < 0 {
		return fmt.Errorf("max nonces per payer cannot be negative, got %d", c.MaxPerPayer)
	}
	return nil
}

// BatchConfig holds the flush policy for the batch settler. When to
// flush is a deployment decision; all three triggers are optional and
// an explicit Flush call always works regardless.
type BatchConfig struct {
	// MaxEntries flushes a grouping key once it holds this many entries.
	// Zero disables the size trigger.
	MaxEntries int

	// MaxAge flushes a grouping key once its oldest entry is this old.
	// Zero disables the age trigger.
	MaxAge time.Duration
}

// DefaultBatchConfig leaves flushing entirely to the caller.
var DefaultBatchConfig = BatchConfig{}

// WithMaxEntries returns a copy with an updated size trigger.
func (c BatchConfig) WithMaxEntries(n int) BatchConfig {
	c.MaxEntries = n
	return c
}

// WithMaxAge returns a copy with an updated age trigger.
func (c BatchConfig) WithMaxAge(d time.Duration) BatchConfig {
	c.MaxAge = d
	return c
}

// Validate ensures batch configuration values are usable.
func (c BatchConfig) Validate() error {
	if c.MaxEntries < 0 {
		return fmt.Errorf("max entries cannot be negative, got %d", c.MaxEntries)
	}
	if c.MaxAge < 0 {
		return fmt.Errorf("max age cannot be negative, got %v", c.MaxAge)
	}
	return nil
}

// TimeoutConfig holds timeouts for the potentially slow collaborator
// calls: ledger submission, receipt polling, and remote signing.
type TimeoutConfig struct {
	// SubmitTimeout bounds a single ledger submission.
	SubmitTimeout time.Duration

	// ReceiptTimeout bounds a single receipt query.
	ReceiptTimeout time.Duration

	// SignTimeout bounds a remote signing call.
	SignTimeout time.Duration
}

// DefaultTimeouts provides sensible defaults for collaborator calls.
var DefaultTimeouts = TimeoutConfig{
	SubmitTimeout:  30 * time.Second,
	ReceiptTimeout: 10 * time.Second,
	SignTimeout:    10 * time.Second,
}

// Validate ensures timeout values are positive.
func (tc TimeoutConfig) Validate() error {
	if tc.SubmitTimeout <= 0 {
		return fmt.Errorf("submit timeout must be positive, got %v", tc.SubmitTimeout)
	}
	if tc.ReceiptTimeout <= 0 {
		return fmt.Errorf("receipt timeout must be positive, got %v", tc.ReceiptTimeout)
	}
	if tc.SignTimeout <= 0 {
		return fmt.Errorf("sign timeout must be positive, got %v", tc.SignTimeout)
	}
	return nil
}
