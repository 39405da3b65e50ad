package executor

import (
	"strings"
	"sync"
	"time"

	x402 "github.com/smart402/x402-go"
)

// nonceWindow remembers accepted nonces per payer over a sliding time
// horizon. Unbounded nonce history is not viable, so entries expire once
// older than the horizon; the horizon must exceed the longest deadline
// handed out for replay detection to stay sound.
type nonceWindow struct {
	mu     sync.Mutex
	cfg    x402.NonceWindowConfig
	payers map[string]map[string]time.Time
}

func newNonceWindow(cfg x402.NonceWindowConfig) *nonceWindow {
	return &nonceWindow{
		cfg:    cfg,
		payers: make(map[string]map[string]time.Time),
	}
}

// register records a nonce for a payer. It returns false if the nonce
// was already seen inside the window. The check and the insert happen
// under one lock so concurrent authorizations of the same header cannot
// both succeed.
func (w *nonceWindow) register(payer, nonce string, now time.Time) bool {
	payer = strings.ToLower(payer)

	w.mu.Lock()
	defer w.mu.Unlock()

	seen := w.payers[payer]
	if seen == nil {
		seen = make(map[string]time.Time)
		w.payers[payer] = seen
	}

	cutoff := now.Add(-w.cfg.Horizon)
	for n, at := range seen {
		if at.Before(cutoff) {
			delete(seen, n)
		}
	}

	if _, dup := seen[nonce]; dup {
		return false
	}

	if w.cfg.MaxPerPayer > 0 && len(seen) >= w.cfg.MaxPerPayer {
		w.evictOldestLocked(seen)
	}

	seen[nonce] = now
	return true
}

func (w *nonceWindow) evictOldestLocked(seen map[string]time.Time) {
	var oldest string
	var oldestAt time.Time
	for n, at := range seen {
		if oldest == "" || at.Before(oldestAt) {
			oldest, oldestAt = n, at
		}
	}
	if oldest != "" {
		delete(seen, oldest)
	}
}
