// Package facilitator exposes payment verification and settlement as a
// service boundary. A facilitator verifies signed payment headers on
// behalf of resource servers that do not hold ledger access themselves,
// and settles verified payments on the ledger.
//
// The package contains three pieces: the Interface contract, a Service
// that implements it over an executor and tracker, and an HTTP server
// and client pair speaking a small JSON protocol.
package facilitator

import (
	"context"
	"errors"
	"sync"
	"time"

	x402 "github.com/smart402/x402-go"
	"github.com/smart402/x402-go/executor"
	"github.com/smart402/x402-go/tracker"
)

// Interface defines the facilitator contract for payment verification
// and settlement. Both the in-process Service and the HTTP Client
// satisfy this interface.
type Interface interface {
	// Verify checks a payment header without settling it. The header is
	// authorized (signature, deadline, conditions, replay) and held so
	// that a later Settle of the same header does not re-authorize.
	Verify(ctx context.Context, h x402.Header, required []string) (*VerifyResponse, error)

	// Settle executes a payment: the header is authorized if it has not
	// been verified already, submitted to the ledger, and tracked until
	// confirmation.
	Settle(ctx context.Context, h x402.Header, required []string) (*SettleResponse, error)

	// Status reports the current lifecycle state of a tracked payment.
	Status(ctx context.Context, recordID string) (*StatusResponse, error)
}

// VerifyResponse is the result of a Verify operation.
type VerifyResponse struct {
	// Valid reports whether the header passed authorization.
	Valid bool `json:"valid"`

	// RecordID identifies the authorized record when Valid is true.
	RecordID string `json:"record_id,omitempty"`

	// Payer is the recovered signer address when Valid is true.
	Payer string `json:"payer,omitempty"`

	// Reason describes the refusal when Valid is false.
	Reason string `json:"reason,omitempty"`

	// UnmetConditions lists unsatisfied contract conditions, if any.
	UnmetConditions []string `json:"unmet_conditions,omitempty"`
}

// SettleResponse is the result of a Settle operation.
type SettleResponse struct {
	RecordID   string `json:"record_id"`
	State      string `json:"state"`
	LedgerTxID string `json:"ledger_tx_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// StatusResponse reports the lifecycle state of a tracked payment.
type StatusResponse struct {
	RecordID      string `json:"record_id"`
	State         string `json:"state"`
	LedgerTxID    string `json:"ledger_tx_id,omitempty"`
	Confirmations int    `json:"confirmations"`
	FeePaid       string `json:"fee_paid,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Service implements Interface over an executor and tracker.
//
// Verified-but-unsettled records are held in memory keyed by nonce so a
// Verify followed by a Settle of the same header settles the record the
// verification produced instead of tripping replay protection.
type Service struct {
	exec *executor.Executor
	trk  *tracker.Tracker
	now  func() time.Time

	mu      sync.Mutex
	pending map[string]x402.PaymentRecord
}

// NewService builds a facilitator over the given executor and tracker.
func NewService(exec *executor.Executor, trk *tracker.Tracker) (*Service, error) {
	if exec == nil || trk == nil {
		return nil, errors.New("x402: facilitator requires an executor and a tracker")
	}
	return &Service{
		exec:    exec,
		trk:     trk,
		now:     time.Now,
		pending: make(map[string]x402.PaymentRecord),
	}, nil
}

// Verify that Service implements Interface.
var _ Interface = (*Service)(nil)

func (s *Service) Verify(ctx context.Context, h x402.Header, required []string) (*VerifyResponse, error) {
	rec, err := s.exec.Authorize(ctx, h, required)
	if err != nil {
		resp := &VerifyResponse{Valid: false, Reason: err.Error()}
		var unmet *x402.ConditionsNotMetError
		if errors.As(err, &unmet) {
			resp.UnmetConditions = unmet.Unmet
		}
		return resp, nil
	}

	s.mu.Lock()
	s.prunePending(s.now())
	s.pending[h.Nonce] = rec
	s.mu.Unlock()

	return &VerifyResponse{Valid: true, RecordID: rec.ID, Payer: rec.Header.Payer}, nil
}

func (s *Service) Settle(ctx context.Context, h x402.Header, required []string) (*SettleResponse, error) {
	rec, ok := s.takePending(h.Nonce)
	if !ok {
		var err error
		rec, err = s.exec.Authorize(ctx, h, required)
		if err != nil {
			return &SettleResponse{State: string(x402.StateFailed), Reason: err.Error()}, nil
		}
	}

	rec, err := s.exec.Submit(ctx, rec)
	if err != nil {
		return &SettleResponse{
			RecordID: rec.ID,
			State:    string(rec.State),
			Reason:   err.Error(),
		}, nil
	}

	if err := s.trk.Track(rec); err != nil && !errors.Is(err, x402.ErrAlreadyTracked) {
		return nil, err
	}

	return &SettleResponse{
		RecordID:   rec.ID,
		State:      string(rec.State),
		LedgerTxID: rec.LedgerTxID,
	}, nil
}

func (s *Service) Status(_ context.Context, recordID string) (*StatusResponse, error) {
	rec, err := s.trk.CheckStatus(recordID)
	if err != nil {
		return nil, err
	}
	return &StatusResponse{
		RecordID:      rec.ID,
		State:         string(rec.State),
		LedgerTxID:    rec.LedgerTxID,
		Confirmations: rec.Confirmations,
		FeePaid:       rec.FeePaid,
		FailureReason: rec.FailureReason,
	}, nil
}

func (s *Service) takePending(nonce string) (x402.PaymentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prunePending(s.now())
	rec, ok := s.pending[nonce]
	if ok {
		delete(s.pending, nonce)
	}
	return rec, ok
}

// prunePending drops verified records whose header deadline has passed;
// Submit would refuse them anyway, and dropping them keeps the pending
// map bounded by the deadlines handed out. Callers hold s.mu.
func (s *Service) prunePending(now time.Time) {
	for nonce, rec := range s.pending {
		if rec.Header.Expired(now) {
			delete(s.pending, nonce)
		}
	}
}
