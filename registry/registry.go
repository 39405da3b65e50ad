// Package registry provides in-memory implementations of the contract
// registry and condition evaluator boundaries, for providers that hold
// their terms in process and for tests. Deployments backed by external
// systems implement the same interfaces from the root package.
package registry

import (
	"context"
	"sync"

	x402 "github.com/smart402/x402-go"
)

// InMemory is a map-backed contract registry.
type InMemory struct {
	mu    sync.RWMutex
	terms map[string]x402.PaymentTerms
}

var _ x402.ContractRegistry = (*InMemory)(nil)

// NewInMemory builds an empty registry.
func NewInMemory() *InMemory {
	return &InMemory{terms: make(map[string]x402.PaymentTerms)}
}

// Register stores or replaces the terms for a contract. The amount is
// canonicalized on the way in.
func (r *InMemory) Register(terms x402.PaymentTerms) error {
	amount, err := x402.CanonicalAmount(terms.Amount)
	if err != nil {
		return err
	}
	terms.Amount = amount

	r.mu.Lock()
	defer r.mu.Unlock()
	r.terms[terms.ContractID] = terms
	return nil
}

// GetTerms implements x402.ContractRegistry.
func (r *InMemory) GetTerms(_ context.Context, contractID string) (*x402.PaymentTerms, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	terms, ok := r.terms[contractID]
	if !ok {
		return nil, x402.ErrContractNotFound
	}
	out := terms
	return &out, nil
}

// StaticConditions evaluates required conditions against a fixed set of
// satisfied condition ids. Useful for tests and for providers whose
// condition state is pushed rather than pulled.
type StaticConditions struct {
	mu        sync.RWMutex
	satisfied map[string]bool
}

var _ x402.ConditionEvaluator = (*StaticConditions)(nil)

// NewStaticConditions builds an evaluator with the given satisfied ids.
func NewStaticConditions(satisfied ...string) *StaticConditions {
	s := &StaticConditions{satisfied: make(map[string]bool, len(satisfied))}
	for _, id := range satisfied {
		s.satisfied[id] = true
	}
	return s
}

// Set marks a condition id as satisfied or not.
func (s *StaticConditions) Set(id string, met bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if met {
		s.satisfied[id] = true
	} else {
		delete(s.satisfied, id)
	}
}

// Evaluate implements x402.ConditionEvaluator.
func (s *StaticConditions) Evaluate(_ context.Context, _ string, required []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var unmet []string
	for _, id := range required {
		if !s.satisfied[id] {
			unmet = append(unmet, id)
		}
	}
	return unmet, nil
}
