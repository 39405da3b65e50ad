package x402

import "context"

// LedgerClient is the external collaborator that moves value. It accepts
// a transfer instruction and reports receipts for submitted transactions.
//
// SubmitTransfer returns the ledger transaction id. A synchronous
// rejection (malformed recipient, insufficient funds reported up front)
// should be returned as a *SubmitError so callers can surface the reason.
//
// GetReceipt returns (nil, nil) when no receipt exists yet.
type LedgerClient interface {
	SubmitTransfer(ctx context.Context, tx TransferInstruction) (string, error)
	GetReceipt(ctx context.Context, txID string) (*Receipt, error)
}

// ContractRegistry resolves a contract identifier to its payment terms.
// Read-only; returns ErrContractNotFound for unknown contracts.
type ContractRegistry interface {
	GetTerms(ctx context.Context, contractID string) (*PaymentTerms, error)
}

// ConditionEvaluator reports which of a contract's declared conditions
// are currently unsatisfied. The checks themselves are provider-supplied;
// this library only gates settlement on the result. An empty unmet slice
// means all required conditions hold.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, contractID string, required []string) (unmet []string, err error)
}

// ConditionFunc adapts a function to the ConditionEvaluator interface.
type ConditionFunc func(ctx context.Context, contractID string, required []string) ([]string, error)

// Evaluate implements ConditionEvaluator.
func (f ConditionFunc) Evaluate(ctx context.Context, contractID string, required []string) ([]string, error) {
	return f(ctx, contractID, required)
}
