// Package escrow implements m-of-n multisig escrow for dispute
// resolution. Funds held at an escrow address are released only once
// the required number of parties have produced real secp256k1
// signatures over the release digest, which commits to the escrow, the
// recipient, and the amount.
package escrow

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/smart402/x402-go"
	"github.com/smart402/x402-go/signer"
)

// Escrow errors.
var (
	// ErrUnknownSigner indicates the address is not an escrow party.
	ErrUnknownSigner = errors.New("x402: address is not an escrow signer")

	// ErrDuplicateSignature indicates the party already signed.
	ErrDuplicateSignature = errors.New("x402: signer already signed this release")

	// ErrRecipientMismatch indicates a signature for a different
	// recipient than the proposed release.
	ErrRecipientMismatch = errors.New("x402: signature commits to a different recipient")

	// ErrQuorumNotReached indicates too few signatures to release.
	ErrQuorumNotReached = errors.New("x402: release quorum not reached")

	// ErrReleased indicates the escrow was already released.
	ErrReleased = errors.New("x402: escrow already released")
)

const releaseDomain = "X402-ESCROW-RELEASE-V1"

// Escrow is one m-of-n escrow. All methods are safe for concurrent use.
type Escrow struct {
	id            string
	contractID    string
	escrowAddress string
	amount        string
	asset         x402.Asset
	signers       []string
	required      int
	createdAt     time.Time

	mu        sync.Mutex
	recipient string
	collected map[string][]byte
	released  bool
}

// New creates an escrow requiring `required` of the given signer
// addresses to release. The amount is canonicalized.
func New(contractID, escrowAddress, amount string, asset x402.Asset, signers []string, required int) (*Escrow, error) {
	canonical, err := x402.CanonicalAmount(amount)
	if err != nil {
		return nil, err
	}
	if required < 1 || required > len(signers) {
		return nil, fmt.Errorf("x402: escrow requires between 1 and %d signatures, got %d", len(signers), required)
	}
	return &Escrow{
		id:            x402.NewRecordID(),
		contractID:    contractID,
		escrowAddress: escrowAddress,
		amount:        canonical,
		asset:         asset,
		signers:       append([]string(nil), signers...),
		required:      required,
		createdAt:     time.Now(),
		collected:     make(map[string][]byte),
	}, nil
}

// ID returns the escrow identifier.
func (e *Escrow) ID() string { return e.id }

// ReleaseDigest is the 32-byte digest a party signs to approve
// releasing the escrowed funds to recipient.
func (e *Escrow) ReleaseDigest(recipient string) []byte {
	var buf bytes.Buffer
	buf.WriteString(releaseDomain)
	var scratch [binary.MaxVarintLen64]byte
	for _, part := range []string{e.id, e.contractID, strings.ToLower(recipient), e.amount, string(e.asset)} {
		n := binary.PutUvarint(scratch[:], uint64(len(part)))
		buf.Write(scratch[:n])
		buf.WriteString(part)
	}
	return crypto.Keccak256(buf.Bytes())
}

// AddSignature records a party's approval to release to recipient. The
// signature must be a 65-byte [R || S || V] signature over
// ReleaseDigest(recipient) that recovers to one of the escrow's signer
// addresses. The first signature fixes the proposed recipient; later
// signatures must commit to the same one.
func (e *Escrow) AddSignature(recipient string, sig []byte) error {
	if len(sig) != signer.SignatureLength {
		return x402.ErrMalformedSignature
	}

	recovered := make([]byte, signer.SignatureLength)
	copy(recovered, sig)
	if recovered[64] >= 27 {
		recovered[64] -= 27
	}
	pub, err := crypto.SigToPub(e.ReleaseDigest(recipient), recovered)
	if err != nil {
		return x402.ErrMalformedSignature
	}
	address := crypto.PubkeyToAddress(*pub).Hex()

	party := ""
	for _, s := range e.signers {
		if strings.EqualFold(s, address) {
			party = s
			break
		}
	}
	if party == "" {
		return ErrUnknownSigner
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released {
		return ErrReleased
	}
	if e.recipient == "" {
		e.recipient = recipient
	} else if !strings.EqualFold(e.recipient, recipient) {
		return ErrRecipientMismatch
	}
	if _, dup := e.collected[strings.ToLower(party)]; dup {
		return ErrDuplicateSignature
	}
	e.collected[strings.ToLower(party)] = append([]byte(nil), sig...)
	return nil
}

// CanRelease reports whether enough signatures have been collected.
func (e *Escrow) CanRelease() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.released && len(e.collected) >= e.required
}

// Release submits the escrowed transfer to the ledger once the quorum
// is met. It can succeed at most once.
func (e *Escrow) Release(ctx context.Context, ledger x402.LedgerClient) (string, error) {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return "", ErrReleased
	}
	if len(e.collected) < e.required {
		have := len(e.collected)
		e.mu.Unlock()
		return "", fmt.Errorf("%w: need %d signatures, have %d", ErrQuorumNotReached, e.required, have)
	}
	recipient := e.recipient
	e.released = true
	e.mu.Unlock()

	txID, err := ledger.SubmitTransfer(ctx, x402.TransferInstruction{
		From:   e.escrowAddress,
		To:     recipient,
		Asset:  e.asset,
		Amount: e.amount,
	})
	if err != nil {
		e.mu.Lock()
		e.released = false
		e.mu.Unlock()
		return "", err
	}
	return txID, nil
}
