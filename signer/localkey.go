package signer

import (
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/smart402/x402-go"
)

// LocalKey is an in-process secp256k1 signing capability.
type LocalKey struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// Capability conformance check.
var _ Capability = (*LocalKey)(nil)

// NewLocalKey builds a capability from a hex-encoded private key, with
// or without a 0x prefix.
func NewLocalKey(privateKeyHex string) (*LocalKey, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, x402.ErrInvalidKey
	}
	return &LocalKey{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// NewLocalKeyFromECDSA wraps an existing private key.
func NewLocalKeyFromECDSA(key *ecdsa.PrivateKey) *LocalKey {
	return &LocalKey{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// GenerateLocalKey creates a fresh random key.
func GenerateLocalKey() (*LocalKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return NewLocalKeyFromECDSA(key), nil
}

// Sign signs a 32-byte digest, returning a 65-byte [R || S || V]
// signature with V in {27, 28}.
func (k *LocalKey) Sign(digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, k.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// Address returns the 0x-prefixed hex address of the key.
func (k *LocalKey) Address() string {
	return k.address.Hex()
}
