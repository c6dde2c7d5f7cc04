package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"github.com/cloudx-io/openbid/core"
)

var (
	ErrInvalidAccount = errors.New("invalid account")
	ErrBadSignature   = errors.New("request signature does not verify")
)

// Keypair is a bidder identity. The account string is the base58-encoded
// ed25519 public key, so possession of the private key is possession of
// the account.
type Keypair struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// NewKeypair generates a fresh bidder identity.
func NewKeypair() (*Keypair, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &Keypair{public: public, private: private}, nil
}

// Account returns the base58 account string for this keypair.
func (k *Keypair) Account() core.Account {
	return core.Account(base58.Encode(k.public))
}

// ParseAccount decodes and validates an account string, returning the
// underlying public key. The key must be 32 bytes and decode to a point
// on the ed25519 curve.
func ParseAccount(account core.Account) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(string(account))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: expected %d key bytes, got %d", ErrInvalidAccount, ed25519.PublicKeySize, len(raw))
	}
	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return nil, fmt.Errorf("%w: point not on curve", ErrInvalidAccount)
	}
	return ed25519.PublicKey(raw), nil
}
