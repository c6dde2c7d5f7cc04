package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"

	"github.com/cloudx-io/openbid/core"
)

// Mutating requests reach the auctioneer inside a signed envelope: the
// caller signs a canonical digest of the request fields with its account
// key, and the service verifies the signature before touching the engine.
// The uuid nonce makes every envelope unique so a captured request cannot
// be replayed as a different operation.

// NewNonce returns a fresh envelope nonce.
func NewNonce() string {
	return uuid.New().String()
}

// RequestDigest computes SHA256(action|auctionID|account|amount|nonce),
// the canonical bytes covered by an envelope signature.
func RequestDigest(action, auctionID string, account core.Account, amount, nonce string) []byte {
	data := fmt.Sprintf("%s|%s|%s|%s|%s", action, auctionID, account, amount, nonce)
	digest := sha256.Sum256([]byte(data))
	return digest[:]
}

// SignRequest signs the canonical digest of a request with the bidder key.
func (k *Keypair) SignRequest(action, auctionID, amount, nonce string) []byte {
	digest := RequestDigest(action, auctionID, k.Account(), amount, nonce)
	return ed25519.Sign(k.private, digest)
}

// VerifyRequest checks an envelope signature against the account's public
// key. It fails with ErrInvalidAccount when the account does not decode
// to a usable key and ErrBadSignature when the signature does not cover
// exactly the supplied fields.
func VerifyRequest(action, auctionID string, account core.Account, amount, nonce string, signature []byte) error {
	public, err := ParseAccount(account)
	if err != nil {
		return err
	}
	digest := RequestDigest(action, auctionID, account, amount, nonce)
	if !ed25519.Verify(public, digest, signature) {
		return ErrBadSignature
	}
	return nil
}
