package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/openbid/enclaveapi"
)

// EnclaveAttester interface for dependency injection and testing
type EnclaveAttester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// NoAttester runs the service outside an enclave. It attests nothing;
// responses carry receipts signed by the house key but no attestation
// document.
type NoAttester struct{}

func (NoAttester) Attest(enclave.AttestationOptions) ([]byte, error) {
	return nil, nil
}

// SignReceipt wraps a receipt payload in an untagged COSE_Sign1 array
// signed with the house ES384 key. The array shape matches the one the
// Nitro hypervisor uses for attestation documents, so both verify the
// same way: [protected, unprotected, payload, signature] with the
// signature over ["Signature1", protected, external_aad, payload].
func SignReceipt(km *KeyManager, payload []byte) (enclaveapi.ReceiptCOSE, error) {
	protected, err := cbor.Marshal(map[int64]any{1: int64(cose.AlgorithmES384)})
	if err != nil {
		return nil, fmt.Errorf("marshal protected header: %w", err)
	}

	sigStructure := []any{
		"Signature1",
		protected,
		[]byte{}, // empty external_aad
		payload,
	}
	toBeSigned, err := cbor.Marshal(sigStructure)
	if err != nil {
		return nil, fmt.Errorf("marshal Sig_structure: %w", err)
	}

	signer, err := cose.NewSigner(cose.AlgorithmES384, km.privateKey)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	signature, err := signer.Sign(rand.Reader, toBeSigned)
	if err != nil {
		return nil, fmt.Errorf("sign receipt: %w", err)
	}

	message := []any{
		protected,
		map[string]any{},
		payload,
		signature,
	}
	coseBytes, err := cbor.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("marshal COSE_Sign1: %w", err)
	}
	return enclaveapi.ReceiptCOSE(coseBytes), nil
}

// ReceiptHash returns the hex SHA-256 of a receipt payload, the value
// bound into attestation user data.
func ReceiptHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// generateSecureRandomBytes generates cryptographically secure random bytes
// Uses crypto/rand which automatically leverages the best available entropy:
// - In NSM enclave: crypto/rand uses NSM-enhanced kernel entropy pool
// - In development: crypto/rand uses standard kernel entropy pool
func generateSecureRandomBytes(length int) ([]byte, error) {
	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("entropy generation failed: %w", err)
	}
	return randomBytes, nil
}

func generateNonce() (string, error) {
	randomBytes, err := generateSecureRandomBytes(32) // 256 bits of entropy
	if err != nil {
		return "", fmt.Errorf("failed to generate secure nonce - %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// GenerateSettlementAttestation attests a settlement receipt: the user
// data embedded in the attestation binds the receipt hash and the house
// key that signed it.
func GenerateSettlementAttestation(attester EnclaveAttester, receiptHash, publicKeyPEM string) (enclaveapi.AttestationCOSE, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	userData := &enclaveapi.SettlementAttestationUserData{
		ReceiptHash:  receiptHash,
		PublicKeyPEM: publicKeyPEM,
		Nonce:        nonce,
	}
	userDataBytes, err := json.Marshal(userData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user data: %w", err)
	}

	attestationCBOR, err := attester.Attest(enclave.AttestationOptions{
		UserData: userDataBytes,
		Nonce:    []byte(nonce),
	})
	if err != nil {
		log.Printf("ERROR: NSM attestation failed: %v", err)
		return nil, fmt.Errorf("NSM attestation failed: %w", err)
	}
	if len(attestationCBOR) > 0 {
		log.Printf("INFO: NSM attestation generated: %d bytes", len(attestationCBOR))
	}

	return enclaveapi.AttestationCOSE(attestationCBOR), nil
}

// GenerateKeyAttestation attests the house public key for distribution
// to verifiers.
func GenerateKeyAttestation(attester EnclaveAttester, publicKeyPEM string) (enclaveapi.AttestationCOSE, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	keyUserData := &enclaveapi.KeyAttestationUserData{
		KeyAlgorithm: "ECDSA-P384",
		PublicKeyPEM: publicKeyPEM,
	}
	userDataBytes, err := json.Marshal(keyUserData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key user data: %w", err)
	}

	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := attester.Attest(enclave.AttestationOptions{
		UserData: userDataBytes,
		Nonce:    []byte(nonce),
	})
	if err != nil {
		log.Printf("ERROR: NSM key attestation failed: %v", err)
		return nil, fmt.Errorf("NSM key attestation failed: %w", err)
	}

	return enclaveapi.AttestationCOSE(attestationCBOR), nil
}
