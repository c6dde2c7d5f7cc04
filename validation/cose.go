package validation

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	enclaveapi "github.com/cloudx-io/openbid/enclaveapi"
)

// VerifyCOSESignature verifies an attestation document's COSE_Sign1
// signature against the signing certificate embedded in the document.
func VerifyCOSESignature(coseB64 enclaveapi.AttestationCOSEBase64, certB64 string) error {
	coseBytes, err := coseB64.Decode()
	if err != nil {
		return fmt.Errorf("decode COSE bytes: %w", err)
	}

	certDER, err := base64.StdEncoding.DecodeString(certB64)
	if err != nil {
		return fmt.Errorf("decode certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("parse certificate: %w", err)
	}
	ecdsaKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate public key is not ECDSA")
	}

	return verifySign1(coseBytes, ecdsaKey)
}

// VerifyReceiptSignature verifies a settlement receipt's COSE_Sign1
// signature against the PEM-encoded house public key distributed by a
// key request.
func VerifyReceiptSignature(receiptCOSE enclaveapi.ReceiptCOSE, publicKeyPEM string) error {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return fmt.Errorf("decode public key PEM: no PEM block found")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("parse public key: %w", err)
	}
	ecdsaKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("public key is not ECDSA")
	}

	return verifySign1(receiptCOSE, ecdsaKey)
}

// splitSign1 decomposes an untagged COSE_Sign1 array into the parts the
// Sig_structure needs. Both AWS Nitro documents and house receipts are
// untagged, so go-cose's own message decoding does not apply.
func splitSign1(coseBytes []byte) (protected, payload, signature []byte, err error) {
	var elements []any
	if err := cbor.Unmarshal(coseBytes, &elements); err != nil {
		return nil, nil, nil, fmt.Errorf("parse COSE array: %w", err)
	}
	if len(elements) != 4 {
		return nil, nil, nil, fmt.Errorf("invalid COSE_Sign1 structure: expected 4 elements, got %d", len(elements))
	}

	var ok bool
	if protected, ok = elements[0].([]byte); !ok {
		return nil, nil, nil, fmt.Errorf("invalid protected headers")
	}
	if payload, ok = elements[2].([]byte); !ok {
		return nil, nil, nil, fmt.Errorf("invalid payload")
	}
	if signature, ok = elements[3].([]byte); !ok {
		return nil, nil, nil, fmt.Errorf("invalid signature")
	}
	return protected, payload, signature, nil
}

// verifySign1 checks an untagged COSE_Sign1 array against an ECDSA key.
// AWS Nitro and the house signer both use ES384 (ECDSA P-384 with
// SHA-384).
func verifySign1(coseBytes []byte, ecdsaKey *ecdsa.PublicKey) error {
	protected, payload, signature, err := splitSign1(coseBytes)
	if err != nil {
		return err
	}

	// Sig_structure for COSE_Sign1: ["Signature1", protected,
	// external_aad, payload]; external_aad is empty.
	sigStructure := []any{
		"Signature1",
		protected,
		[]byte{},
		payload,
	}
	sigStructureBytes, err := cbor.Marshal(sigStructure)
	if err != nil {
		return fmt.Errorf("marshal Sig_structure: %w", err)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES384, ecdsaKey)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}
	if err := verifier.Verify(sigStructureBytes, signature); err != nil {
		return fmt.Errorf("COSE signature verification failed: %w", err)
	}
	return nil
}
