package main

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/openbid/enclaveapi"
	"github.com/cloudx-io/openbid/enclaveapi/parsing"
)

// extractReceiptPayload pulls the CBOR payload out of a signed receipt.
func extractReceiptPayload(t *testing.T, signed enclaveapi.ReceiptCOSE) []byte {
	t.Helper()
	payload, err := parsing.ExtractCOSEPayload(signed)
	assert.Nil(t, err)
	return payload
}

// decodeSign1 splits an untagged COSE_Sign1 message into its four parts.
func decodeSign1(t *testing.T, signed enclaveapi.ReceiptCOSE) (protected []byte, payload []byte, signature []byte) {
	t.Helper()
	var msg []any
	assert.Nil(t, cbor.Unmarshal(signed, &msg))
	assert.Equal(t, 4, len(msg))

	protected, ok := msg[0].([]byte)
	assert.True(t, ok)
	payload, ok = msg[2].([]byte)
	assert.True(t, ok)
	signature, ok = msg[3].([]byte)
	assert.True(t, ok)
	return protected, payload, signature
}

func TestSignReceipt_VerifiesAgainstHouseKey(t *testing.T) {
	t.Parallel()
	km, err := NewKeyManager()
	assert.Nil(t, err)

	payload := []byte("settlement receipt payload")
	signed, err := SignReceipt(km, payload)
	assert.Nil(t, err)

	protected, gotPayload, signature := decodeSign1(t, signed)
	check.Equal(t, payload, gotPayload)

	// The protected header pins ES384.
	var header map[int64]any
	assert.Nil(t, cbor.Unmarshal(protected, &header))
	alg, ok := header[1].(int64)
	assert.True(t, ok)
	check.Equal(t, int64(cose.AlgorithmES384), alg)

	sigStructure := []any{"Signature1", protected, []byte{}, payload}
	toBeSigned, err := cbor.Marshal(sigStructure)
	assert.Nil(t, err)

	verifier, err := cose.NewVerifier(cose.AlgorithmES384, km.PublicKey)
	assert.Nil(t, err)
	check.Nil(t, verifier.Verify(toBeSigned, signature))
}

func TestSignReceipt_RejectsTamperedPayload(t *testing.T) {
	t.Parallel()
	km, err := NewKeyManager()
	assert.Nil(t, err)

	signed, err := SignReceipt(km, []byte("honest payload"))
	assert.Nil(t, err)
	protected, _, signature := decodeSign1(t, signed)

	sigStructure := []any{"Signature1", protected, []byte{}, []byte("forged payload")}
	toBeSigned, err := cbor.Marshal(sigStructure)
	assert.Nil(t, err)

	verifier, err := cose.NewVerifier(cose.AlgorithmES384, km.PublicKey)
	assert.Nil(t, err)
	check.Error(t, verifier.Verify(toBeSigned, signature))
}

func TestSignReceipt_PayloadSurvivesExtraction(t *testing.T) {
	t.Parallel()
	km, err := NewKeyManager()
	assert.Nil(t, err)

	receipt := enclaveapi.SettlementReceipt{
		ReceiptID: "r-1",
		AuctionID: "auction-9",
		Winner:    "somewinner",
		Amount:    "50.000000",
	}
	payload, err := receipt.Encode()
	assert.Nil(t, err)

	signed, err := SignReceipt(km, payload)
	assert.Nil(t, err)

	decoded, err := enclaveapi.DecodeSettlementReceipt(extractReceiptPayload(t, signed))
	assert.Nil(t, err)
	check.Equal(t, receipt, decoded)
}

func TestReceiptHash(t *testing.T) {
	t.Parallel()
	payload := []byte("some receipt bytes")
	sum := sha256.Sum256(payload)

	got := ReceiptHash(payload)
	check.Equal(t, hex.EncodeToString(sum[:]), got)
	check.Equal(t, 64, len(got))
}

func TestGenerateSettlementAttestation_WithMockEnclave(t *testing.T) {
	t.Parallel()
	mock := CreateMockEnclave(t)

	att, err := GenerateSettlementAttestation(mock, "deadbeef", "-----BEGIN PUBLIC KEY-----")
	assert.Nil(t, err)
	assert.True(t, len(att) > 0)

	doc, userData := parseSettlementAttestation(t, att)
	check.Equal(t, "deadbeef", userData.ReceiptHash)
	check.Equal(t, "-----BEGIN PUBLIC KEY-----", userData.PublicKeyPEM)

	// A fresh 32-byte hex nonce rides along for replay protection, echoed
	// in the document's nonce field.
	check.Equal(t, 64, len(userData.Nonce))
	check.Equal(t, userData.Nonce, string(doc.Nonce))
}

func TestGenerateSettlementAttestation_NoAttester(t *testing.T) {
	t.Parallel()
	att, err := GenerateSettlementAttestation(NoAttester{}, "hash", "pem")
	check.Nil(t, err)
	check.Equal(t, 0, len(att))
}

func TestGenerateKeyAttestation(t *testing.T) {
	t.Parallel()
	mock := CreateMockEnclave(t)

	att, err := GenerateKeyAttestation(mock, "pem-bytes")
	assert.Nil(t, err)
	assert.True(t, len(att) > 0)

	_, userData := parseKeyAttestation(t, att)
	check.Equal(t, "ECDSA-P384", userData.KeyAlgorithm)
	check.Equal(t, "pem-bytes", userData.PublicKeyPEM)

	empty, err := GenerateKeyAttestation(NoAttester{}, "pem-bytes")
	check.Nil(t, err)
	check.Equal(t, 0, len(empty))
}
