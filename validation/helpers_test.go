package validation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/veraison/go-cose"

	enclaveapi "github.com/cloudx-io/openbid/enclaveapi"
)

// testSigner holds an ECDSA P-384 key standing in for the house key.
type testSigner struct {
	key *ecdsa.PrivateKey
	pem string
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	assert.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	return &testSigner{key: key, pem: string(pemBytes)}
}

// signCOSE wraps a payload in the untagged COSE_Sign1 array shape the
// auction service produces for receipts.
func (s *testSigner) signCOSE(t *testing.T, payload []byte) []byte {
	t.Helper()
	protected, err := cbor.Marshal(map[int64]any{1: int64(cose.AlgorithmES384)})
	assert.NoError(t, err)

	sigStructure := []any{"Signature1", protected, []byte{}, payload}
	toBeSigned, err := cbor.Marshal(sigStructure)
	assert.NoError(t, err)

	signer, err := cose.NewSigner(cose.AlgorithmES384, s.key)
	assert.NoError(t, err)
	signature, err := signer.Sign(rand.Reader, toBeSigned)
	assert.NoError(t, err)

	coseBytes, err := cbor.Marshal([]any{
		protected,
		map[string]any{},
		payload,
		signature,
	})
	assert.NoError(t, err)
	return coseBytes
}

// signReceipt encodes a receipt and signs it, returning the wire form.
func (s *testSigner) signReceipt(t *testing.T, receipt enclaveapi.SettlementReceipt) enclaveapi.ReceiptCOSEBase64 {
	t.Helper()
	payload, err := receipt.Encode()
	assert.NoError(t, err)
	return enclaveapi.ReceiptCOSE(s.signCOSE(t, payload)).EncodeBase64()
}

// settledReceipt builds an internally consistent receipt for a settled
// auction: 2% fee on the winning amount, remainder paid out.
func settledReceipt() enclaveapi.SettlementReceipt {
	return enclaveapi.SettlementReceipt{
		ReceiptID:    "f3b41377-5b1c-4bd8-9d21-6d33c0ee7a5b",
		AuctionID:    "auction-42",
		Winner:       "acct-bob",
		Amount:       "105.000000",
		Fee:          "2.100000",
		Payout:       "102.900000",
		Beneficiary:  "acct-seller",
		FeeRecipient: "acct-admin",
		Closing:      2_000,
		FinalizedAt:  2_100,
		Standings: []enclaveapi.ReceiptStanding{
			{Account: "acct-alice", Deposit: "100.000000"},
			{Account: "acct-bob", Deposit: "0.000000"},
		},
		JournalSeq: 5,
	}
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	assert.NoError(t, err)
	return b
}

// buildAttestation produces a Nitro-shaped attestation carrying the given
// user data, CBOR-nested the way the hypervisor emits it. The measurements
// and signature are synthetic, so PCR, certificate, and signature checks
// are expected to fail against it.
func buildAttestation(t *testing.T, userData []byte) enclaveapi.AttestationCOSEBase64 {
	t.Helper()
	nestedDoc := map[string]any{
		"module_id": "i-0openbid0mock0000-enc0123456789abcde",
		"digest":    "SHA384",
		"timestamp": uint64(1234567890),
		"pcrs": map[uint64][]byte{
			0: mustHex(t, "e3d64820083bff90ee779e3690c4e1a116f825cd1e2b4504ce188c3fbd0d03090a3248e21ff1d9930232827e45186efd"),
			1: mustHex(t, "eb12b5ce58e27ad620ad3d425b47ac7fa92132b3e52a26ce5dd55811b2c9c3e99b789a1dcf39ab3a7596c926adda3028"),
			2: mustHex(t, "db38bcfd82add412f9ea9e9baba2e10a413579c40f95e72037a710bb215e963a98d6fc0d09c0d0c0cbde956aaa17563d"),
			3: mustHex(t, "3759ba4f68600ff92413cf73e6e13f5dd882ae98710e72c6fd1d79159c0cf799747fbd10c8f6596bb437765e939fe4c2"),
			4: mustHex(t, "42d345490525378508c32076a94c2b5acbce63470554c087d65b3c5ec6ffcfab06bae9ac8bf1892043d539eb796e7ccd"),
		},
		"certificate": []byte("mock-signing-certificate"),
		"cabundle":    [][]byte{[]byte("mock-intermediate-ca")},
		"public_key":  []byte("mock-instance-key"),
		"user_data":   userData,
		"nonce":       []byte("mock-nonce"),
	}
	nestedBytes, err := cbor.Marshal(nestedDoc)
	assert.NoError(t, err)

	coseBytes, err := cbor.Marshal([]any{
		[]byte{0x01, 0x02, 0x03},
		map[string]any{},
		nestedBytes,
		[]byte{0x04, 0x05, 0x06},
	})
	assert.NoError(t, err)
	return enclaveapi.AttestationCOSE(coseBytes).EncodeBase64()
}

// settlementAttestation builds an attestation whose user data binds the
// given receipt payload and signing key.
func settlementAttestation(t *testing.T, payload []byte, publicKeyPEM string) enclaveapi.AttestationCOSEBase64 {
	t.Helper()
	sum := sha256.Sum256(payload)
	userData, err := json.Marshal(&enclaveapi.SettlementAttestationUserData{
		ReceiptHash:  hex.EncodeToString(sum[:]),
		PublicKeyPEM: publicKeyPEM,
		Nonce:        "6f1e2d3c4b5a69788796a5b4c3d2e1f06f1e2d3c4b5a69788796a5b4c3d2e1f0",
	})
	assert.NoError(t, err)
	return buildAttestation(t, userData)
}
