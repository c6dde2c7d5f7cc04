package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/openbid/enclaveapi"
	"github.com/cloudx-io/openbid/enclaveapi/parsing"
)

// MockEnclaveHandle stands in for the NSM device in tests.
type MockEnclaveHandle struct {
	AttestFunc func(options enclave.AttestationOptions) ([]byte, error)
}

func (m *MockEnclaveHandle) Attest(options enclave.AttestationOptions) ([]byte, error) {
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, fmt.Errorf("mock not configured")
}

// mockPCRs are stand-in measurement registers, 48 bytes each like the
// real SHA-384 values.
var mockPCRs = map[uint64]string{
	0: "e3d64820083bff90ee779e3690c4e1a116f825cd1e2b4504ce188c3fbd0d03090a3248e21ff1d9930232827e45186efd",
	1: "eb12b5ce58e27ad620ad3d425b47ac7fa92132b3e52a26ce5dd55811b2c9c3e99b789a1dcf39ab3a7596c926adda3028",
	2: "db38bcfd82add412f9ea9e9baba2e10a413579c40f95e72037a710bb215e963a98d6fc0d09c0d0c0cbde956aaa17563d",
	3: "3759ba4f68600ff92413cf73e6e13f5dd882ae98710e72c6fd1d79159c0cf799747fbd10c8f6596bb437765e939fe4c2",
	4: "42d345490525378508c32076a94c2b5acbce63470554c087d65b3c5ec6ffcfab06bae9ac8bf1892043d539eb796e7ccd",
}

func mustDecodeHex(hexStr string) []byte {
	bytes, err := hex.DecodeString(hexStr)
	if err != nil {
		panic(fmt.Sprintf("invalid hex string: %s", hexStr))
	}
	return bytes
}

// CreateMockEnclave builds a mock NSM whose attestations carry the
// caller's user data and nonce inside a well-formed (but unsigned)
// Nitro document, so tests can parse what the real device would emit.
func CreateMockEnclave(t *testing.T) *MockEnclaveHandle {
	t.Helper()
	return &MockEnclaveHandle{
		AttestFunc: func(options enclave.AttestationOptions) ([]byte, error) {
			pcrs := make(map[uint64][]byte, len(mockPCRs))
			for idx, hexValue := range mockPCRs {
				pcrs[idx] = mustDecodeHex(hexValue)
			}
			doc := map[string]any{
				"module_id":   "i-0openbid0mock0000-enc0123456789abcde",
				"digest":      "SHA384",
				"timestamp":   uint64(1234567890),
				"pcrs":        pcrs,
				"certificate": []byte("mock-signing-certificate"),
				"cabundle":    [][]byte{[]byte("mock-intermediate-ca")},
				"public_key":  []byte("mock-instance-key"),
				"user_data":   options.UserData,
				"nonce":       options.Nonce,
			}
			payload, err := cbor.Marshal(doc)
			if err != nil {
				return nil, err
			}

			// Untagged COSE_Sign1 shape: [protected, unprotected,
			// payload, signature]. The signature is junk; tests that
			// need it valid use a real signer.
			return cbor.Marshal([]any{
				[]byte{0x01, 0x02, 0x03},
				map[string]any{},
				payload,
				[]byte{0x04, 0x05, 0x06},
			})
		},
	}
}

// decodeAttestationDoc is a shared test helper that parses COSE attestation
// bytes down to the nested Nitro document
func decodeAttestationDoc(t *testing.T, coseBytes enclaveapi.AttestationCOSE) *parsing.NitroAttestationDocument {
	t.Helper()

	payload, err := parsing.ExtractCOSEPayload(coseBytes)
	if err != nil {
		t.Fatalf("Failed to extract COSE payload: %v", err)
	}

	var doc parsing.NitroAttestationDocument
	if err := cbor.Unmarshal(payload, &doc); err != nil {
		t.Fatalf("Failed to parse attestation document: %v", err)
	}
	return &doc
}

// parseSettlementAttestation parses COSE attestation bytes and decodes the
// settlement user data they carry
func parseSettlementAttestation(t *testing.T, coseBytes enclaveapi.AttestationCOSE) (*parsing.NitroAttestationDocument, *enclaveapi.SettlementAttestationUserData) {
	t.Helper()

	doc := decodeAttestationDoc(t, coseBytes)
	var userData enclaveapi.SettlementAttestationUserData
	if err := json.Unmarshal(doc.UserData, &userData); err != nil {
		t.Fatalf("Failed to unmarshal user data: %v", err)
	}
	return doc, &userData
}

// parseKeyAttestation parses COSE attestation bytes and decodes the key
// distribution user data they carry
func parseKeyAttestation(t *testing.T, coseBytes enclaveapi.AttestationCOSE) (*parsing.NitroAttestationDocument, *enclaveapi.KeyAttestationUserData) {
	t.Helper()

	doc := decodeAttestationDoc(t, coseBytes)
	var userData enclaveapi.KeyAttestationUserData
	if err := json.Unmarshal(doc.UserData, &userData); err != nil {
		t.Fatalf("Failed to unmarshal user data: %v", err)
	}
	return doc, &userData
}
