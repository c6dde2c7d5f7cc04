package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	enclaveapi "github.com/cloudx-io/openbid/enclaveapi"
)

// ValidateKeyAttestation checks an enclave attestation of the house
// receipt-signing key: the enclave measurements, the certificate chain,
// the COSE signature, and that the attested key equals expectedPublicKey.
//
// The returned result carries one detail row per check; IsValid reports the
// overall verdict. An error means the attestation could not be examined at
// all.
func ValidateKeyAttestation(attestationCOSEBase64 enclaveapi.AttestationCOSEBase64, expectedPublicKey string) (*KeyValidationResult, error) {
	baseResult, err := validateCommonAttestation(attestationCOSEBase64)
	if err != nil {
		return nil, err
	}

	keyAttestation, err := parseKeyAttestation(attestationCOSEBase64)
	if err != nil {
		return nil, fmt.Errorf("parse key attestation: %w", err)
	}

	result := &KeyValidationResult{BaseValidationResult: *baseResult}
	result.PublicKeyMatch = matchAttestedKey(keyAttestation.UserData, expectedPublicKey, result)
	return result, nil
}

// matchAttestedKey compares the key carried in the attestation user data
// against the provided PEM. Both sides are trimmed since PEM encoders
// disagree about trailing newlines.
func matchAttestedKey(userData *enclaveapi.KeyAttestationUserData, expectedPublicKey string, result *KeyValidationResult) bool {
	if userData == nil || userData.PublicKeyPEM == "" {
		result.ValidationDetails = append(result.ValidationDetails, "Public key missing from attestation")
		return false
	}
	if strings.TrimSpace(userData.PublicKeyPEM) != strings.TrimSpace(expectedPublicKey) {
		result.ValidationDetails = append(result.ValidationDetails, "Public key mismatch: provided key does not match attested key")
		return false
	}
	result.ValidationDetails = append(result.ValidationDetails, "Public key matches attestation")
	return true
}

// parseKeyAttestation decodes the attestation document and its
// KeyAttestationUserData. UserData stays nil when the document carries none,
// which matchAttestedKey reports as a failed check rather than an error.
func parseKeyAttestation(attestationCOSEB64 enclaveapi.AttestationCOSEBase64) (*enclaveapi.KeyAttestationDoc, error) {
	attestationDoc, userDataBytes, err := parseAttestationDoc(attestationCOSEB64)
	if err != nil {
		return nil, err
	}

	keyAttestation := &enclaveapi.KeyAttestationDoc{AttestationDoc: attestationDoc}
	if len(userDataBytes) > 0 {
		var userData enclaveapi.KeyAttestationUserData
		if err := json.Unmarshal(userDataBytes, &userData); err != nil {
			return nil, fmt.Errorf("parse user data: %w", err)
		}
		keyAttestation.UserData = &userData
	}

	return keyAttestation, nil
}
