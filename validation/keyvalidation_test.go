package validation

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	enclaveapi "github.com/cloudx-io/openbid/enclaveapi"
)

func keyAttestation(t *testing.T, publicKeyPEM string) enclaveapi.AttestationCOSEBase64 {
	t.Helper()
	userData, err := json.Marshal(&enclaveapi.KeyAttestationUserData{
		KeyAlgorithm: "ECDSA-P384",
		PublicKeyPEM: publicKeyPEM,
	})
	assert.NoError(t, err)
	return buildAttestation(t, userData)
}

func TestValidateKeyAttestation_KeyMatch(t *testing.T) {
	signer := newTestSigner(t)

	result, err := ValidateKeyAttestation(keyAttestation(t, signer.pem), signer.pem)
	assert.NoError(t, err)

	check.True(t, result.PublicKeyMatch)
	check.True(t, slices.Contains(result.ValidationDetails, "Public key matches attestation"))

	// Synthetic attestation fails the enclave checks, so the overall
	// verdict stays negative even with a matching key.
	check.False(t, result.PCRsValid)
	check.False(t, result.CertificateValid)
	check.False(t, result.SignatureValid)
	check.False(t, result.IsValid())
}

func TestValidateKeyAttestation_KeyMismatch(t *testing.T) {
	signer := newTestSigner(t)
	other := newTestSigner(t)

	result, err := ValidateKeyAttestation(keyAttestation(t, signer.pem), other.pem)
	assert.NoError(t, err)

	check.False(t, result.PublicKeyMatch)
	check.False(t, result.IsValid())
}

func TestValidateKeyAttestation_MissingUserData(t *testing.T) {
	result, err := ValidateKeyAttestation(buildAttestation(t, nil), "some-key")
	assert.NoError(t, err)

	check.False(t, result.PublicKeyMatch)
	check.True(t, slices.Contains(result.ValidationDetails, "Public key missing from attestation"))
}

func TestValidateKeyAttestation_MalformedInput(t *testing.T) {
	_, err := ValidateKeyAttestation("!!not-base64!!", "some-key")
	check.Error(t, err)
}
