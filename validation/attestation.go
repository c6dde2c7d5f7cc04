package validation

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	enclaveapi "github.com/cloudx-io/openbid/enclaveapi"
	"github.com/cloudx-io/openbid/enclaveapi/parsing"
)

// parseAttestationDoc decodes base64 COSE bytes from the Nitro Secure Module
// and converts the CBOR payload into the wire attestation representation.
// Returns the document plus the raw user_data bytes for type-specific parsing.
func parseAttestationDoc(attestationCOSEBase64 enclaveapi.AttestationCOSEBase64) (enclaveapi.AttestationDoc, []byte, error) {
	coseBytes, err := attestationCOSEBase64.Decode()
	if err != nil {
		return enclaveapi.AttestationDoc{}, nil, fmt.Errorf("decode COSE bytes: %w", err)
	}

	payload, err := parsing.ExtractCOSEPayload(coseBytes)
	if err != nil {
		return enclaveapi.AttestationDoc{}, nil, fmt.Errorf("extract COSE payload: %w", err)
	}

	var doc parsing.NitroAttestationDocument
	if err := cbor.Unmarshal(payload, &doc); err != nil {
		return enclaveapi.AttestationDoc{}, nil, fmt.Errorf("parse attestation document: %w", err)
	}

	attestationDoc := enclaveapi.AttestationDoc{
		ModuleID:        doc.ModuleID,
		Timestamp:       time.UnixMilli(int64(doc.Timestamp)),
		DigestAlgorithm: doc.Digest,
		PCRs:            parsing.ExtractPCRs(doc.PCRs),
		Certificate:     base64.StdEncoding.EncodeToString(doc.Certificate),
		CABundle:        parsing.EncodeCertificateBundle(doc.CABundle),
		PublicKey:       base64.StdEncoding.EncodeToString(doc.PublicKey),
		Nonce:           string(doc.Nonce),
	}
	return attestationDoc, doc.UserData, nil
}

// validateCommonAttestation runs the checks every attestation kind shares:
// PCR measurements, certificate chain, and the COSE signature over the
// document. Key and settlement validation layer their own checks on top.
func validateCommonAttestation(attestationCOSEBase64 enclaveapi.AttestationCOSEBase64) (*BaseValidationResult, error) {
	attestationDoc, _, err := parseAttestationDoc(attestationCOSEBase64)
	if err != nil {
		return nil, err
	}

	result := &BaseValidationResult{ValidationDetails: []string{}}
	if err := checkPCRMeasurements(&attestationDoc, result); err != nil {
		return nil, err
	}
	checkCertificateChain(&attestationDoc, result)
	checkDocumentSignature(attestationCOSEBase64, attestationDoc.Certificate, result)
	return result, nil
}

// checkPCRMeasurements matches the attested PCRs against the pinned sets.
// A missing or empty pin configuration is an error, not a failed check:
// without pins there is nothing to measure against.
func checkPCRMeasurements(doc *enclaveapi.AttestationDoc, result *BaseValidationResult) error {
	knownPCRs, err := LoadPCRsFromFile(DefaultPCRConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load PCR configuration: %w", err)
	}

	match, matchedSet := ValidatePCRs(doc.PCRs, knownPCRs)
	result.PCRsValid = match
	if !match {
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("PCR0: %s (no match)", doc.PCRs.ImageFileHash),
			fmt.Sprintf("PCR1: %s (no match)", doc.PCRs.KernelHash),
			fmt.Sprintf("PCR2: %s (no match)", doc.PCRs.ApplicationHash))
		return nil
	}

	result.ValidationDetails = append(result.ValidationDetails, "PCR measurements valid")
	if matchedSet >= 0 && matchedSet < len(knownPCRs) {
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Matched PCR set: #%d (commit: %s)", matchedSet, knownPCRs[matchedSet].CommitHash))
	}
	return nil
}

// checkCertificateChain walks the bundled chain up to the AWS Nitro root,
// evaluated at the attestation timestamp rather than the wall clock.
func checkCertificateChain(doc *enclaveapi.AttestationDoc, result *BaseValidationResult) {
	switch {
	case doc.Certificate == "":
		result.ValidationDetails = append(result.ValidationDetails, "Missing certificate")
	case len(doc.CABundle) == 0:
		result.ValidationDetails = append(result.ValidationDetails, "Missing CA bundle")
	default:
		if err := ValidateCertificateChain(doc.Certificate, doc.CABundle, doc.Timestamp); err != nil {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Certificate chain validation failed: %v", err))
			return
		}
		result.CertificateValid = true
		result.ValidationDetails = append(result.ValidationDetails, "Certificate chain verified")
	}
}

// checkDocumentSignature verifies the COSE_Sign1 signature with the public
// key carried in the attested certificate.
func checkDocumentSignature(attestationCOSEBase64 enclaveapi.AttestationCOSEBase64, certB64 string, result *BaseValidationResult) {
	if err := VerifyCOSESignature(attestationCOSEBase64, certB64); err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("COSE signature verification failed: %v", err))
		return
	}
	result.SignatureValid = true
	result.ValidationDetails = append(result.ValidationDetails, "COSE signature verified")
}
