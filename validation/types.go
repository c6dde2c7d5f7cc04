package validation

import (
	enclaveapi "github.com/cloudx-io/openbid/enclaveapi"
)

// BaseValidationResult contains common validation results for all attestation types
type BaseValidationResult struct {
	PCRsValid         bool
	CertificateValid  bool
	SignatureValid    bool
	ValidationDetails []string
}

// KeyValidationResult contains validation results specific to key attestations
type KeyValidationResult struct {
	BaseValidationResult
	PublicKeyMatch bool
}

// IsValid returns true if all key validation checks passed
func (r *KeyValidationResult) IsValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid && r.PublicKeyMatch
}

// ReceiptValidationResult contains validation results specific to settlement
// receipts. The embedded BaseValidationResult describes the enclave
// attestation and is only populated when AttestationValidated is true.
type ReceiptValidationResult struct {
	BaseValidationResult
	ReceiptSignatureValid bool
	FeeValid              bool
	PayoutValid           bool
	WinnerValid           bool
	StandingsValid        bool
	ClosingValid          bool

	// AttestationValidated reports whether an attestation accompanied the
	// receipt. ReceiptHashValid and PublicKeyMatch bind that attestation
	// to this receipt and the provided house key.
	AttestationValidated bool
	ReceiptHashValid     bool
	PublicKeyMatch       bool

	// Receipt is the decoded settlement payload
	Receipt *enclaveapi.SettlementReceipt
}

// IsValid returns true if all receipt validation checks passed. Enclave
// checks count only when an attestation was provided.
func (r *ReceiptValidationResult) IsValid() bool {
	receiptOK := r.ReceiptSignatureValid && r.FeeValid && r.PayoutValid &&
		r.WinnerValid && r.StandingsValid && r.ClosingValid
	if !r.AttestationValidated {
		return receiptOK
	}
	return receiptOK && r.PCRsValid && r.CertificateValid && r.SignatureValid &&
		r.ReceiptHashValid && r.PublicKeyMatch
}

// PCRSet represents a known-good set of PCR measurements
type PCRSet struct {
	PCR0       string `json:"pcr0"`
	PCR1       string `json:"pcr1"`
	PCR2       string `json:"pcr2"`
	CommitHash string `json:"commit_hash"` // openbid repo commit used to build the enclave image
}

// PCRConfig represents the PCR configuration file structure
type PCRConfig struct {
	PCRSets []PCRSet `json:"pcr_sets"`
}
