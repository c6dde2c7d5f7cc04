package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/cloudx-io/openbid/core"
	enclaveapi "github.com/cloudx-io/openbid/enclaveapi"
	"github.com/cloudx-io/openbid/enclaveapi/parsing"
)

// ReceiptValidationInput contains all inputs needed for settlement receipt validation
type ReceiptValidationInput struct {
	// ReceiptCOSEBase64 is the signed receipt from the finalize response
	ReceiptCOSEBase64 enclaveapi.ReceiptCOSEBase64

	// PublicKeyPEM is the house signing key, as distributed by a key request
	PublicKeyPEM string

	// AttestationCOSEBase64 is the settlement attestation from the finalize
	// response. Empty when the service runs outside an enclave.
	AttestationCOSEBase64 enclaveapi.AttestationCOSEBase64
}

// ValidateSettlementReceipt validates a signed settlement receipt
//
// The receipt signature is checked against the house public key and the
// settlement figures are recomputed from the winning amount. When an
// attestation accompanies the receipt it is validated like a key
// attestation and then bound to this receipt through the receipt hash and
// signing key carried in its user data.
//
// Returns:
//   - ReceiptValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., malformed input, missing config)
func ValidateSettlementReceipt(input *ReceiptValidationInput) (*ReceiptValidationResult, error) {
	coseBytes, err := input.ReceiptCOSEBase64.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}

	payload, err := parsing.ExtractCOSEPayload(coseBytes)
	if err != nil {
		return nil, fmt.Errorf("extract receipt payload: %w", err)
	}

	receipt, err := enclaveapi.DecodeSettlementReceipt(payload)
	if err != nil {
		return nil, fmt.Errorf("decode receipt payload: %w", err)
	}

	result := &ReceiptValidationResult{
		Receipt: &receipt,
	}
	result.ValidationDetails = []string{}

	if input.AttestationCOSEBase64 != "" {
		baseResult, err := validateCommonAttestation(input.AttestationCOSEBase64)
		if err != nil {
			return nil, err
		}
		result.BaseValidationResult = *baseResult
		result.AttestationValidated = true
		validateReceiptBinding(input, payload, result)
	} else {
		result.ValidationDetails = append(result.ValidationDetails, "No attestation provided, enclave checks skipped")
	}

	result.ReceiptSignatureValid = validateReceiptSignature(coseBytes, input.PublicKeyPEM, result)
	result.FeeValid, result.PayoutValid = validateSettlementSplit(&receipt, result)
	result.WinnerValid = validateWinner(&receipt, result)
	result.StandingsValid = validateStandings(&receipt, result)
	result.ClosingValid = validateSettlementTiming(&receipt, result)

	return result, nil
}

// validateReceiptSignature checks the receipt's COSE signature against the house key
func validateReceiptSignature(coseBytes enclaveapi.ReceiptCOSE, publicKeyPEM string, result *ReceiptValidationResult) bool {
	if err := VerifyReceiptSignature(coseBytes, publicKeyPEM); err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Receipt signature verification failed: %v", err))
		return false
	}
	result.ValidationDetails = append(result.ValidationDetails, "Receipt signature verified against house key")
	return true
}

// validateSettlementSplit recomputes the fee split from the winning amount
// and checks the receipt's fee and payout against it
func validateSettlementSplit(receipt *enclaveapi.SettlementReceipt, result *ReceiptValidationResult) (bool, bool) {
	amount, err := enclaveapi.ParseAmount(receipt.Amount)
	if err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Winning amount invalid: %v", err))
		return false, false
	}

	feeOK := false
	expectedFee := core.Fee(amount)
	fee, err := enclaveapi.ParseAmount(receipt.Fee)
	switch {
	case err != nil:
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Fee invalid: %v", err))
	case fee.Cmp(expectedFee) != 0:
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Fee mismatch: receipt says %s, %d%% of %s is %s",
				receipt.Fee, core.FeePercent, receipt.Amount, enclaveapi.FormatAmount(expectedFee)))
	default:
		feeOK = true
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Fee valid: %d%% of winning amount", core.FeePercent))
	}

	payoutOK := false
	expectedPayout := new(big.Int).Sub(amount, expectedFee)
	payout, err := enclaveapi.ParseAmount(receipt.Payout)
	switch {
	case err != nil:
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Payout invalid: %v", err))
	case payout.Cmp(expectedPayout) != 0:
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Payout mismatch: receipt says %s, expected %s",
				receipt.Payout, enclaveapi.FormatAmount(expectedPayout)))
	default:
		payoutOK = true
		result.ValidationDetails = append(result.ValidationDetails, "Payout valid: winning amount minus fee")
	}

	return feeOK, payoutOK
}

// validateWinner checks the winner appears in the final standings. A receipt
// with no winner is a no-bids settlement and must carry a zero amount.
func validateWinner(receipt *enclaveapi.SettlementReceipt, result *ReceiptValidationResult) bool {
	if receipt.Winner == "" {
		amount, err := enclaveapi.ParseAmount(receipt.Amount)
		if err != nil || amount.Sign() != 0 {
			result.ValidationDetails = append(result.ValidationDetails, "No winner but winning amount is not zero")
			return false
		}
		result.ValidationDetails = append(result.ValidationDetails, "No-bids settlement: no winner, zero amount")
		return true
	}

	for _, standing := range receipt.Standings {
		if standing.Account == receipt.Winner {
			result.ValidationDetails = append(result.ValidationDetails, "Winner present in standings")
			return true
		}
	}
	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Winner %s not present in standings", receipt.Winner))
	return false
}

// validateStandings checks every standing carries a well-formed deposit amount
func validateStandings(receipt *enclaveapi.SettlementReceipt, result *ReceiptValidationResult) bool {
	for _, standing := range receipt.Standings {
		if _, err := enclaveapi.ParseAmount(standing.Deposit); err != nil {
			result.ValidationDetails = append(result.ValidationDetails,
				fmt.Sprintf("Standing for %s has invalid deposit: %v", standing.Account, err))
			return false
		}
	}
	result.ValidationDetails = append(result.ValidationDetails,
		fmt.Sprintf("Standings valid: %d entries", len(receipt.Standings)))
	return true
}

// validateSettlementTiming checks the receipt was finalized at or after closing
func validateSettlementTiming(receipt *enclaveapi.SettlementReceipt, result *ReceiptValidationResult) bool {
	if receipt.Closing <= 0 {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Closing time invalid: %d", receipt.Closing))
		return false
	}
	if receipt.FinalizedAt < receipt.Closing {
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Finalized at %d before closing %d", receipt.FinalizedAt, receipt.Closing))
		return false
	}
	result.ValidationDetails = append(result.ValidationDetails, "Settlement timing valid: finalized at or after closing")
	return true
}

// validateReceiptBinding ties the attestation's user data to this receipt
// and to the provided house key
func validateReceiptBinding(input *ReceiptValidationInput, payload []byte, result *ReceiptValidationResult) {
	userData, err := parseSettlementUserData(input.AttestationCOSEBase64)
	if err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Attestation user data unreadable: %v", err))
		return
	}

	hash := sha256.Sum256(payload)
	receiptHash := hex.EncodeToString(hash[:])
	if userData.ReceiptHash == receiptHash {
		result.ReceiptHashValid = true
		result.ValidationDetails = append(result.ValidationDetails, "Attestation bound to receipt: receipt hash matches")
	} else {
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Receipt hash mismatch: attestation says %s, receipt hashes to %s",
				userData.ReceiptHash, receiptHash))
	}

	if strings.TrimSpace(userData.PublicKeyPEM) == strings.TrimSpace(input.PublicKeyPEM) {
		result.PublicKeyMatch = true
		result.ValidationDetails = append(result.ValidationDetails, "Attested signing key matches provided key")
	} else {
		result.ValidationDetails = append(result.ValidationDetails, "Attested signing key does not match provided key")
	}
}

// parseSettlementUserData extracts SettlementAttestationUserData from an attestation
func parseSettlementUserData(attestationCOSEB64 enclaveapi.AttestationCOSEBase64) (*enclaveapi.SettlementAttestationUserData, error) {
	_, userDataBytes, err := parseAttestationDoc(attestationCOSEB64)
	if err != nil {
		return nil, err
	}
	if len(userDataBytes) == 0 {
		return nil, fmt.Errorf("attestation carries no user data")
	}

	var userData enclaveapi.SettlementAttestationUserData
	if err := json.Unmarshal(userDataBytes, &userData); err != nil {
		return nil, fmt.Errorf("parse user data: %w", err)
	}
	return &userData, nil
}
