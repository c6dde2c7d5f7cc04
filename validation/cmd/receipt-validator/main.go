// Command receipt-validator checks a signed settlement receipt offline:
// the house signature, the fee split arithmetic, the standings, and, when
// an attestation accompanies the receipt, the enclave measurements and the
// binding between attestation and receipt.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	enclaveapi "github.com/cloudx-io/openbid/enclaveapi"
	"github.com/cloudx-io/openbid/validation"
)

// Exit codes, stable for scripting.
const (
	exitPassed = 0 // every check passed
	exitFailed = 1 // receipt examined, at least one check failed
	exitError  = 2 // could not run the validation at all
)

// lineHandler renders each record as a bare line of text. CLI output wants
// no timestamps or level prefixes.
type lineHandler struct{ w io.Writer }

func (h lineHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h lineHandler) WithAttrs([]slog.Attr) slog.Handler       { return h }
func (h lineHandler) WithGroup(string) slog.Handler            { return h }

func (h lineHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintln(h.w, r.Message)
	return err
}

func newPlainLogger(w io.Writer) *slog.Logger {
	return slog.New(lineHandler{w: w})
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		receiptArg     = flag.String("receipt", "", "finalize response JSON or bare base64 receipt, as a path or inline (required)")
		keyPath        = flag.String("public-key", "", "house public key PEM to check the signature against (required)")
		attestationArg = flag.String("attestation", "", "settlement attestation base64, as a path or inline (optional)")
		format         = flag.String("format", "text", "output format, text or json")
		help           = flag.Bool("help", false, "print usage and exit")
	)
	flag.Parse()

	out := newPlainLogger(os.Stdout)
	if *help {
		printUsage(out)
		return exitPassed
	}
	if *receiptArg == "" || *keyPath == "" {
		printUsage(out)
		fmt.Fprintln(os.Stderr, "receipt-validator: --receipt and --public-key are both required")
		return exitError
	}

	input, err := buildInput(*receiptArg, *keyPath, *attestationArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "receipt-validator: %v\n", err)
		return exitError
	}

	result, err := validation.ValidateSettlementReceipt(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "receipt-validator: validate: %v\n", err)
		return exitError
	}

	switch *format {
	case "json":
		if err := renderJSON(out, result); err != nil {
			fmt.Fprintf(os.Stderr, "receipt-validator: render: %v\n", err)
			return exitError
		}
	default:
		renderText(out, result)
	}

	if !result.IsValid() {
		return exitFailed
	}
	return exitPassed
}

// buildInput assembles the validation input from the CLI arguments. The
// receipt argument accepts either a full finalize response JSON, in which
// case the receipt and any attestation are lifted out of it, or the bare
// base64 receipt itself. An explicit --attestation wins over one found in
// a finalize response.
func buildInput(receiptArg, keyPath, attestationArg string) (*validation.ReceiptValidationInput, error) {
	input := &validation.ReceiptValidationInput{}

	raw := strings.TrimSpace(valueOrFile(receiptArg))
	if strings.HasPrefix(raw, "{") {
		var response enclaveapi.FinalizeResponse
		if err := json.Unmarshal([]byte(raw), &response); err != nil {
			return nil, fmt.Errorf("parse finalize response: %w", err)
		}
		if response.Receipt == "" {
			return nil, fmt.Errorf("finalize response carries no receipt")
		}
		input.ReceiptCOSEBase64 = response.Receipt
		input.AttestationCOSEBase64 = response.Attestation
	} else {
		input.ReceiptCOSEBase64 = enclaveapi.ReceiptCOSEBase64(raw)
	}

	if attestationArg != "" {
		attestation := strings.TrimSpace(valueOrFile(attestationArg))
		input.AttestationCOSEBase64 = enclaveapi.AttestationCOSEBase64(attestation)
	}

	pemData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	input.PublicKeyPEM = string(pemData)

	return input, nil
}

// valueOrFile returns the file contents when the argument names a readable
// file, otherwise the argument itself.
func valueOrFile(arg string) string {
	if data, err := os.ReadFile(arg); err == nil {
		return string(data)
	}
	return arg
}

type checkRow struct {
	label string
	ok    bool
}

func checkRows(result *validation.ReceiptValidationResult) []checkRow {
	rows := []checkRow{
		{"Receipt signature:", result.ReceiptSignatureValid},
		{"Fee split:", result.FeeValid},
		{"Payout:", result.PayoutValid},
		{"Winner:", result.WinnerValid},
		{"Standings:", result.StandingsValid},
		{"Timing:", result.ClosingValid},
	}
	if result.AttestationValidated {
		rows = append(rows,
			checkRow{"PCR measurements:", result.PCRsValid},
			checkRow{"Certificate chain:", result.CertificateValid},
			checkRow{"Attestation signature:", result.SignatureValid},
			checkRow{"Receipt binding:", result.ReceiptHashValid},
			checkRow{"Signing key match:", result.PublicKeyMatch},
		)
	}
	return rows
}

func verdict(ok bool) string {
	if ok {
		return "ok"
	}
	return "FAILED"
}

func renderText(out *slog.Logger, result *validation.ReceiptValidationResult) {
	out.Info("Settlement receipt")
	out.Info("------------------")
	if r := result.Receipt; r != nil {
		out.Info(fmt.Sprintf("  Receipt:   %s", r.ReceiptID))
		out.Info(fmt.Sprintf("  Auction:   %s", r.AuctionID))
		if r.Winner == "" {
			out.Info("  Winner:    (no bids)")
		} else {
			out.Info(fmt.Sprintf("  Winner:    %s", r.Winner))
		}
		out.Info(fmt.Sprintf("  Amount:    %s", r.Amount))
		out.Info(fmt.Sprintf("  Fee:       %s", r.Fee))
		out.Info(fmt.Sprintf("  Payout:    %s", r.Payout))
		out.Info("")
	}

	for _, row := range checkRows(result) {
		out.Info(fmt.Sprintf("  %-23s %s", row.label, verdict(row.ok)))
	}
	if !result.AttestationValidated {
		out.Info("  (no attestation provided, enclave checks skipped)")
	}

	out.Info("")
	for _, detail := range result.ValidationDetails {
		out.Info("  " + detail)
	}

	out.Info("")
	if result.IsValid() {
		out.Info("Result: PASSED")
	} else {
		out.Info("Result: FAILED")
	}
}

func renderJSON(out *slog.Logger, result *validation.ReceiptValidationResult) error {
	output := map[string]any{
		"valid":                   result.IsValid(),
		"receipt_signature_valid": result.ReceiptSignatureValid,
		"fee_valid":               result.FeeValid,
		"payout_valid":            result.PayoutValid,
		"winner_valid":            result.WinnerValid,
		"standings_valid":         result.StandingsValid,
		"closing_valid":           result.ClosingValid,
		"attestation_validated":   result.AttestationValidated,
		"details":                 result.ValidationDetails,
	}
	if result.AttestationValidated {
		output["pcrs_valid"] = result.PCRsValid
		output["certificate_valid"] = result.CertificateValid
		output["signature_valid"] = result.SignatureValid
		output["receipt_hash_valid"] = result.ReceiptHashValid
		output["public_key_match"] = result.PublicKeyMatch
	}
	if result.Receipt != nil {
		output["receipt"] = result.Receipt
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	out.Info(string(data))
	return nil
}

func printUsage(out *slog.Logger) {
	out.Info("receipt-validator checks a signed settlement receipt offline.")
	out.Info("")
	out.Info("Point --receipt at the finalize response the service returned, saved to a")
	out.Info("file or pasted inline. The receipt and any attestation are lifted out of it.")
	out.Info("A bare base64 receipt works too, with --attestation supplying the enclave")
	out.Info("attestation separately when there is one.")
	out.Info("")
	out.Info("The public key comes from a key request; save the public_key field to a PEM")
	out.Info("file for --public-key.")
	out.Info("")
	out.Info("Usage:")
	out.Info("  receipt-validator --receipt <finalize.json> --public-key <key.pem> [--format text|json]")
	out.Info("  receipt-validator --receipt <base64> --attestation <base64> --public-key <key.pem>")
	out.Info("")
	out.Info("Checks performed:")
	out.Info("  COSE signature against the house receipt-signing key")
	out.Info("  fee and payout recomputed from the winning amount")
	out.Info("  winner present in the standings, standings well formed")
	out.Info("  finalization at or after the closing time")
	out.Info("  with an attestation: PCR measurements, certificate chain, attestation")
	out.Info("  signature, and the receipt hash and signing key bound in its user data")
	out.Info("")
	out.Info("Exit codes: 0 all checks passed, 1 a check failed, 2 could not validate.")
	out.Info("")
	out.Info("For programmatic use import github.com/cloudx-io/openbid/validation.")
}
