// Command key-validator checks an enclave attestation of the house
// receipt-signing key against a pinned set of PCR measurements and the
// AWS Nitro certificate chain.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	enclaveapi "github.com/cloudx-io/openbid/enclaveapi"
	"github.com/cloudx-io/openbid/validation"
)

// Exit codes, stable for scripting.
const (
	exitPassed = 0 // every check passed
	exitFailed = 1 // attestation examined, at least one check failed
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
		responsePath = flag.String("attestation", "", "key response JSON holding the attestation (required)")
		keyPath      = flag.String("public-key", "", "house public key PEM to check against (required)")
		format       = flag.String("format", "text", "output format, text or json")
		help         = flag.Bool("help", false, "print usage and exit")
	)
	flag.Parse()

	out := newPlainLogger(os.Stdout)
	if *help {
		printUsage(out)
		return exitPassed
	}
	if *responsePath == "" || *keyPath == "" {
		printUsage(out)
		fmt.Fprintln(os.Stderr, "key-validator: --attestation and --public-key are both required")
		return exitError
	}

	attestation, publicKey, err := loadInputs(*responsePath, *keyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "key-validator: %v\n", err)
		return exitError
	}

	result, err := validation.ValidateKeyAttestation(attestation, publicKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "key-validator: validate: %v\n", err)
		return exitError
	}

	switch *format {
	case "json":
		if err := renderJSON(out, result); err != nil {
			fmt.Fprintf(os.Stderr, "key-validator: render: %v\n", err)
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

// loadInputs reads the key response JSON and the house public key PEM.
func loadInputs(responsePath, keyPath string) (enclaveapi.AttestationCOSEBase64, string, error) {
	data, err := os.ReadFile(responsePath)
	if err != nil {
		return "", "", fmt.Errorf("read key response: %w", err)
	}

	var response enclaveapi.KeyResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return "", "", fmt.Errorf("parse key response: %w", err)
	}
	if response.Attestation == "" {
		return "", "", fmt.Errorf("key response carries no key_attestation")
	}

	pemData, err := os.ReadFile(keyPath)
	if err != nil {
		return "", "", fmt.Errorf("read public key: %w", err)
	}

	return response.Attestation, string(pemData), nil
}

type checkRow struct {
	label string
	ok    bool
}

func checkRows(result *validation.KeyValidationResult) []checkRow {
	return []checkRow{
		{"PCR measurements:", result.PCRsValid},
		{"Certificate chain:", result.CertificateValid},
		{"COSE signature:", result.SignatureValid},
		{"Public key match:", result.PublicKeyMatch},
	}
}

func verdict(ok bool) string {
	if ok {
		return "ok"
	}
	return "FAILED"
}

func renderText(out *slog.Logger, result *validation.KeyValidationResult) {
	out.Info("House key attestation")
	out.Info("---------------------")
	for _, row := range checkRows(result) {
		out.Info(fmt.Sprintf("  %-20s %s", row.label, verdict(row.ok)))
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

func renderJSON(out *slog.Logger, result *validation.KeyValidationResult) error {
	data, err := json.MarshalIndent(map[string]any{
		"valid":             result.IsValid(),
		"pcrs_valid":        result.PCRsValid,
		"certificate_valid": result.CertificateValid,
		"signature_valid":   result.SignatureValid,
		"public_key_match":  result.PublicKeyMatch,
		"details":           result.ValidationDetails,
	}, "", "  ")
	if err != nil {
		return err
	}
	out.Info(string(data))
	return nil
}

func printUsage(out *slog.Logger) {
	out.Info("key-validator checks an enclave attestation of the house receipt-signing key.")
	out.Info("")
	out.Info("The attestation comes from a key request against the auction service. Save the")
	out.Info("whole JSON response to a file and point --attestation at it; the public_key")
	out.Info("field goes into its own PEM file for --public-key.")
	out.Info("")
	out.Info("Usage:")
	out.Info("  key-validator --attestation <response.json> --public-key <key.pem> [--format text|json]")
	out.Info("")
	out.Info("Checks performed:")
	out.Info("  PCR measurements against the pinned enclave image values")
	out.Info("  certificate chain up to the AWS Nitro root, at the attestation timestamp")
	out.Info("  COSE signature over the attestation document")
	out.Info("  attested public key against the key supplied with --public-key")
	out.Info("")
	out.Info("Exit codes: 0 all checks passed, 1 a check failed, 2 could not validate.")
	out.Info("")
	out.Info("For programmatic use import github.com/cloudx-io/openbid/validation.")
}
