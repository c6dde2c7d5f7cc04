package parsing

import (
	"encoding/base64"
	"fmt"

	"github.com/cloudx-io/openbid/enclaveapi"
)

// PCR indices assigned by the Nitro hypervisor. Indices 5-7 are
// reserved and always zero, so they are not carried.
const (
	pcrImage       = 0
	pcrKernel      = 1
	pcrApplication = 2
	pcrIAMRole     = 3
	pcrInstanceID  = 4
	pcrSigningCert = 8
)

// NitroAttestationDocument is the CBOR payload of an AWS Nitro
// attestation, as produced by the NSM. Field names follow the document
// format and must not change.
type NitroAttestationDocument struct {
	ModuleID    string            `cbor:"module_id"`
	Digest      string            `cbor:"digest"`
	Timestamp   uint64            `cbor:"timestamp"`
	PCRs        map[uint64][]byte `cbor:"pcrs"`
	Certificate []byte            `cbor:"certificate"`
	CABundle    [][]byte          `cbor:"cabundle"`
	PublicKey   []byte            `cbor:"public_key"`
	UserData    []byte            `cbor:"user_data"`
	Nonce       []byte            `cbor:"nonce"`
}

func formatPCR(pcrData []byte) string {
	if len(pcrData) == 0 {
		return ""
	}
	return fmt.Sprintf("%x", pcrData)
}

// EncodeCertificateBundle renders the CA bundle as base64 strings for
// report output.
func EncodeCertificateBundle(bundle [][]byte) []string {
	encoded := make([]string, len(bundle))
	for i, cert := range bundle {
		encoded[i] = base64.StdEncoding.EncodeToString(cert)
	}
	return encoded
}

// ExtractPCRs maps the raw PCR registers onto their named measurements.
// Registers absent from the document come out as empty strings.
func ExtractPCRs(rawPCRs map[uint64][]byte) enclaveapi.PCRs {
	return enclaveapi.PCRs{
		ImageFileHash:   formatPCR(rawPCRs[pcrImage]),
		KernelHash:      formatPCR(rawPCRs[pcrKernel]),
		ApplicationHash: formatPCR(rawPCRs[pcrApplication]),
		IAMRoleHash:     formatPCR(rawPCRs[pcrIAMRole]),
		InstanceIDHash:  formatPCR(rawPCRs[pcrInstanceID]),
		SigningCertHash: formatPCR(rawPCRs[pcrSigningCert]),
	}
}
