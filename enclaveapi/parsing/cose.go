package parsing

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// coseSign1Elements is the arity of a COSE_Sign1 message:
// [protected, unprotected, payload, signature].
const coseSign1Elements = 4

// ErrNoPayload reports a COSE_Sign1 message whose payload slot is nil
// or not a byte string.
var ErrNoPayload = errors.New("COSE_Sign1 payload missing or not a byte string")

// ExtractCOSEPayload pulls the payload bytes out of a COSE_Sign1
// message without verifying the signature. Receipt and attestation
// payloads both travel in that slot; callers that need authenticity
// verify the envelope separately.
func ExtractCOSEPayload(coseBytes []byte) ([]byte, error) {
	var elements []any
	if err := cbor.Unmarshal(coseBytes, &elements); err != nil {
		return nil, fmt.Errorf("parse COSE array: %w", err)
	}
	if len(elements) != coseSign1Elements {
		return nil, fmt.Errorf("invalid COSE_Sign1 structure: expected %d elements, got %d", coseSign1Elements, len(elements))
	}

	payload, ok := elements[2].([]byte)
	if !ok {
		return nil, ErrNoPayload
	}
	return payload, nil
}
