package enclaveapi

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
)

// AttestationCOSE is a raw COSE_Sign1 attestation document as produced
// by the Nitro Secure Module.
type AttestationCOSE []byte

// AttestationCOSEBase64 is an attestation document encoded with standard
// base64, the form carried in JSON responses.
type AttestationCOSEBase64 string

// AttestationCOSEURLBase64 is an attestation document encoded with
// unpadded URL-safe base64, the form carried in URLs.
type AttestationCOSEURLBase64 string

// AttestationCOSEGzip is an attestation document gzip-compressed and
// then encoded with unpadded URL-safe base64. Attestation documents run
// to several kilobytes; compression keeps URLs workable.
type AttestationCOSEGzip string

// ReceiptCOSE is a raw COSE_Sign1 settlement receipt signed by the house
// key.
type ReceiptCOSE []byte

// ReceiptCOSEBase64 is a settlement receipt encoded with standard
// base64.
type ReceiptCOSEBase64 string

// EncodeBase64 encodes the attestation with standard base64.
func (a AttestationCOSE) EncodeBase64() AttestationCOSEBase64 {
	return AttestationCOSEBase64(base64.StdEncoding.EncodeToString(a))
}

// EncodeURLSafe encodes the attestation with unpadded URL-safe base64.
func (a AttestationCOSE) EncodeURLSafe() AttestationCOSEURLBase64 {
	return AttestationCOSEURLBase64(base64.RawURLEncoding.EncodeToString(a))
}

// CompressGzip compresses the attestation and encodes it with unpadded
// URL-safe base64.
func (a AttestationCOSE) CompressGzip() (AttestationCOSEGzip, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(a); err != nil {
		return "", fmt.Errorf("gzip attestation: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("gzip attestation: %w", err)
	}
	return AttestationCOSEGzip(base64.RawURLEncoding.EncodeToString(buf.Bytes())), nil
}

func (b AttestationCOSEBase64) String() string {
	return string(b)
}

// Decode recovers the raw attestation bytes.
func (b AttestationCOSEBase64) Decode() (AttestationCOSE, error) {
	data, err := base64.StdEncoding.DecodeString(string(b))
	if err != nil {
		return nil, fmt.Errorf("decode COSE base64: %w", err)
	}
	return AttestationCOSE(data), nil
}

// CompressGzip decodes the attestation and re-encodes it in the
// compressed URL form.
func (b AttestationCOSEBase64) CompressGzip() (AttestationCOSEGzip, error) {
	raw, err := b.Decode()
	if err != nil {
		return "", err
	}
	return raw.CompressGzip()
}

func (u AttestationCOSEURLBase64) String() string {
	return string(u)
}

// Decode recovers the raw attestation bytes from the unpadded URL form.
func (u AttestationCOSEURLBase64) Decode() (AttestationCOSE, error) {
	data, err := base64.RawURLEncoding.DecodeString(string(u))
	if err != nil {
		return nil, fmt.Errorf("decode COSE base64url: %w", err)
	}
	return AttestationCOSE(data), nil
}

func (g AttestationCOSEGzip) String() string {
	return string(g)
}

// Decompress recovers the raw attestation bytes from the compressed URL
// form.
func (g AttestationCOSEGzip) Decompress() (AttestationCOSE, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(string(g))
	if err != nil {
		return nil, fmt.Errorf("decode base64url: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("open gzip reader: %w", err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress attestation: %w", err)
	}
	return AttestationCOSE(data), nil
}

// EncodeBase64 encodes the receipt with standard base64.
func (r ReceiptCOSE) EncodeBase64() ReceiptCOSEBase64 {
	return ReceiptCOSEBase64(base64.StdEncoding.EncodeToString(r))
}

func (b ReceiptCOSEBase64) String() string {
	return string(b)
}

// Decode recovers the raw receipt bytes.
func (b ReceiptCOSEBase64) Decode() (ReceiptCOSE, error) {
	data, err := base64.StdEncoding.DecodeString(string(b))
	if err != nil {
		return nil, fmt.Errorf("decode receipt base64: %w", err)
	}
	return ReceiptCOSE(data), nil
}
