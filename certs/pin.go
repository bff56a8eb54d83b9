package certs

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrFingerprintMismatch reports a peer whose leaf certificate does not
// match the pinned fingerprint.
var ErrFingerprintMismatch = errors.New("certs: peer certificate fingerprint mismatch")

// Pinned returns a client tls.Config that trusts exactly one peer: the
// certificate whose SHA-256 fingerprint matches. Chain and hostname
// verification are skipped; the pin is the whole trust decision, which is
// what a self-signed collector certificate calls for.
func Pinned(fingerprint [32]byte, nextProtos ...string) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         nextProtos,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return ErrFingerprintMismatch
			}
			if sha256.Sum256(rawCerts[0]) != fingerprint {
				return ErrFingerprintMismatch
			}
			return nil
		},
	}
}

// PinnedBase64 is Pinned for a fingerprint in the base64 form produced by
// CertInfo.FingerprintBase64.
func PinnedBase64(fingerprint string, nextProtos ...string) (*tls.Config, error) {
	raw, err := base64.StdEncoding.DecodeString(fingerprint)
	if err != nil {
		return nil, fmt.Errorf("decode fingerprint: %w", err)
	}
	if len(raw) != sha256.Size {
		return nil, fmt.Errorf("fingerprint is %d bytes, want %d", len(raw), sha256.Size)
	}
	return Pinned([32]byte(raw), nextProtos...), nil
}
