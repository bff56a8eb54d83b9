package certs

import (
	"crypto/x509"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	t.Parallel()
	info, err := Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	cert, err := x509.ParseCertificate(info.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("parse generated certificate: %v", err)
	}
	if cert.Subject.CommonName != "mirrorlink" {
		t.Errorf("common name = %q", cert.Subject.CommonName)
	}
	if err := cert.VerifyHostname("localhost"); err != nil {
		t.Errorf("localhost not covered: %v", err)
	}
	if err := cert.VerifyHostname("127.0.0.1"); err != nil {
		t.Errorf("loopback not covered: %v", err)
	}

	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		t.Errorf("certificate not currently valid: %v - %v", cert.NotBefore, cert.NotAfter)
	}

	if got := len(info.FingerprintBase64()); got != 44 {
		t.Errorf("base64 SHA-256 fingerprint length = %d, want 44", got)
	}
}

func TestGenerateValidityCapped(t *testing.T) {
	t.Parallel()
	for _, validity := range []time.Duration{-time.Hour, 0, 365 * 24 * time.Hour} {
		info, err := Generate(validity)
		if err != nil {
			t.Fatal(err)
		}
		if remaining := time.Until(info.NotAfter); remaining > maxValidity {
			t.Errorf("validity %v: NotAfter %v exceeds the cap", validity, remaining)
		}
	}
}
