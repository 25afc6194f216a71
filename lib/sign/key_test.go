// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package sign

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func generateTestKey(t *testing.T, comment string) (*KeySigner, VerificationKey) {
	t.Helper()
	pemBytes, public, err := GenerateKey(comment, nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	signer, err := ParsePrivateKey(pemBytes, nil)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	return signer, public
}

func TestParseVerificationKeyRoundtrip(t *testing.T) {
	_, public := generateTestKey(t, "alice@example.org")

	text, err := public.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	parsed, err := ParseVerificationKey(string(text))
	if err != nil {
		t.Fatalf("ParseVerificationKey(%q): %v", text, err)
	}
	if !parsed.Equal(public) {
		t.Error("parsed key differs from original")
	}
	if parsed.Comment() != "alice@example.org" {
		t.Errorf("comment = %q, want alice@example.org", parsed.Comment())
	}
	if parsed.ID() != public.ID() {
		t.Errorf("fingerprint changed across roundtrip: %s != %s", parsed.ID(), public.ID())
	}
}

func TestParseVerificationKeyRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"not a key at all",
		"ssh-ed25519",
		"ssh-ed25519 AAAA!!!invalid-base64",
	}
	for _, input := range cases {
		if _, err := ParseVerificationKey(input); err == nil {
			t.Errorf("ParseVerificationKey(%q) succeeded, want error", input)
		}
	}
}

func TestKeyIDFormat(t *testing.T) {
	_, public := generateTestKey(t, "")
	if !strings.HasPrefix(string(public.ID()), "SHA256:") {
		t.Errorf("key id %q lacks SHA256: prefix", public.ID())
	}
}

func TestSignAndVerify(t *testing.T) {
	signer, public := generateTestKey(t, "")
	payload := []byte("canonical payload bytes")

	signature, err := signer.Sign(context.Background(), payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := public.Verify(payload, signature); err != nil {
		t.Errorf("Verify rejected a valid signature: %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	signer, public := generateTestKey(t, "")
	signature, err := signer.Sign(context.Background(), []byte("original"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := public.Verify([]byte("tampered"), signature); err == nil {
		t.Error("Verify accepted a signature over different bytes")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	signer, _ := generateTestKey(t, "")
	_, otherPublic := generateTestKey(t, "")

	signature, err := signer.Sign(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := otherPublic.Verify([]byte("payload"), signature); err == nil {
		t.Error("Verify accepted a signature from a different key")
	}
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	_, public := generateTestKey(t, "")
	if err := public.Verify([]byte("payload"), Signature("junk")); err == nil {
		t.Error("Verify accepted undecodable signature bytes")
	}
}

func TestAlgorithms(t *testing.T) {
	payload := []byte("multi-algorithm payload")

	ecdsaKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating ECDSA key: %v", err)
	}
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}

	ed25519Signer, _ := generateTestKey(t, "")
	ecdsaSigner, err := NewSignerFromKey(ecdsaKey)
	if err != nil {
		t.Fatalf("NewSignerFromKey(ecdsa): %v", err)
	}
	rsaSigner, err := NewSignerFromKey(rsaKey)
	if err != nil {
		t.Fatalf("NewSignerFromKey(rsa): %v", err)
	}

	cases := []struct {
		name      string
		signer    *KeySigner
		algorithm string
	}{
		{"ed25519", ed25519Signer, ssh.KeyAlgoED25519},
		{"ecdsa-p256", ecdsaSigner, ssh.KeyAlgoECDSA256},
		{"rsa-2048", rsaSigner, ssh.KeyAlgoRSA},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			public := testCase.signer.Public()
			if public.Algorithm() != testCase.algorithm {
				t.Errorf("algorithm = %q, want %q", public.Algorithm(), testCase.algorithm)
			}
			signature, err := testCase.signer.Sign(context.Background(), payload)
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			if err := public.Verify(payload, signature); err != nil {
				t.Errorf("Verify: %v", err)
			}
		})
	}
}

func TestRSASignsWithSHA2(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	signer, err := NewSignerFromKey(rsaKey)
	if err != nil {
		t.Fatalf("NewSignerFromKey: %v", err)
	}

	signature, err := signer.Sign(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	var wire ssh.Signature
	if err := ssh.Unmarshal(signature, &wire); err != nil {
		t.Fatalf("decoding signature wire form: %v", err)
	}
	if wire.Format != ssh.KeyAlgoRSASHA256 {
		t.Errorf("RSA signature format = %q, want %q", wire.Format, ssh.KeyAlgoRSASHA256)
	}
}

func TestEqualIgnoresComment(t *testing.T) {
	_, public := generateTestKey(t, "work laptop")
	text, err := public.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	relabeled, err := ParseVerificationKey(strings.Replace(string(text), "work laptop", "home desktop", 1))
	if err != nil {
		t.Fatalf("ParseVerificationKey: %v", err)
	}
	if !relabeled.Equal(public) {
		t.Error("comment change broke key equality")
	}
	if relabeled.ID() != public.ID() {
		t.Error("comment change altered the fingerprint")
	}
}

func TestZeroKey(t *testing.T) {
	var zero VerificationKey
	if !zero.IsZero() {
		t.Error("zero value not reported as zero")
	}
	if err := zero.Verify([]byte("payload"), Signature("sig")); err == nil {
		t.Error("Verify succeeded with zero key")
	}
	if _, err := zero.MarshalText(); err == nil {
		t.Error("MarshalText succeeded with zero key")
	}
}
