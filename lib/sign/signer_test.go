// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package sign

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/deaddrop-io/deaddrop/lib/secret"
)

func TestGenerateKeyRoundtrip(t *testing.T) {
	pemBytes, public, err := GenerateKey("test@deaddrop", nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	signer, err := ParsePrivateKey(pemBytes, nil)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	if !signer.Public().Equal(public) {
		t.Error("parsed private key's public half differs from the generated one")
	}
}

func TestGenerateKeyWithPassphrase(t *testing.T) {
	passphrase, err := secret.NewFromBytes([]byte("correct horse battery"))
	if err != nil {
		t.Fatalf("creating passphrase buffer: %v", err)
	}
	defer passphrase.Close()

	pemBytes, public, err := GenerateKey("", passphrase)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	if _, err := ParsePrivateKey(pemBytes, nil); !errors.Is(err, ErrPassphraseRequired) {
		t.Errorf("parsing encrypted key without passphrase: got %v, want ErrPassphraseRequired", err)
	}

	signer, err := ParsePrivateKey(pemBytes, passphrase)
	if err != nil {
		t.Fatalf("ParsePrivateKey with passphrase: %v", err)
	}
	if !signer.Public().Equal(public) {
		t.Error("decrypted key's public half differs from the generated one")
	}
}

func TestParsePrivateKeyWrongPassphrase(t *testing.T) {
	passphrase, err := secret.NewFromBytes([]byte("right"))
	if err != nil {
		t.Fatalf("creating passphrase buffer: %v", err)
	}
	defer passphrase.Close()

	pemBytes, _, err := GenerateKey("", passphrase)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	wrong, err := secret.NewFromBytes([]byte("wrong"))
	if err != nil {
		t.Fatalf("creating passphrase buffer: %v", err)
	}
	defer wrong.Close()

	if _, err := ParsePrivateKey(pemBytes, wrong); err == nil {
		t.Error("parsing succeeded with the wrong passphrase")
	}
}

func TestParsePrivateKeyGarbage(t *testing.T) {
	if _, err := ParsePrivateKey([]byte("not a pem block"), nil); err == nil {
		t.Error("parsing garbage succeeded")
	}
}

func TestLoadPrivateKey(t *testing.T) {
	pemBytes, public, err := GenerateKey("", nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pemBytes, 0600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}

	signer, err := LoadPrivateKey(path, nil)
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	if !signer.Public().Equal(public) {
		t.Error("loaded key's public half differs from the generated one")
	}
}

func TestLoadPrivateKeyMissingFile(t *testing.T) {
	if _, err := LoadPrivateKey(filepath.Join(t.TempDir(), "absent"), nil); err == nil {
		t.Error("loading a missing file succeeded")
	}
}

func TestLoadPrivateKeyEncryptedWithoutPassphrase(t *testing.T) {
	passphrase, err := secret.NewFromBytes([]byte("locked"))
	if err != nil {
		t.Fatalf("creating passphrase buffer: %v", err)
	}
	defer passphrase.Close()

	pemBytes, _, err := GenerateKey("", passphrase)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pemBytes, 0600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}

	if _, err := LoadPrivateKey(path, nil); !errors.Is(err, ErrPassphraseRequired) {
		t.Errorf("got %v, want ErrPassphraseRequired", err)
	}
}

func TestSignRespectsContext(t *testing.T) {
	signer, _ := generateTestKey(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := signer.Sign(ctx, []byte("payload")); err == nil {
		t.Error("Sign succeeded with a canceled context")
	}
}
