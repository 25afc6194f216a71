// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package sign

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"

	"github.com/deaddrop-io/deaddrop/lib/secret"
)

// ErrPassphraseRequired is returned by key loading when the private
// key is encrypted and no passphrase was supplied. Callers should
// prompt and retry.
var ErrPassphraseRequired = errors.New("private key is passphrase-protected")

// Signer produces signatures over canonical payload bytes on behalf
// of a single key.
type Signer interface {
	// Public returns the verification key matching the signing key.
	Public() VerificationKey

	// Sign signs the payload. The payload is raw canonical bytes;
	// the signing algorithm applies its own digest.
	Sign(ctx context.Context, payload []byte) (Signature, error)
}

// KeySigner signs with an in-process private key parsed from OpenSSH
// PEM. For keys held in an ssh-agent, use [DialAgent] instead.
type KeySigner struct {
	signer ssh.Signer
	public VerificationKey
}

// ParsePrivateKey parses an OpenSSH PEM private key. A nil passphrase
// only works for unencrypted keys; encrypted keys return
// [ErrPassphraseRequired] so the caller can prompt.
func ParsePrivateKey(pemBytes []byte, passphrase *secret.Buffer) (*KeySigner, error) {
	var signer ssh.Signer
	var err error
	if passphrase == nil {
		signer, err = ssh.ParsePrivateKey(pemBytes)
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, ErrPassphraseRequired
		}
	} else {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, passphrase.Bytes())
	}
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return &KeySigner{
		signer: signer,
		public: VerificationKey{key: signer.PublicKey()},
	}, nil
}

// LoadPrivateKey reads and parses an OpenSSH PEM private key file.
func LoadPrivateKey(path string, passphrase *secret.Buffer) (*KeySigner, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key %s: %w", path, err)
	}
	signer, err := ParsePrivateKey(pemBytes, passphrase)
	secret.Zero(pemBytes)
	if err != nil && !errors.Is(err, ErrPassphraseRequired) {
		return nil, fmt.Errorf("private key %s: %w", path, err)
	}
	return signer, err
}

// Public returns the verification key matching the signing key.
func (s *KeySigner) Public() VerificationKey {
	return s.public
}

// Sign signs the payload. RSA keys sign with rsa-sha2-256; the legacy
// SHA-1 ssh-rsa algorithm is never produced.
func (s *KeySigner) Sign(ctx context.Context, payload []byte) (Signature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var wire *ssh.Signature
	var err error
	if s.signer.PublicKey().Type() == ssh.KeyAlgoRSA {
		algorithmSigner, ok := s.signer.(ssh.AlgorithmSigner)
		if !ok {
			return nil, fmt.Errorf("RSA signer does not support algorithm selection")
		}
		wire, err = algorithmSigner.SignWithAlgorithm(rand.Reader, payload, ssh.KeyAlgoRSASHA256)
	} else {
		wire, err = s.signer.Sign(rand.Reader, payload)
	}
	if err != nil {
		return nil, fmt.Errorf("signing payload: %w", err)
	}
	return Signature(ssh.Marshal(wire)), nil
}

// GenerateKey creates a new ed25519 keypair. The private key is
// returned as OpenSSH PEM, encrypted under the passphrase when one is
// given. New identities default to ed25519; ECDSA and RSA keys are
// supported for verification and signing but not generated here.
func GenerateKey(comment string, passphrase *secret.Buffer) (privatePEM []byte, public VerificationKey, err error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, VerificationKey{}, fmt.Errorf("generating ed25519 key: %w", err)
	}

	var block *pem.Block
	if passphrase == nil {
		block, err = ssh.MarshalPrivateKey(privateKey, comment)
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(privateKey, comment, passphrase.Bytes())
	}
	if err != nil {
		return nil, VerificationKey{}, fmt.Errorf("encoding private key: %w", err)
	}

	sshPublic, err := ssh.NewPublicKey(publicKey)
	if err != nil {
		return nil, VerificationKey{}, fmt.Errorf("deriving public key: %w", err)
	}

	return pem.EncodeToMemory(block), VerificationKey{key: sshPublic, comment: comment}, nil
}

// NewSignerFromKey wraps an existing private key (ed25519.PrivateKey,
// *ecdsa.PrivateKey, or *rsa.PrivateKey).
func NewSignerFromKey(privateKey any) (*KeySigner, error) {
	signer, err := ssh.NewSignerFromKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("wrapping private key: %w", err)
	}
	return &KeySigner{
		signer: signer,
		public: VerificationKey{key: signer.PublicKey()},
	}, nil
}
