// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package sign wraps asymmetric signing and verification behind a
// uniform key abstraction. Keys are standard SSH keys (ed25519,
// ECDSA, RSA), so collaborators sign with the keys they already have;
// signatures use the SSH wire encoding. The package has no dependency
// on the rest of the system: callers hand it canonical payload bytes
// and store the opaque signatures it returns.
package sign

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// KeyID identifies a verification key: the OpenSSH SHA-256
// fingerprint ("SHA256:" followed by unpadded base64). Signature maps
// are keyed by it, and role membership checks compare it.
type KeyID string

// VerificationKey is a public key that can check signatures. The zero
// value is unusable; obtain keys from [ParseVerificationKey], key
// generation, or decoding a stored document.
type VerificationKey struct {
	key     ssh.PublicKey
	comment string
}

// ParseVerificationKey parses a single authorized_keys-format line:
// key type, base64 blob, and an optional trailing comment.
func ParseVerificationKey(text string) (VerificationKey, error) {
	key, comment, _, rest, err := ssh.ParseAuthorizedKey([]byte(text))
	if err != nil {
		return VerificationKey{}, fmt.Errorf("parsing public key: %w", err)
	}
	if len(bytes.TrimSpace(rest)) > 0 {
		return VerificationKey{}, fmt.Errorf("trailing data after public key")
	}
	return VerificationKey{key: key, comment: comment}, nil
}

// ID returns the key's fingerprint.
func (k VerificationKey) ID() KeyID {
	return KeyID(ssh.FingerprintSHA256(k.key))
}

// Algorithm returns the SSH key type, such as "ssh-ed25519" or
// "rsa-sha2-256"'s base type "ssh-rsa".
func (k VerificationKey) Algorithm() string {
	return k.key.Type()
}

// Comment returns the free-text comment carried with the key, if any.
func (k VerificationKey) Comment() string {
	return k.comment
}

// IsZero reports whether the key is unset.
func (k VerificationKey) IsZero() bool {
	return k.key == nil
}

// Equal reports whether two keys have identical wire encodings. The
// comment does not participate.
func (k VerificationKey) Equal(other VerificationKey) bool {
	if k.key == nil || other.key == nil {
		return k.key == nil && other.key == nil
	}
	return bytes.Equal(k.key.Marshal(), other.key.Marshal())
}

// Verify checks a signature over payload. The payload is the raw
// canonical bytes; each algorithm applies its own digest internally.
func (k VerificationKey) Verify(payload []byte, signature Signature) error {
	if k.key == nil {
		return fmt.Errorf("verifying with zero key")
	}
	var wire ssh.Signature
	if err := ssh.Unmarshal(signature, &wire); err != nil {
		return fmt.Errorf("decoding signature: %w", err)
	}
	if err := k.key.Verify(payload, &wire); err != nil {
		return fmt.Errorf("signature check failed for key %s: %w", k.ID(), err)
	}
	return nil
}

// String returns the authorized_keys form including the comment.
func (k VerificationKey) String() string {
	text, err := k.MarshalText()
	if err != nil {
		return "<invalid key>"
	}
	return string(text)
}

// MarshalText implements encoding.TextMarshaler. Keys serialize in
// authorized_keys form, so stored documents remain greppable and keys
// can be pasted straight from ~/.ssh.
func (k VerificationKey) MarshalText() ([]byte, error) {
	if k.key == nil {
		return nil, fmt.Errorf("marshaling zero key")
	}
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(k.key)))
	if k.comment != "" {
		line += " " + k.comment
	}
	return []byte(line), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *VerificationKey) UnmarshalText(text []byte) error {
	parsed, err := ParseVerificationKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Signature is an SSH wire-encoded signature (algorithm name followed
// by the signature blob). Opaque to callers; [VerificationKey.Verify]
// decodes it.
type Signature []byte
