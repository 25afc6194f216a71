// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package metadata defines the signed documents that govern a drop:
// identity documents with their rotation chains, the drop policy
// document with its roles, and the mirror and alternate lists.
//
// Documents travel in a [Signed] envelope pairing the document with a
// map of signatures keyed by key fingerprint. The signing payload is
// the document's canonical CBOR encoding; the content hash of a
// document is taken over the whole envelope, so a hash pins both the
// document and the exact signature set that accompanied it.
//
// Verification is pure: callers load the document chains from
// storage, then hand them to the verify functions together with the
// time to evaluate expiry against.
package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/deaddrop-io/deaddrop/lib/codec"
	"github.com/deaddrop-io/deaddrop/lib/sign"
)

// Sentinel errors for policy verification. They are wrapped in
// categorized faults; test with errors.Is.
var (
	// ErrThresholdNotMet indicates too few valid signatures for a
	// document's or role's threshold.
	ErrThresholdNotMet = errors.New("signature threshold not met")

	// ErrExpired indicates a document whose expiry time is not after
	// the evaluation time.
	ErrExpired = errors.New("document has expired")

	// ErrDuplicateKey indicates one verification key claimed by more
	// than one identity.
	ErrDuplicateKey = errors.New("key appears in multiple identities")
)

// Signed pairs a document with signatures over its canonical
// encoding. The map key is the signing key's fingerprint.
type Signed[T any] struct {
	Document   T                             `json:"document"`
	Signatures map[sign.KeyID]sign.Signature `json:"signatures"`
}

// Payload returns the bytes that signatures cover: the canonical
// encoding of the document alone. Signatures never cover each other,
// so signers can be added without invalidating existing ones.
func (s Signed[T]) Payload() ([]byte, error) {
	payload, err := codec.Marshal(s.Document)
	if err != nil {
		return nil, fmt.Errorf("encoding signing payload: %w", err)
	}
	return payload, nil
}

// Sign adds the signer's signature to the envelope, replacing any
// earlier signature by the same key.
func (s *Signed[T]) Sign(ctx context.Context, signer sign.Signer) error {
	payload, err := s.Payload()
	if err != nil {
		return err
	}
	signature, err := signer.Sign(ctx, payload)
	if err != nil {
		return err
	}
	if s.Signatures == nil {
		s.Signatures = make(map[sign.KeyID]sign.Signature, 1)
	}
	s.Signatures[signer.Public().ID()] = signature
	return nil
}

// ValidSignatures returns the fingerprints of candidate keys whose
// signature in the envelope verifies over the payload. Missing and
// invalid signatures are skipped, not fatal: a document is judged by
// whether enough signatures verify, not by whether every byte of the
// envelope is pristine.
func ValidSignatures[T any](s Signed[T], candidates []sign.VerificationKey) ([]sign.KeyID, error) {
	payload, err := s.Payload()
	if err != nil {
		return nil, err
	}
	var valid []sign.KeyID
	seen := make(map[sign.KeyID]bool, len(candidates))
	for _, key := range candidates {
		keyID := key.ID()
		if seen[keyID] {
			continue
		}
		seen[keyID] = true
		signature, ok := s.Signatures[keyID]
		if !ok {
			continue
		}
		if key.Verify(payload, signature) == nil {
			valid = append(valid, keyID)
		}
	}
	return valid, nil
}
