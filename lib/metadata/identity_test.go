// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/fault"
	"github.com/deaddrop-io/deaddrop/lib/sign"
)

// verifyTime is the fixed instant all expiry checks evaluate against.
var verifyTime = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func newTestSigner(t *testing.T) *sign.KeySigner {
	t.Helper()
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	signer, err := sign.NewSignerFromKey(privateKey)
	if err != nil {
		t.Fatalf("wrapping key: %v", err)
	}
	return signer
}

func publicKeys(signers ...sign.Signer) []sign.VerificationKey {
	keys := make([]sign.VerificationKey, len(signers))
	for index, signer := range signers {
		keys[index] = signer.Public()
	}
	return keys
}

func signIdentity(t *testing.T, document Identity, signers ...sign.Signer) Signed[Identity] {
	t.Helper()
	signed := Signed[Identity]{Document: document}
	for _, signer := range signers {
		if err := signed.Sign(context.Background(), signer); err != nil {
			t.Fatalf("signing identity: %v", err)
		}
	}
	return signed
}

// member is a test identity: its signers, its chain (head first), and
// its stable id.
type member struct {
	signers []*sign.KeySigner
	head    Signed[Identity]
	chain   []Signed[Identity]
	id      content.Hash
}

func newMember(t *testing.T, keyCount, threshold int) member {
	t.Helper()
	signers := make([]*sign.KeySigner, keyCount)
	asSigners := make([]sign.Signer, keyCount)
	for index := range signers {
		signers[index] = newTestSigner(t)
		asSigners[index] = signers[index]
	}
	document := NewIdentity(publicKeys(asSigners...), threshold)
	signed := signIdentity(t, document, asSigners[:threshold]...)
	id, err := VerifyIdentityChain([]Signed[Identity]{signed}, verifyTime)
	if err != nil {
		t.Fatalf("verifying fresh identity: %v", err)
	}
	return member{signers: signers, head: signed, chain: []Signed[Identity]{signed}, id: id}
}

// rotateMember hands the identity over to a fresh key set, returning
// the member with the extended chain. The old head's signers
// countersign the handover.
func rotateMember(t *testing.T, m member, keyCount, threshold int) member {
	t.Helper()
	signers := make([]*sign.KeySigner, keyCount)
	asSigners := make([]sign.Signer, keyCount)
	for index := range signers {
		signers[index] = newTestSigner(t)
		asSigners[index] = signers[index]
	}
	rotated, err := NextRevision(m.head, publicKeys(asSigners...), threshold)
	if err != nil {
		t.Fatalf("NextRevision: %v", err)
	}
	countersigners := make([]sign.Signer, 0, len(m.signers)+threshold)
	for _, old := range m.signers {
		countersigners = append(countersigners, old)
	}
	countersigners = append(countersigners, asSigners[:threshold]...)
	head := signIdentity(t, rotated, countersigners...)

	chain := append([]Signed[Identity]{head}, m.chain...)
	if _, err := VerifyIdentityChain(chain, verifyTime); err != nil {
		t.Fatalf("verifying rotated chain: %v", err)
	}
	return member{signers: signers, head: head, chain: chain, id: m.id}
}

func chainsOf(members ...member) map[content.Hash][]Signed[Identity] {
	chains := make(map[content.Hash][]Signed[Identity], len(members))
	for _, m := range members {
		chains[m.id] = m.chain
	}
	return chains
}

func signaturesOver(t *testing.T, payload []byte, signers ...sign.Signer) map[sign.KeyID]sign.Signature {
	t.Helper()
	signatures := make(map[sign.KeyID]sign.Signature, len(signers))
	for _, signer := range signers {
		signature, err := signer.Sign(context.Background(), payload)
		if err != nil {
			t.Fatalf("signing payload: %v", err)
		}
		signatures[signer.Public().ID()] = signature
	}
	return signatures
}

func TestRootIdentityVerifies(t *testing.T) {
	m := newMember(t, 1, 1)
	wantID, err := IdentityHash(m.head)
	if err != nil {
		t.Fatalf("IdentityHash: %v", err)
	}
	if m.id != wantID {
		t.Errorf("stable id %s differs from root envelope hash %s", m.id.Short(), wantID.Short())
	}
}

func TestIdentityValidate(t *testing.T) {
	signer := newTestSigner(t)
	valid := NewIdentity(publicKeys(signer), 1)

	cases := []struct {
		name   string
		mutate func(*Identity)
	}{
		{"wrong version", func(id *Identity) { id.SpecVersion = 99 }},
		{"no keys", func(id *Identity) { id.Keys = nil }},
		{"zero threshold", func(id *Identity) { id.Threshold = 0 }},
		{"threshold above key count", func(id *Identity) { id.Threshold = 2 }},
		{"duplicate key", func(id *Identity) { id.Keys = append(id.Keys, id.Keys[0]) }},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			document := valid
			document.Keys = append([]sign.VerificationKey(nil), valid.Keys...)
			testCase.mutate(&document)
			if err := document.Validate(); err == nil {
				t.Error("Validate accepted an invalid document")
			}
		})
	}

	if err := valid.Validate(); err != nil {
		t.Errorf("Validate rejected a valid document: %v", err)
	}
}

func TestRotationChainVerifies(t *testing.T) {
	oldA := newTestSigner(t)
	oldB := newTestSigner(t)
	root := signIdentity(t, NewIdentity(publicKeys(oldA, oldB), 2), oldA, oldB)

	rootID, err := VerifyIdentityChain([]Signed[Identity]{root}, verifyTime)
	if err != nil {
		t.Fatalf("verifying root: %v", err)
	}

	newA := newTestSigner(t)
	newB := newTestSigner(t)
	rotated, err := NextRevision(root, publicKeys(newA, newB), 1)
	if err != nil {
		t.Fatalf("NextRevision: %v", err)
	}
	// Handover: both old keys approve, one new key claims.
	head := signIdentity(t, rotated, oldA, oldB, newA)

	stable, err := VerifyIdentityChain([]Signed[Identity]{head, root}, verifyTime)
	if err != nil {
		t.Fatalf("verifying rotated chain: %v", err)
	}
	if stable != rootID {
		t.Errorf("rotation changed the stable id: %s != %s", stable.Short(), rootID.Short())
	}
}

func TestRotationWithoutPredecessorApprovalFails(t *testing.T) {
	old := newTestSigner(t)
	root := signIdentity(t, NewIdentity(publicKeys(old), 1), old)

	hijacker := newTestSigner(t)
	rotated, err := NextRevision(root, publicKeys(hijacker), 1)
	if err != nil {
		t.Fatalf("NextRevision: %v", err)
	}
	// Signed only by the new key: a takeover, not a handover.
	head := signIdentity(t, rotated, hijacker)

	_, err = VerifyIdentityChain([]Signed[Identity]{head, root}, verifyTime)
	if !errors.Is(err, ErrThresholdNotMet) {
		t.Errorf("got %v, want ErrThresholdNotMet", err)
	}
	if !fault.Is(err, fault.CategoryAuthorization) {
		t.Errorf("error not categorized as authorization: %v", err)
	}
}

func TestRotationWithoutOwnSignaturesFails(t *testing.T) {
	old := newTestSigner(t)
	root := signIdentity(t, NewIdentity(publicKeys(old), 1), old)

	incoming := newTestSigner(t)
	rotated, err := NextRevision(root, publicKeys(incoming), 1)
	if err != nil {
		t.Fatalf("NextRevision: %v", err)
	}
	// Signed only by the departing key: nobody proved control of the
	// new keys.
	head := signIdentity(t, rotated, old)

	if _, err := VerifyIdentityChain([]Signed[Identity]{head, root}, verifyTime); !errors.Is(err, ErrThresholdNotMet) {
		t.Errorf("got %v, want ErrThresholdNotMet", err)
	}
}

func TestExpiredHeadFails(t *testing.T) {
	signer := newTestSigner(t)
	expired := verifyTime.Add(-time.Hour).Unix()
	document := NewIdentity(publicKeys(signer), 1)
	document.Expires = &expired
	head := signIdentity(t, document, signer)

	_, err := VerifyIdentityChain([]Signed[Identity]{head}, verifyTime)
	if !errors.Is(err, ErrExpired) {
		t.Errorf("got %v, want ErrExpired", err)
	}
}

func TestExpiredRootDeepInChainIsAccepted(t *testing.T) {
	old := newTestSigner(t)
	rootDocument := NewIdentity(publicKeys(old), 1)
	expired := verifyTime.Add(-24 * time.Hour).Unix()
	rootDocument.Expires = &expired
	root := signIdentity(t, rootDocument, old)

	replacement := newTestSigner(t)
	rotated, err := NextRevision(root, publicKeys(replacement), 1)
	if err != nil {
		t.Fatalf("NextRevision: %v", err)
	}
	head := signIdentity(t, rotated, old, replacement)

	// The rotation happened before this verification; only the head
	// is checked against the clock.
	if _, err := VerifyIdentityChain([]Signed[Identity]{head, root}, verifyTime); err != nil {
		t.Errorf("chain with expired non-head revision rejected: %v", err)
	}
}

func TestTruncatedChainFails(t *testing.T) {
	old := newTestSigner(t)
	root := signIdentity(t, NewIdentity(publicKeys(old), 1), old)

	replacement := newTestSigner(t)
	rotated, err := NextRevision(root, publicKeys(replacement), 1)
	if err != nil {
		t.Fatalf("NextRevision: %v", err)
	}
	head := signIdentity(t, rotated, old, replacement)

	// Head alone: its prev points at a revision we did not supply.
	_, err = VerifyIdentityChain([]Signed[Identity]{head}, verifyTime)
	if err == nil {
		t.Fatal("truncated chain verified")
	}
	if !fault.Is(err, fault.CategoryIntegrity) {
		t.Errorf("error not categorized as integrity: %v", err)
	}
}

func TestBrokenLinkFails(t *testing.T) {
	memberA := newMember(t, 1, 1)
	memberB := newMember(t, 1, 1)

	replacement := newTestSigner(t)
	rotated, err := NextRevision(memberA.head, publicKeys(replacement), 1)
	if err != nil {
		t.Fatalf("NextRevision: %v", err)
	}
	head := signIdentity(t, rotated, memberA.signers[0], replacement)

	// Chain claims memberB's root as the predecessor.
	if _, err := VerifyIdentityChain([]Signed[Identity]{head, memberB.head}, verifyTime); err == nil {
		t.Error("chain with mismatched prev link verified")
	}
}

func TestTamperedRevisionFails(t *testing.T) {
	signerA := newTestSigner(t)
	signerB := newTestSigner(t)
	head := signIdentity(t, NewIdentity(publicKeys(signerA, signerB), 2), signerA, signerB)

	// Lowering the threshold after signing invalidates both
	// signatures.
	head.Document.Threshold = 1

	if _, err := VerifyIdentityChain([]Signed[Identity]{head}, verifyTime); !errors.Is(err, ErrThresholdNotMet) {
		t.Errorf("got %v, want ErrThresholdNotMet", err)
	}
}

func TestEmptyChainFails(t *testing.T) {
	if _, err := VerifyIdentityChain(nil, verifyTime); err == nil {
		t.Error("empty chain verified")
	}
}
