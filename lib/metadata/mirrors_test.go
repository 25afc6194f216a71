// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deaddrop-io/deaddrop/lib/content"
)

func TestVerifyMirrors(t *testing.T) {
	keeper := newMember(t, 1, 1)
	signers, err := ResolveSigners(chainsOf(keeper), verifyTime)
	if err != nil {
		t.Fatalf("ResolveSigners: %v", err)
	}
	role := Role{IDs: []content.Hash{keeper.id}, Threshold: 1}

	expires := verifyTime.Add(30 * 24 * time.Hour).Unix()
	document := Mirrors{
		SpecVersion: CurrentSpecVersion,
		Mirrors: []Mirror{
			{URL: "https://mirror.example.org/libfoo", Kind: MirrorBundled},
			{URL: "ipfs://bafybeigdyrzt5example", Kind: MirrorSparse},
		},
		Expires: &expires,
	}
	signed := Signed[Mirrors]{Document: document}
	if err := signed.Sign(context.Background(), keeper.signers[0]); err != nil {
		t.Fatalf("signing mirror list: %v", err)
	}

	if err := VerifyMirrors(signed, role, signers, verifyTime); err != nil {
		t.Errorf("valid mirror list rejected: %v", err)
	}
}

func TestVerifyMirrorsExpired(t *testing.T) {
	keeper := newMember(t, 1, 1)
	signers, err := ResolveSigners(chainsOf(keeper), verifyTime)
	if err != nil {
		t.Fatalf("ResolveSigners: %v", err)
	}
	role := Role{IDs: []content.Hash{keeper.id}, Threshold: 1}

	expired := verifyTime.Add(-time.Minute).Unix()
	signed := Signed[Mirrors]{Document: Mirrors{
		SpecVersion: CurrentSpecVersion,
		Mirrors:     []Mirror{{URL: "https://mirror.example.org", Kind: MirrorBundled}},
		Expires:     &expired,
	}}
	if err := signed.Sign(context.Background(), keeper.signers[0]); err != nil {
		t.Fatalf("signing mirror list: %v", err)
	}

	if err := VerifyMirrors(signed, role, signers, verifyTime); !errors.Is(err, ErrExpired) {
		t.Errorf("got %v, want ErrExpired", err)
	}
}

func TestVerifyMirrorsUnsigned(t *testing.T) {
	keeper := newMember(t, 1, 1)
	outsider := newMember(t, 1, 1)
	signers, err := ResolveSigners(chainsOf(keeper, outsider), verifyTime)
	if err != nil {
		t.Fatalf("ResolveSigners: %v", err)
	}
	role := Role{IDs: []content.Hash{keeper.id}, Threshold: 1}

	signed := Signed[Mirrors]{Document: Mirrors{
		SpecVersion: CurrentSpecVersion,
		Mirrors:     []Mirror{{URL: "https://rogue.example.org", Kind: MirrorBundled}},
	}}
	// Signed by an identity outside the mirrors role.
	if err := signed.Sign(context.Background(), outsider.signers[0]); err != nil {
		t.Fatalf("signing mirror list: %v", err)
	}

	if err := VerifyMirrors(signed, role, signers, verifyTime); !errors.Is(err, ErrThresholdNotMet) {
		t.Errorf("got %v, want ErrThresholdNotMet", err)
	}
}

func TestMirrorsValidate(t *testing.T) {
	cases := []struct {
		name     string
		document Mirrors
	}{
		{"wrong version", Mirrors{SpecVersion: 7}},
		{"schemeless url", Mirrors{
			SpecVersion: CurrentSpecVersion,
			Mirrors:     []Mirror{{URL: "mirror.example.org/path", Kind: MirrorBundled}},
		}},
		{"unknown kind", Mirrors{
			SpecVersion: CurrentSpecVersion,
			Mirrors:     []Mirror{{URL: "https://mirror.example.org", Kind: "torrent"}},
		}},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			if err := testCase.document.Validate(); err == nil {
				t.Error("Validate accepted an invalid mirror list")
			}
		})
	}
}

func TestVerifyAlternates(t *testing.T) {
	keeper := newMember(t, 1, 1)
	signers, err := ResolveSigners(chainsOf(keeper), verifyTime)
	if err != nil {
		t.Fatalf("ResolveSigners: %v", err)
	}
	role := Role{IDs: []content.Hash{keeper.id}, Threshold: 1}

	signed := Signed[Alternates]{Document: Alternates{
		SpecVersion: CurrentSpecVersion,
		Alternates:  []string{"https://alt.example.org/libfoo.git"},
	}}
	if err := signed.Sign(context.Background(), keeper.signers[0]); err != nil {
		t.Fatalf("signing alternate list: %v", err)
	}

	if err := VerifyAlternates(signed, role, signers, verifyTime); err != nil {
		t.Errorf("valid alternate list rejected: %v", err)
	}

	if err := VerifyAlternates(Signed[Alternates]{Document: signed.Document}, role, signers, verifyTime); err == nil {
		t.Error("unsigned alternate list accepted")
	}

	bad := Alternates{SpecVersion: CurrentSpecVersion, Alternates: []string{"no-scheme/path"}}
	if err := bad.Validate(); err == nil {
		t.Error("Validate accepted a schemeless alternate")
	}
}
