// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"fmt"
	"time"

	"github.com/deaddrop-io/deaddrop/lib/codec"
	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/fault"
	"github.com/deaddrop-io/deaddrop/lib/sign"
)

// CurrentSpecVersion is the document layout version written by this
// build. Readers accept only versions they know.
const CurrentSpecVersion = 1

// Identity is one revision of a collaborator's identity: a set of
// verification keys and the signature threshold the set must meet.
// Revisions chain through Prev; the root revision (Prev nil) defines
// the identity's stable id. An identity may span people or devices,
// with the threshold expressing how many of them must agree.
type Identity struct {
	// SpecVersion is the document layout version.
	SpecVersion int `json:"spec_version"`

	// Prev is the envelope hash of the previous revision, nil at the
	// root.
	Prev *content.Hash `json:"prev"`

	// Keys are the identity's current verification keys.
	Keys []sign.VerificationKey `json:"keys"`

	// Threshold is how many distinct keys must sign for this
	// identity's own documents to be valid.
	Threshold int `json:"threshold"`

	// Mirrors lists URLs where this identity publishes, so peers can
	// locate its drops without a directory service.
	Mirrors []string `json:"mirrors,omitempty"`

	// Expires, when set, is the Unix time the head revision stops
	// being acceptable. Expiry applies to the head only: rotating in
	// time extends the identity, and old revisions in a chain are
	// judged by their signatures, not the clock. Stored as an integer
	// so the canonical encoding round-trips exactly.
	Expires *int64 `json:"expires,omitempty"`

	// Custom carries application data the substrate ignores.
	Custom map[string]any `json:"custom,omitempty"`
}

// Validate checks structural invariants that hold for every revision
// regardless of signatures.
func (id Identity) Validate() error {
	if id.SpecVersion != CurrentSpecVersion {
		return fmt.Errorf("unsupported spec_version %d", id.SpecVersion)
	}
	if len(id.Keys) == 0 {
		return fmt.Errorf("identity has no keys")
	}
	seen := make(map[sign.KeyID]bool, len(id.Keys))
	for _, key := range id.Keys {
		if key.IsZero() {
			return fmt.Errorf("identity contains an empty key")
		}
		keyID := key.ID()
		if seen[keyID] {
			return fmt.Errorf("identity lists key %s twice", keyID)
		}
		seen[keyID] = true
	}
	if id.Threshold < 1 || id.Threshold > len(id.Keys) {
		return fmt.Errorf("threshold %d outside 1..%d", id.Threshold, len(id.Keys))
	}
	return nil
}

// NewIdentity builds a root revision over the given keys.
func NewIdentity(keys []sign.VerificationKey, threshold int) Identity {
	return Identity{
		SpecVersion: CurrentSpecVersion,
		Keys:        keys,
		Threshold:   threshold,
	}
}

// NextRevision builds the successor of head with a fresh key set and
// threshold, carrying the mirror list forward. The result still needs
// signatures meeting both the new threshold and head's threshold.
func NextRevision(head Signed[Identity], keys []sign.VerificationKey, threshold int) (Identity, error) {
	headHash, err := IdentityHash(head)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		SpecVersion: CurrentSpecVersion,
		Prev:        &headHash,
		Keys:        keys,
		Threshold:   threshold,
		Mirrors:     head.Document.Mirrors,
		Custom:      head.Document.Custom,
	}, nil
}

// IdentityHash computes the identity-domain content hash of a signed
// revision. Hashing covers the whole envelope, so the hash pins the
// signature set as well as the document.
func IdentityHash(signed Signed[Identity]) (content.Hash, error) {
	encoded, err := codec.Marshal(signed)
	if err != nil {
		return content.Hash{}, fmt.Errorf("encoding identity envelope: %w", err)
	}
	return content.HashIdentity(encoded), nil
}

// VerifyIdentityChain verifies a rotation chain and returns the
// identity's stable id, the envelope hash of the root revision.
//
// The chain is ordered head first: chain[0] is the current revision,
// the last element is the root. Every revision must meet its own
// threshold, and every non-root revision must additionally meet its
// predecessor's threshold over the predecessor's keys, which is what
// makes rotation a handover rather than a takeover. Expiry is
// evaluated against now for the head revision only.
func VerifyIdentityChain(chain []Signed[Identity], now time.Time) (content.Hash, error) {
	stable, err := verifyChainStructure(chain)
	if err != nil {
		return content.Hash{}, err
	}
	head := chain[0].Document
	if head.Expires != nil && now.Unix() >= *head.Expires {
		return content.Hash{}, fault.Authorization("identity expired %s: %w",
			time.Unix(*head.Expires, 0).UTC().Format(time.RFC3339), ErrExpired)
	}
	return stable, nil
}

// IdentityChainID verifies a chain's links, thresholds and handovers
// without consulting the clock, and returns the identity's stable id.
// Stores importing a chain use this form: a chain whose head has since
// expired still carries the history its old records verify against.
func IdentityChainID(chain []Signed[Identity]) (content.Hash, error) {
	return verifyChainStructure(chain)
}

func verifyChainStructure(chain []Signed[Identity]) (content.Hash, error) {
	if len(chain) == 0 {
		return content.Hash{}, fault.Integrity("identity chain is empty")
	}

	for index, revision := range chain {
		document := revision.Document
		if err := document.Validate(); err != nil {
			return content.Hash{}, fault.Integrity("identity revision %d: %w", index, err)
		}

		valid, err := ValidSignatures(revision, document.Keys)
		if err != nil {
			return content.Hash{}, err
		}
		if len(valid) < document.Threshold {
			return content.Hash{}, fault.Authorization(
				"identity revision %d has %d of %d required signatures: %w",
				index, len(valid), document.Threshold, ErrThresholdNotMet)
		}

		last := index == len(chain)-1
		if last {
			if document.Prev != nil {
				return content.Hash{}, fault.Integrity(
					"identity chain is truncated: oldest revision still points at %s", document.Prev.Short())
			}
			continue
		}

		predecessor := chain[index+1]
		predecessorHash, err := IdentityHash(predecessor)
		if err != nil {
			return content.Hash{}, err
		}
		if document.Prev == nil || *document.Prev != predecessorHash {
			return content.Hash{}, fault.Integrity(
				"identity revision %d does not link to revision %d", index, index+1)
		}

		validPredecessor, err := ValidSignatures(revision, predecessor.Document.Keys)
		if err != nil {
			return content.Hash{}, err
		}
		if len(validPredecessor) < predecessor.Document.Threshold {
			return content.Hash{}, fault.Authorization(
				"identity revision %d has %d of %d required predecessor signatures: %w",
				index, len(validPredecessor), predecessor.Document.Threshold, ErrThresholdNotMet)
		}
	}

	return IdentityHash(chain[len(chain)-1])
}
