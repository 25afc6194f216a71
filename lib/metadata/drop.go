// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"fmt"
	"strings"

	"github.com/deaddrop-io/deaddrop/lib/codec"
	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/fault"
)

// MaxDescriptionLength caps the drop description.
const MaxDescriptionLength = 128

// Role names a set of identities (by stable id) and how many of them
// must sign. An identity counts once toward the threshold no matter
// how many of its keys signed.
type Role struct {
	IDs       []content.Hash `json:"ids"`
	Threshold int            `json:"threshold"`
}

// Validate checks the role's structural invariants.
func (r Role) Validate() error {
	if len(r.IDs) == 0 {
		return fmt.Errorf("role has no identities")
	}
	seen := make(map[content.Hash]bool, len(r.IDs))
	for _, id := range r.IDs {
		if id.IsZero() {
			return fmt.Errorf("role contains a zero identity id")
		}
		if seen[id] {
			return fmt.Errorf("role lists identity %s twice", id.Short())
		}
		seen[id] = true
	}
	if r.Threshold < 1 || r.Threshold > len(r.IDs) {
		return fmt.Errorf("role threshold %d outside 1..%d", r.Threshold, len(r.IDs))
	}
	return nil
}

// Contains reports whether the role includes the identity.
func (r Role) Contains(id content.Hash) bool {
	for _, member := range r.IDs {
		if member == id {
			return true
		}
	}
	return false
}

// BranchPolicy governs one long-lived branch: who may publish merge
// points for it.
type BranchPolicy struct {
	Role        Role   `json:"role"`
	Description string `json:"description,omitempty"`
}

// DropRoles holds the drop's governing roles.
type DropRoles struct {
	// Drop authorizes policy changes: new revisions of this
	// document.
	Drop Role `json:"drop"`

	// Snapshot authorizes log compaction snapshots.
	Snapshot Role `json:"snapshot"`

	// Mirrors authorizes the mirror and alternate lists.
	Mirrors Role `json:"mirrors"`

	// Branches maps branch names to their merge policies.
	Branches map[string]BranchPolicy `json:"branches,omitempty"`
}

// Drop is one revision of a drop's policy document: what the drop is,
// and which identities hold which powers. Revisions chain through
// Prev exactly like identity revisions.
type Drop struct {
	SpecVersion int            `json:"spec_version"`
	Description string         `json:"description"`
	Prev        *content.Hash  `json:"prev"`
	Roles       DropRoles      `json:"roles"`
	Custom      map[string]any `json:"custom,omitempty"`
}

// Validate checks structural invariants that hold for every revision
// regardless of signatures.
func (d Drop) Validate() error {
	if d.SpecVersion != CurrentSpecVersion {
		return fmt.Errorf("unsupported spec_version %d", d.SpecVersion)
	}
	if len(d.Description) > MaxDescriptionLength {
		return fmt.Errorf("description is %d bytes, limit %d", len(d.Description), MaxDescriptionLength)
	}
	if err := d.Roles.Drop.Validate(); err != nil {
		return fmt.Errorf("drop role: %w", err)
	}
	if err := d.Roles.Snapshot.Validate(); err != nil {
		return fmt.Errorf("snapshot role: %w", err)
	}
	if err := d.Roles.Mirrors.Validate(); err != nil {
		return fmt.Errorf("mirrors role: %w", err)
	}
	for name, branch := range d.Roles.Branches {
		if err := ValidateBranchName(name); err != nil {
			return fmt.Errorf("branch %q: %w", name, err)
		}
		if err := branch.Role.Validate(); err != nil {
			return fmt.Errorf("branch %q role: %w", name, err)
		}
	}
	return nil
}

// ValidateBranchName checks a branch name against the naming rules
// shared by policies and merge points.
func ValidateBranchName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty branch name")
	case strings.ContainsAny(name, " \t\n"):
		return fmt.Errorf("branch name contains whitespace")
	case strings.Contains(name, ".."):
		return fmt.Errorf("branch name contains '..'")
	case strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/"):
		return fmt.Errorf("branch name starts or ends with '/'")
	}
	return nil
}

// NewDrop builds a genesis policy: the founder identity holds every
// role with threshold 1, and the default branch is governed the same
// way. The founder amends roles afterwards by publishing revisions.
func NewDrop(description string, founder content.Hash, defaultBranch string) Drop {
	solo := Role{IDs: []content.Hash{founder}, Threshold: 1}
	return Drop{
		SpecVersion: CurrentSpecVersion,
		Description: description,
		Roles: DropRoles{
			Drop:     solo,
			Snapshot: solo,
			Mirrors:  solo,
			Branches: map[string]BranchPolicy{
				defaultBranch: {Role: solo},
			},
		},
	}
}

// NextDropRevision builds the successor of head with new content.
// The result still needs signatures satisfying both head's drop role
// and its own.
func NextDropRevision(head Signed[Drop], updated Drop) (Drop, error) {
	headHash, err := DropHash(head)
	if err != nil {
		return Drop{}, err
	}
	updated.SpecVersion = CurrentSpecVersion
	updated.Prev = &headHash
	return updated, nil
}

// DropHash computes the drop-domain content hash of a signed policy
// revision, covering the whole envelope.
func DropHash(signed Signed[Drop]) (content.Hash, error) {
	encoded, err := codec.Marshal(signed)
	if err != nil {
		return content.Hash{}, fmt.Errorf("encoding drop envelope: %w", err)
	}
	return content.HashDrop(encoded), nil
}

// VerifyDropChain verifies a policy chain and returns the envelope
// hash of the head revision.
//
// The chain is ordered head first, like identity chains. The root
// revision must satisfy its own drop role; every later revision must
// satisfy both its predecessor's drop role and its own, so a policy
// handover requires the incoming holders to countersign. Role
// signatures are counted per identity using the resolved signers.
func VerifyDropChain(chain []Signed[Drop], signers *Signers) (content.Hash, error) {
	if len(chain) == 0 {
		return content.Hash{}, fault.Integrity("drop policy chain is empty")
	}

	for index, revision := range chain {
		document := revision.Document
		if err := document.Validate(); err != nil {
			return content.Hash{}, fault.Integrity("drop revision %d: %w", index, err)
		}

		payload, err := revision.Payload()
		if err != nil {
			return content.Hash{}, err
		}
		if err := signers.Satisfies(document.Roles.Drop, payload, revision.Signatures); err != nil {
			return content.Hash{}, fmt.Errorf("drop revision %d against own role: %w", index, err)
		}

		last := index == len(chain)-1
		if last {
			if document.Prev != nil {
				return content.Hash{}, fault.Integrity(
					"drop policy chain is truncated: oldest revision still points at %s", document.Prev.Short())
			}
			continue
		}

		predecessor := chain[index+1]
		predecessorHash, err := DropHash(predecessor)
		if err != nil {
			return content.Hash{}, err
		}
		if document.Prev == nil || *document.Prev != predecessorHash {
			return content.Hash{}, fault.Integrity(
				"drop revision %d does not link to revision %d", index, index+1)
		}
		if err := signers.Satisfies(predecessor.Document.Roles.Drop, payload, revision.Signatures); err != nil {
			return content.Hash{}, fmt.Errorf("drop revision %d against predecessor role: %w", index, err)
		}
	}

	return DropHash(chain[0])
}
