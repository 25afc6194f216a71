// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"fmt"
	"time"

	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/fault"
	"github.com/deaddrop-io/deaddrop/lib/sign"
)

// Signers is the resolved view of a drop's identities. Each verified
// chain is reduced to its stable id and two key sets: the current keys
// of the head revision, which gate new writes, and the union of every
// revision's keys, which old log entries verify against. A rotation
// walls off superseded keys going forward without invalidating the
// records they signed before the handover.
type Signers struct {
	current map[content.Hash][]sign.VerificationKey
	chain   map[content.Hash][]sign.VerificationKey
	owner   map[sign.KeyID]content.Hash
	expired map[content.Hash]bool
}

// ResolveSigners verifies every identity chain and indexes the
// resulting keys. The chains map is keyed by claimed stable id (the
// storage path the chain was loaded from); a chain whose verified root
// differs from its claimed id is an integrity fault, as is any key
// claimed by more than one identity, in any revision.
//
// Chains with an expired head still resolve: their historical records
// must keep verifying. Expiry is tracked per identity and enforced by
// the Current checks only.
func ResolveSigners(chains map[content.Hash][]Signed[Identity], now time.Time) (*Signers, error) {
	signers := &Signers{
		current: make(map[content.Hash][]sign.VerificationKey, len(chains)),
		chain:   make(map[content.Hash][]sign.VerificationKey, len(chains)),
		owner:   make(map[sign.KeyID]content.Hash),
		expired: make(map[content.Hash]bool),
	}
	for claimed, chain := range chains {
		stable, err := verifyChainStructure(chain)
		if err != nil {
			return nil, fmt.Errorf("identity %s: %w", claimed.Short(), err)
		}
		if stable != claimed {
			return nil, fault.Integrity("identity chain stored as %s verifies to root %s",
				claimed.Short(), stable.Short())
		}

		head := chain[0].Document
		if head.Expires != nil && now.Unix() >= *head.Expires {
			signers.expired[stable] = true
		}

		var all []sign.VerificationKey
		indexed := make(map[sign.KeyID]bool)
		for _, revision := range chain {
			for _, key := range revision.Document.Keys {
				keyID := key.ID()
				if otherOwner, taken := signers.owner[keyID]; taken && otherOwner != stable {
					return nil, fault.Integrity("key %s claimed by both %s and %s: %w",
						keyID, otherOwner.Short(), stable.Short(), ErrDuplicateKey)
				}
				signers.owner[keyID] = stable
				if !indexed[keyID] {
					indexed[keyID] = true
					all = append(all, key)
				}
			}
		}
		signers.current[stable] = head.Keys
		signers.chain[stable] = all
	}
	return signers, nil
}

// KeysFor returns the current keys of an identity.
func (s *Signers) KeysFor(id content.Hash) ([]sign.VerificationKey, bool) {
	keys, ok := s.current[id]
	return keys, ok
}

// Owner returns the identity holding a key, in any of its revisions.
func (s *Signers) Owner(keyID sign.KeyID) (content.Hash, bool) {
	id, ok := s.owner[keyID]
	return id, ok
}

// Expired reports whether the identity's head revision has expired.
func (s *Signers) Expired(id content.Hash) bool {
	return s.expired[id]
}

// IDs returns the resolved stable ids in canonical order.
func (s *Signers) IDs() []content.Hash {
	ids := make([]content.Hash, 0, len(s.current))
	for id := range s.current {
		ids = append(ids, id)
	}
	content.SortHashes(ids)
	return ids
}

// Satisfies checks signatures over payload against a role: at least
// Threshold distinct role identities must each have one valid
// signature. Keys from any chain revision count, making the check
// stable under later rotations; extra keys of the same identity never
// add to the count. This is the replay check, used when re-verifying
// records that are already part of a log.
func (s *Signers) Satisfies(role Role, payload []byte, signatures map[sign.KeyID]sign.Signature) error {
	return s.satisfies(role, payload, signatures, s.chain, nil)
}

// SatisfiesCurrent is the acceptance-time variant of Satisfies: only
// head-revision keys of unexpired identities count. New writes go
// through this check, so rotating or expiring an identity cuts off its
// old keys immediately.
func (s *Signers) SatisfiesCurrent(role Role, payload []byte, signatures map[sign.KeyID]sign.Signature) error {
	return s.satisfies(role, payload, signatures, s.current, s.expired)
}

func (s *Signers) satisfies(role Role, payload []byte, signatures map[sign.KeyID]sign.Signature,
	keysets map[content.Hash][]sign.VerificationKey, expired map[content.Hash]bool) error {
	if err := role.Validate(); err != nil {
		return fault.Integrity("invalid role: %w", err)
	}
	count := 0
	for _, id := range role.IDs {
		if expired != nil && expired[id] {
			continue
		}
		keys, ok := keysets[id]
		if !ok {
			// Unresolved identities cannot contribute signatures.
			continue
		}
		for _, key := range keys {
			signature, signed := signatures[key.ID()]
			if !signed {
				continue
			}
			if key.Verify(payload, signature) == nil {
				count++
				break
			}
		}
	}
	if count < role.Threshold {
		return fault.Authorization("%d of %d required role signatures: %w",
			count, role.Threshold, ErrThresholdNotMet)
	}
	return nil
}

// VerifySubmitter checks that at least one chain key of the identity
// produced a valid signature over payload. Log records are attributed
// to one identity and need one good signature, not a threshold.
func (s *Signers) VerifySubmitter(id content.Hash, payload []byte, signatures map[sign.KeyID]sign.Signature) error {
	return s.verifySubmitter(id, payload, signatures, s.chain)
}

// VerifySubmitterCurrent is the acceptance-time variant of
// VerifySubmitter: the signature must come from a head-revision key
// and the identity must not have expired.
func (s *Signers) VerifySubmitterCurrent(id content.Hash, payload []byte, signatures map[sign.KeyID]sign.Signature) error {
	if s.expired[id] {
		return fault.Authorization("submitter identity %s: %w", id.Short(), ErrExpired)
	}
	return s.verifySubmitter(id, payload, signatures, s.current)
}

func (s *Signers) verifySubmitter(id content.Hash, payload []byte, signatures map[sign.KeyID]sign.Signature,
	keysets map[content.Hash][]sign.VerificationKey) error {
	keys, ok := keysets[id]
	if !ok {
		return fault.Authorization("submitter identity %s is not among the drop's identities", id.Short())
	}
	for _, key := range keys {
		signature, signed := signatures[key.ID()]
		if !signed {
			continue
		}
		if key.Verify(payload, signature) == nil {
			return nil
		}
	}
	return fault.Authorization("no valid signature from a key of %s", id.Short())
}
