// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"time"

	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/fault"
	"github.com/deaddrop-io/deaddrop/lib/metadata"
	"github.com/deaddrop-io/deaddrop/lib/patchlog"
)

// Verify checks a bundle from its own contents alone: the bundle id,
// every record's content address and structure, every carried identity
// chain, and every record's authorization under the policy in effect
// at the record's origin position. The carried policy records are that
// proof: they must form an unbroken prev-linked chain from the genesis
// revision (whose hash is the drop id), and each packed record is
// judged against the newest policy revision preceding it. A policy
// superseded later still authorizes the records written under it.
//
// Checks that need the receiving log (reply targets, snapshot
// coverage, the policy chain's agreement with the local one) happen at
// unpack, not here.
func Verify(bundle *Bundle) error {
	header := &bundle.Header
	if len(header.Records) == 0 {
		return fault.Integrity("bundle carries no records")
	}
	if computeID(header) != bundle.ID {
		return fault.Integrity("bundle id %s does not match its content", bundle.ID.Short())
	}

	// Identity chains: structurally valid, threshold-signed, one per
	// identity.
	chains := make(map[content.Hash][]metadata.Signed[metadata.Identity], len(header.Identities))
	for _, chain := range header.Identities {
		stable, err := metadata.IdentityChainID(chain)
		if err != nil {
			return fault.Integrity("bundle identity chain: %w", err)
		}
		if _, dup := chains[stable]; dup {
			return fault.Integrity("bundle carries identity %s twice", stable.Short())
		}
		chains[stable] = chain
	}
	signers, err := metadata.ResolveSigners(chains, time.Time{})
	if err != nil {
		return fault.Integrity("resolving bundle identities: %w", err)
	}

	objectSet := make(map[content.Hash]bool, len(header.Objects))
	for _, info := range header.Objects {
		objectSet[info.ID] = true
	}
	if bundle.Objects != nil {
		for _, info := range header.Objects {
			data, ok := bundle.Objects[info.ID]
			if !ok {
				return fault.Integrity("object %s listed but missing", info.ID.Short())
			}
			if uint64(len(data)) != info.Size {
				return fault.Integrity("object %s is %d bytes, header says %d",
					info.ID.Short(), len(data), info.Size)
			}
			if content.HashObject(data) != info.ID {
				return fault.Integrity("object %s does not match its id", info.ID.Short())
			}
		}
	}

	// Replay the slice in origin order, advancing the policy fold
	// through the carried policy records.
	var (
		policy     metadata.Signed[metadata.Drop]
		policyHash content.Hash
		havePolicy bool
		lastIndex  uint64
		seen       = make(map[content.Hash]bool, len(header.Records))
	)
	for position, packed := range header.Records {
		record := packed.Record
		id := record.Header.ID

		if position > 0 && packed.Index <= lastIndex {
			return fault.Integrity("bundle records are not in ascending log order at %s", id.Short())
		}
		lastIndex = packed.Index
		if seen[id] {
			return fault.Integrity("bundle carries record %s twice", id.Short())
		}
		seen[id] = true

		if err := record.Validate(); err != nil {
			return fault.Integrity("record %s: %w", id.Short(), err)
		}
		if err := record.CheckID(); err != nil {
			return fault.Integrity("%w", err)
		}
		if record.Header.Patch != nil && !objectSet[record.Header.Patch.ID] {
			return fault.Integrity("record %s names payload %s the bundle does not carry",
				id.Short(), record.Header.Patch.ID.Short())
		}

		if _, known := chains[record.Header.Author]; !known {
			return fault.Integrity("bundle carries no identity chain for author %s",
				record.Header.Author.Short())
		}
		if err := signers.VerifySubmitter(record.Header.Author, id[:], record.Signatures); err != nil {
			return fault.Authorization("record %s submitter: %w", id.Short(), err)
		}

		if record.Message.Kind == patchlog.KindPolicy {
			envelope, err := record.Message.DecodePolicy()
			if err != nil {
				return fault.Integrity("record %s: %w", id.Short(), err)
			}
			payload, err := envelope.Payload()
			if err != nil {
				return fault.Integrity("record %s: %w", id.Short(), err)
			}
			envelopeHash, err := metadata.DropHash(envelope)
			if err != nil {
				return fault.Integrity("record %s: %w", id.Short(), err)
			}

			if !havePolicy {
				if envelope.Document.Prev != nil {
					return fault.Integrity("record %s: first carried policy is not the genesis revision", id.Short())
				}
				if envelopeHash != header.Drop {
					return fault.Integrity("record %s: genesis policy hashes to %s, bundle claims drop %s",
						id.Short(), envelopeHash.Short(), header.Drop.Short())
				}
			} else {
				if envelope.Document.Prev == nil || *envelope.Document.Prev != policyHash {
					return fault.Integrity("record %s: policy chain broken, revision does not extend %s",
						id.Short(), policyHash.Short())
				}
				if err := signers.Satisfies(policy.Document.Roles.Drop, payload, envelope.Signatures); err != nil {
					return fault.Authorization("record %s policy against outgoing role: %w", id.Short(), err)
				}
			}
			if err := signers.Satisfies(envelope.Document.Roles.Drop, payload, envelope.Signatures); err != nil {
				return fault.Authorization("record %s policy against incoming role: %w", id.Short(), err)
			}
			policy = envelope
			policyHash = envelopeHash
			havePolicy = true
			continue
		}

		if !havePolicy {
			return fault.Integrity("record %s precedes the governing policy", id.Short())
		}
		switch record.Message.Kind {
		case patchlog.KindMergePoint:
			body, err := record.Message.DecodeMergePoint()
			if err != nil {
				return fault.Integrity("record %s: %w", id.Short(), err)
			}
			branch, ok := policy.Document.Roles.Branches[body.Branch]
			if !ok {
				return fault.Authorization("record %s: no policy for branch %q", id.Short(), body.Branch)
			}
			if err := signers.Satisfies(branch.Role, id[:], record.Signatures); err != nil {
				return fault.Authorization("record %s branch %q: %w", id.Short(), body.Branch, err)
			}
		case patchlog.KindSnapshot:
			if err := signers.Satisfies(policy.Document.Roles.Snapshot, id[:], record.Signatures); err != nil {
				return fault.Authorization("record %s snapshot role: %w", id.Short(), err)
			}
		default:
			if err := signers.Satisfies(policy.Document.Roles.Drop, id[:], record.Signatures); err != nil {
				return fault.Authorization("record %s drop role: %w", id.Short(), err)
			}
		}
	}

	return nil
}
