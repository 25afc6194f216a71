// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"github.com/deaddrop-io/deaddrop/lib/fault"
	"github.com/deaddrop-io/deaddrop/lib/patchlog"
)

// AcceptProfile bounds what a receiver will take from one bundle.
// Zero fields are unlimited. Submissions, merge points and snapshots
// get distinct profiles: a merge point legitimately hauls a fat pack,
// a snapshot hauls the whole retained log.
type AcceptProfile struct {
	// MaxRecords caps the packed record count.
	MaxRecords int

	// MaxObjects caps the payload object count.
	MaxObjects int

	// MaxObjectBytes caps the sum of uncompressed payload sizes.
	MaxObjectBytes int64

	// AllowSealed admits bundles with an encrypted object section.
	AllowSealed bool
}

// SubmissionProfile is the default gate for inbound patches and
// comments.
func SubmissionProfile() AcceptProfile {
	return AcceptProfile{
		MaxRecords:     64,
		MaxObjects:     64,
		MaxObjectBytes: 64 << 20,
		AllowSealed:    true,
	}
}

// MergePointProfile relaxes the payload cap: announcing a branch tip
// may carry the pack that backs it.
func MergePointProfile() AcceptProfile {
	return AcceptProfile{
		MaxRecords:     64,
		MaxObjects:     256,
		MaxObjectBytes: 512 << 20,
		AllowSealed:    false,
	}
}

// SnapshotProfile is unbounded except for sealing: a snapshot replays
// the whole retained log and must stay replayable by everyone.
func SnapshotProfile() AcceptProfile {
	return AcceptProfile{AllowSealed: false}
}

// ProfileFor picks the profile a bundle is judged under, by the
// strongest record kind it carries: snapshots beat merge points beat
// ordinary submissions.
func ProfileFor(bundle *Bundle) AcceptProfile {
	profile := SubmissionProfile()
	for _, packed := range bundle.Header.Records {
		switch packed.Record.Message.Kind {
		case patchlog.KindSnapshot:
			return SnapshotProfile()
		case patchlog.KindMergePoint:
			profile = MergePointProfile()
		}
	}
	return profile
}

// Check rejects a bundle that exceeds the profile.
func (p AcceptProfile) Check(bundle *Bundle) error {
	header := &bundle.Header
	if p.MaxRecords > 0 && len(header.Records) > p.MaxRecords {
		return fault.Integrity("bundle carries %d records, limit %d", len(header.Records), p.MaxRecords)
	}
	if p.MaxObjects > 0 && len(header.Objects) > p.MaxObjects {
		return fault.Integrity("bundle carries %d objects, limit %d", len(header.Objects), p.MaxObjects)
	}
	if p.MaxObjectBytes > 0 {
		var total int64
		for _, info := range header.Objects {
			total += int64(info.Size)
		}
		if total > p.MaxObjectBytes {
			return fault.Integrity("bundle payload is %d bytes, limit %d", total, p.MaxObjectBytes)
		}
	}
	if !p.AllowSealed && bundle.Encrypted() {
		return fault.Integrity("sealed bundles are not accepted here")
	}
	return nil
}
