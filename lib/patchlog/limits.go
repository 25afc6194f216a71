// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package patchlog

import (
	"fmt"
)

// Limits bound what a single record may carry. They are acceptance
// limits, not protocol constants: a log rejects records beyond them at
// append and unpack time, so an oversized record never costs more than
// its encoded size to refuse.
type Limits struct {
	// MaxBodyBytes caps the encoded message body.
	MaxBodyBytes int

	// MaxPatchTips caps the number of tips a patch may declare.
	MaxPatchTips int

	// MaxSnapshotRefs caps the ref map of a snapshot record.
	MaxSnapshotRefs int
}

// DefaultLimits returns the limits a log enforces unless configured
// otherwise. Merge points and snapshots get room for large ref sets;
// discussion records stay small.
func DefaultLimits() Limits {
	return Limits{
		MaxBodyBytes:    256 << 10,
		MaxPatchTips:    10,
		MaxSnapshotRefs: 4096,
	}
}

// CheckRecord reports the first limit the record exceeds.
func (l Limits) CheckRecord(r Record) error {
	if l.MaxBodyBytes > 0 && len(r.Message.Body) > l.MaxBodyBytes {
		return fmt.Errorf("message body is %d bytes, limit %d", len(r.Message.Body), l.MaxBodyBytes)
	}
	if l.MaxPatchTips > 0 && r.Header.Patch != nil && len(r.Header.Patch.Tips) > l.MaxPatchTips {
		return fmt.Errorf("patch declares %d tips, limit %d", len(r.Header.Patch.Tips), l.MaxPatchTips)
	}
	if l.MaxSnapshotRefs > 0 && r.Message.Kind == KindSnapshot {
		body, err := r.Message.DecodeSnapshot()
		if err != nil {
			return err
		}
		if len(body.Refs) > l.MaxSnapshotRefs {
			return fmt.Errorf("snapshot carries %d refs, limit %d", len(body.Refs), l.MaxSnapshotRefs)
		}
	}
	return nil
}
