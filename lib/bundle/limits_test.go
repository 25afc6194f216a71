// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"context"
	"testing"

	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/fault"
)

func TestProfileForPicksStrongestKind(t *testing.T) {
	d := initTestDrop(t)
	d.comment(t, d.founder, nil, "just talk")

	comments, _, err := PackLog(context.Background(), d.log, DefaultPackOptions())
	if err != nil {
		t.Fatalf("PackLog: %v", err)
	}
	if got := ProfileFor(comments); got != SubmissionProfile() {
		t.Errorf("comment bundle judged under %+v, want the submission profile", got)
	}

	d.mergePoint(t, d.founder, "main", content.HashTopic([]byte("tip")))
	withMerge, _, err := PackLog(context.Background(), d.log, DefaultPackOptions())
	if err != nil {
		t.Fatalf("PackLog: %v", err)
	}
	if got := ProfileFor(withMerge); got != MergePointProfile() {
		t.Errorf("merge-point bundle judged under %+v, want the merge-point profile", got)
	}

	d.snapshot(t, d.founder, d.log.RecordIDs()[0])
	withSnapshot, _, err := PackLog(context.Background(), d.log, DefaultPackOptions())
	if err != nil {
		t.Fatalf("PackLog: %v", err)
	}
	if got := ProfileFor(withSnapshot); got != SnapshotProfile() {
		t.Errorf("snapshot bundle judged under %+v, want the snapshot profile", got)
	}
}

func TestAcceptProfileCheck(t *testing.T) {
	bundle := &Bundle{
		Header: Header{
			Records: make([]PackedRecord, 3),
			Objects: []ObjectInfo{
				{ID: content.HashObject([]byte("a")), Size: 1000},
				{ID: content.HashObject([]byte("b")), Size: 1000},
			},
		},
	}

	tests := []struct {
		name    string
		profile AcceptProfile
		ok      bool
	}{
		{"unbounded", AcceptProfile{AllowSealed: true}, true},
		{"within limits", AcceptProfile{MaxRecords: 3, MaxObjects: 2, MaxObjectBytes: 2000}, true},
		{"too many records", AcceptProfile{MaxRecords: 2}, false},
		{"too many objects", AcceptProfile{MaxObjects: 1}, false},
		{"too many bytes", AcceptProfile{MaxObjectBytes: 1999}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Check(bundle)
			if tt.ok && err != nil {
				t.Errorf("Check: %v", err)
			}
			if !tt.ok && !fault.Is(err, fault.CategoryIntegrity) {
				t.Errorf("got %v, want an integrity fault", err)
			}
		})
	}

	sealed := &Bundle{Header: Header{Encryption: EncryptionAge}}
	if err := (AcceptProfile{AllowSealed: false}).Check(sealed); !fault.Is(err, fault.CategoryIntegrity) {
		t.Errorf("got %v, want an integrity fault for a sealed bundle", err)
	}
	if err := (AcceptProfile{AllowSealed: true}).Check(sealed); err != nil {
		t.Errorf("Check with AllowSealed: %v", err)
	}
}
