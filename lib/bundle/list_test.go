// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"bytes"
	"testing"

	"github.com/deaddrop-io/deaddrop/lib/fault"
)

func TestParseLocationsAllowsComments(t *testing.T) {
	data := []byte(`[
  // the primary mirror
  {
    "id": "primary",
    "uri": "https://mirror.example/bundles/abc.bundle",
    "creation_token": 100,
    "location": "eu-west",
  },
  {
    "id": "secondary",
    "uri": "https://backup.example/bundles/abc.bundle",
    "creation_token": 90,
  },
]`)
	locations, err := ParseLocations(data)
	if err != nil {
		t.Fatalf("ParseLocations: %v", err)
	}
	if len(locations) != 2 {
		t.Fatalf("parsed %d locations, want 2", len(locations))
	}
	if locations[0].ID != "primary" || locations[0].Location != "eu-west" {
		t.Errorf("first location = %+v", locations[0])
	}
}

func TestParseLocationsRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "surprise!"},
		{"missing id", `[{"uri": "https://x.example/a", "creation_token": 1}]`},
		{"missing uri", `[{"id": "a", "creation_token": 1}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseLocations([]byte(tt.data)); !fault.Is(err, fault.CategoryIntegrity) {
				t.Errorf("got %v, want an integrity fault", err)
			}
		})
	}

	oversized := bytes.Repeat([]byte(" "), MaxListBytes+1)
	if _, err := ParseLocations(oversized); !fault.Is(err, fault.CategoryIntegrity) {
		t.Errorf("got %v, want an integrity fault for an oversized list", err)
	}
}

func TestMergeLocations(t *testing.T) {
	ours := []Location{
		{ID: "primary", URI: "https://old.example/a", CreationToken: 10},
		{ID: "local", URI: "https://us.example/a", CreationToken: 30},
	}
	theirs := []Location{
		{ID: "primary", URI: "https://new.example/a", CreationToken: 20},
		{ID: "remote", URI: "https://eu.example/a", CreationToken: 30},
	}

	merged := MergeLocations(ours, theirs)
	if len(merged) != 3 {
		t.Fatalf("merged %d locations, want 3", len(merged))
	}
	// Newest first; creation-token ties break by id so every replica
	// produces the same order.
	if merged[0].ID != "local" || merged[1].ID != "remote" {
		t.Errorf("tied entries ordered %q, %q; want local, remote", merged[0].ID, merged[1].ID)
	}
	if merged[2].ID != "primary" {
		t.Fatalf("last entry %q, want primary", merged[2].ID)
	}
	if merged[2].URI != "https://new.example/a" {
		t.Error("duplicate id did not keep the newer entry")
	}
}

func TestEncodeLocationsRoundTrip(t *testing.T) {
	locations := []Location{
		{ID: "a", URI: "https://mirror.example/a.bundle", Filter: "blob:none", CreationToken: 5},
	}
	encoded, err := EncodeLocations(locations)
	if err != nil {
		t.Fatalf("EncodeLocations: %v", err)
	}
	parsed, err := ParseLocations(encoded)
	if err != nil {
		t.Fatalf("ParseLocations: %v", err)
	}
	if len(parsed) != 1 || parsed[0] != locations[0] {
		t.Errorf("round trip changed the list: %+v", parsed)
	}
}
