// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/jsonc"

	"github.com/deaddrop-io/deaddrop/lib/fault"
)

// MaxListBytes caps a location list file. Lists are advisory routing
// data fetched from untrusted mirrors; anything bigger than this is
// garbage by definition.
const MaxListBytes = 50_000

// Location is one place a bundle can be fetched from. Lists of these
// are published next to bundles (the ".uris" resource) and merged
// across mirrors.
type Location struct {
	// ID names the location entry, unique within a list. Merging
	// deduplicates by it.
	ID string `json:"id"`

	// URI is where to fetch the bundle.
	URI string `json:"uri"`

	// Filter optionally marks a partial clone filter the location
	// was packed with.
	Filter string `json:"filter,omitempty"`

	// CreationToken orders locations newest first across merges.
	CreationToken int64 `json:"creation_token"`

	// Location is a free-form hint naming the mirror.
	Location string `json:"location,omitempty"`
}

// Validate checks the fields a fetcher depends on.
func (l Location) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("location has no id")
	}
	if l.URI == "" {
		return fmt.Errorf("location %q has no uri", l.ID)
	}
	return nil
}

// ParseLocations parses a location list. Lists are JSON with comments
// and trailing commas permitted.
func ParseLocations(data []byte) ([]Location, error) {
	if len(data) > MaxListBytes {
		return nil, fault.Integrity("location list is %d bytes, limit %d", len(data), MaxListBytes)
	}
	stripped := jsonc.ToJSON(data)
	var locations []Location
	if err := json.Unmarshal(stripped, &locations); err != nil {
		return nil, fault.Integrity("parsing location list: %w", err)
	}
	for _, location := range locations {
		if err := location.Validate(); err != nil {
			return nil, fault.Integrity("location list: %w", err)
		}
	}
	return locations, nil
}

// EncodeLocations serializes a location list.
func EncodeLocations(locations []Location) ([]byte, error) {
	encoded, err := json.MarshalIndent(locations, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding location list: %w", err)
	}
	if len(encoded) > MaxListBytes {
		return nil, fmt.Errorf("location list is %d bytes, limit %d", len(encoded), MaxListBytes)
	}
	return encoded, nil
}

// MergeLocations merges lists from several mirrors: entries
// deduplicate by id keeping the newest creation token, and the result
// is ordered newest first (ties broken by id so every replica agrees).
func MergeLocations(lists ...[]Location) []Location {
	byID := make(map[string]Location)
	for _, list := range lists {
		for _, location := range list {
			held, ok := byID[location.ID]
			if !ok || location.CreationToken > held.CreationToken {
				byID[location.ID] = location
			}
		}
	}
	merged := make([]Location, 0, len(byID))
	for _, location := range byID {
		merged = append(merged, location)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].CreationToken != merged[j].CreationToken {
			return merged[i].CreationToken > merged[j].CreationToken
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}
