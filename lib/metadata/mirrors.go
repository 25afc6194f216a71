// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"fmt"
	"net/url"
	"time"

	"github.com/deaddrop-io/deaddrop/lib/fault"
)

// MirrorKind describes what a mirror can serve.
type MirrorKind string

const (
	// MirrorBundled serves bundle files and location lists over HTTP.
	MirrorBundled MirrorKind = "bundled"

	// MirrorPacked holds a full clone of the drop's object store.
	MirrorPacked MirrorKind = "packed"

	// MirrorSparse holds log records but not necessarily every
	// referenced object.
	MirrorSparse MirrorKind = "sparse"

	// MirrorUnknown is a mirror whose capabilities have not been
	// probed.
	MirrorUnknown MirrorKind = "unknown"
)

func (k MirrorKind) valid() bool {
	switch k {
	case MirrorBundled, MirrorPacked, MirrorSparse, MirrorUnknown:
		return true
	}
	return false
}

// Mirror is one location serving the drop.
type Mirror struct {
	URL    string         `json:"url"`
	Kind   MirrorKind     `json:"kind"`
	Custom map[string]any `json:"custom,omitempty"`
}

// Mirrors is the drop's published mirror list, maintained by the
// mirrors role. The list expires so that an abandoned drop stops
// pointing peers at stale hosts.
type Mirrors struct {
	SpecVersion int            `json:"spec_version"`
	Mirrors     []Mirror       `json:"mirrors"`
	Expires     *int64         `json:"expires,omitempty"`
	Custom      map[string]any `json:"custom,omitempty"`
}

// Validate checks structure and URL syntax.
func (m Mirrors) Validate() error {
	if m.SpecVersion != CurrentSpecVersion {
		return fmt.Errorf("unsupported spec_version %d", m.SpecVersion)
	}
	for index, mirror := range m.Mirrors {
		parsed, err := url.Parse(mirror.URL)
		if err != nil {
			return fmt.Errorf("mirror %d url %q: %w", index, mirror.URL, err)
		}
		if parsed.Scheme == "" {
			return fmt.Errorf("mirror %d url %q has no scheme", index, mirror.URL)
		}
		if !mirror.Kind.valid() {
			return fmt.Errorf("mirror %d has unknown kind %q", index, mirror.Kind)
		}
	}
	return nil
}

// Alternates is the drop's list of sibling object stores that carry
// the same log, also maintained by the mirrors role.
type Alternates struct {
	SpecVersion int            `json:"spec_version"`
	Alternates  []string       `json:"alternates"`
	Expires     *int64         `json:"expires,omitempty"`
	Custom      map[string]any `json:"custom,omitempty"`
}

// Validate checks structure and URL syntax.
func (a Alternates) Validate() error {
	if a.SpecVersion != CurrentSpecVersion {
		return fmt.Errorf("unsupported spec_version %d", a.SpecVersion)
	}
	for index, alternate := range a.Alternates {
		parsed, err := url.Parse(alternate)
		if err != nil {
			return fmt.Errorf("alternate %d url %q: %w", index, alternate, err)
		}
		if parsed.Scheme == "" {
			return fmt.Errorf("alternate %d url %q has no scheme", index, alternate)
		}
	}
	return nil
}

// VerifyMirrors checks a signed mirror list against the drop's
// mirrors role and the clock.
func VerifyMirrors(signed Signed[Mirrors], role Role, signers *Signers, now time.Time) error {
	document := signed.Document
	if err := document.Validate(); err != nil {
		return fault.Integrity("mirror list: %w", err)
	}
	if document.Expires != nil && now.Unix() >= *document.Expires {
		return fault.Authorization("mirror list expired %s: %w",
			time.Unix(*document.Expires, 0).UTC().Format(time.RFC3339), ErrExpired)
	}
	payload, err := signed.Payload()
	if err != nil {
		return err
	}
	if err := signers.Satisfies(role, payload, signed.Signatures); err != nil {
		return fmt.Errorf("mirror list: %w", err)
	}
	return nil
}

// VerifyAlternates checks a signed alternate list against the drop's
// mirrors role and the clock.
func VerifyAlternates(signed Signed[Alternates], role Role, signers *Signers, now time.Time) error {
	document := signed.Document
	if err := document.Validate(); err != nil {
		return fault.Integrity("alternate list: %w", err)
	}
	if document.Expires != nil && now.Unix() >= *document.Expires {
		return fault.Authorization("alternate list expired %s: %w",
			time.Unix(*document.Expires, 0).UTC().Format(time.RFC3339), ErrExpired)
	}
	payload, err := signed.Payload()
	if err != nil {
		return err
	}
	if err := signers.Satisfies(role, payload, signed.Signatures); err != nil {
		return fmt.Errorf("alternate list: %w", err)
	}
	return nil
}
