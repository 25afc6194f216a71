// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package store abstracts the content-addressed object store a drop
// lives in. Deaddrop does not own the store: it reads and writes
// blobs keyed by their object hash and moves named refs with
// compare-and-swap updates, and everything above this package is
// expressed in those two primitives.
//
// Two implementations are provided: [MemStore] for tests and
// ephemeral use, and [DirStore] on the filesystem. Both are safe for
// concurrent use within one process; cross-process writers need
// coordination outside this package.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deaddrop-io/deaddrop/lib/content"
)

// MaxRefNameLength caps ref names.
const MaxRefNameLength = 255

// ErrNotFound is returned for absent objects and refs.
var ErrNotFound = errors.New("not found")

// ErrRefConflict is returned by UpdateRef when the ref does not
// currently point where the caller expected. Callers re-read and
// retry; a retry budget exhausting turns this into a conflict fault
// at the operation layer.
var ErrRefConflict = errors.New("ref changed concurrently")

// Ref is a named pointer into the object store.
type Ref struct {
	Name   string       `json:"name"`
	Target content.Hash `json:"target"`
}

// BlobStore is content-addressed object storage. Objects are
// immutable; storing the same bytes twice yields the same id.
type BlobStore interface {
	// Put stores data under its object hash and returns the id.
	Put(ctx context.Context, data []byte) (content.Hash, error)

	// Get returns an object's bytes, or ErrNotFound.
	Get(ctx context.Context, id content.Hash) ([]byte, error)

	// Has reports whether an object is present.
	Has(ctx context.Context, id content.Hash) (bool, error)
}

// RefStore is named mutable pointers with compare-and-swap updates.
type RefStore interface {
	// GetRef returns a ref's target, or ErrNotFound.
	GetRef(ctx context.Context, name string) (content.Hash, error)

	// UpdateRef atomically moves name from expected to target. A
	// zero expected means the ref must not exist yet; a zero target
	// deletes the ref. Returns ErrRefConflict when the current
	// target differs from expected.
	UpdateRef(ctx context.Context, name string, expected, target content.Hash) error

	// ListRefs returns the refs under prefix, sorted by name.
	ListRefs(ctx context.Context, prefix string) ([]Ref, error)
}

// Store combines blobs and refs: the full surface a drop needs.
type Store interface {
	BlobStore
	RefStore
}

// ValidateRefName rejects names that could escape a filesystem
// layout or that no implementation should accept.
func ValidateRefName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("ref name is empty")
	case len(name) > MaxRefNameLength:
		return fmt.Errorf("ref name is %d bytes, maximum is %d", len(name), MaxRefNameLength)
	case strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/"):
		return fmt.Errorf("ref name %q starts or ends with '/'", name)
	case strings.Contains(name, "//"):
		return fmt.Errorf("ref name %q contains empty segment", name)
	case strings.Contains(name, ".."):
		return fmt.Errorf("ref name %q contains '..'", name)
	case strings.ContainsAny(name, " \t\r\n\\:*?[~^"):
		return fmt.Errorf("ref name %q contains forbidden characters", name)
	}
	return nil
}
