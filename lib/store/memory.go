// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/deaddrop-io/deaddrop/lib/content"
)

// MemStore keeps objects and refs in memory. Used by tests and by
// operations that stage content before committing it elsewhere.
type MemStore struct {
	mu      sync.RWMutex
	objects map[content.Hash][]byte
	refs    map[string]content.Hash
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		objects: make(map[content.Hash][]byte),
		refs:    make(map[string]content.Hash),
	}
}

// Put stores data under its object hash.
func (s *MemStore) Put(ctx context.Context, data []byte) (content.Hash, error) {
	if err := ctx.Err(); err != nil {
		return content.Hash{}, err
	}
	id := content.HashObject(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[id]; !exists {
		stored := make([]byte, len(data))
		copy(stored, data)
		s.objects[id] = stored
	}
	return id, nil
}

// Get returns an object's bytes, or ErrNotFound.
func (s *MemStore) Get(ctx context.Context, id content.Hash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data, exists := s.objects[id]
	if !exists {
		return nil, fmt.Errorf("object %s: %w", id.Short(), ErrNotFound)
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	return copied, nil
}

// Has reports whether an object is present.
func (s *MemStore) Has(ctx context.Context, id content.Hash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.objects[id]
	return exists, nil
}

// GetRef returns a ref's target, or ErrNotFound.
func (s *MemStore) GetRef(ctx context.Context, name string) (content.Hash, error) {
	if err := ctx.Err(); err != nil {
		return content.Hash{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	target, exists := s.refs[name]
	if !exists {
		return content.Hash{}, fmt.Errorf("ref %q: %w", name, ErrNotFound)
	}
	return target, nil
}

// UpdateRef atomically moves name from expected to target.
func (s *MemStore) UpdateRef(ctx context.Context, name string, expected, target content.Hash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateRefName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.refs[name] // zero when absent
	if current != expected {
		return fmt.Errorf("ref %q points to %s, expected %s: %w",
			name, current.Short(), expected.Short(), ErrRefConflict)
	}
	if target.IsZero() {
		delete(s.refs, name)
		return nil
	}
	s.refs[name] = target
	return nil
}

// ListRefs returns the refs under prefix, sorted by name.
func (s *MemStore) ListRefs(ctx context.Context, prefix string) ([]Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var refs []Ref
	for name, target := range s.refs {
		if prefix == "" || strings.HasPrefix(name, prefix) {
			refs = append(refs, Ref{Name: name, Target: target})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}
