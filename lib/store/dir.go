// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/fault"
)

// Directory names within the store root.
const (
	objectsDir = "objects"
	refsDir    = "refs"
	tmpDir     = "tmp"
)

// DirStore is a filesystem object store. Objects live under a
// two-hex-character fanout (objects/ab/cdef...), refs are one file
// per name under refs/, and every write goes through tmp/ with an
// atomic rename.
//
// Ref updates are serialized by an in-process lock. Concurrent
// writers in separate processes need their own coordination.
type DirStore struct {
	root string

	// refMu serializes the read-compare-write of UpdateRef.
	refMu sync.Mutex
}

// NewDirStore opens (creating if needed) a store rooted at dir.
func NewDirStore(dir string) (*DirStore, error) {
	for _, sub := range []string{dir, filepath.Join(dir, objectsDir), filepath.Join(dir, refsDir), filepath.Join(dir, tmpDir)} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", sub, err)
		}
	}
	return &DirStore{root: dir}, nil
}

// Root returns the store's root directory.
func (s *DirStore) Root() string {
	return s.root
}

func (s *DirStore) objectPath(id content.Hash) string {
	hexForm := id.String()
	return filepath.Join(s.root, objectsDir, hexForm[:2], hexForm[2:])
}

func (s *DirStore) refPath(name string) string {
	return filepath.Join(s.root, refsDir, filepath.FromSlash(name))
}

// writeAtomic writes data to path via a temp file and rename, so a
// crash never leaves a partial file at the final name.
func (s *DirStore) writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	temp, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "write-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempName := temp.Name()
	if _, err := temp.Write(data); err != nil {
		temp.Close()
		os.Remove(tempName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("closing temp file for %s: %w", path, err)
	}
	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// Put stores data under its object hash. Existing objects are left
// untouched: same bytes, same id.
func (s *DirStore) Put(ctx context.Context, data []byte) (content.Hash, error) {
	if err := ctx.Err(); err != nil {
		return content.Hash{}, err
	}
	id := content.HashObject(data)
	path := s.objectPath(id)
	if _, err := os.Stat(path); err == nil {
		return id, nil
	}
	if err := s.writeAtomic(path, data); err != nil {
		return content.Hash{}, err
	}
	return id, nil
}

// Get returns an object's bytes, re-hashing them to catch on-disk
// corruption.
func (s *DirStore) Get(ctx context.Context, id content.Hash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.objectPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("object %s: %w", id.Short(), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading object %s: %w", id.Short(), err)
	}
	if actual := content.HashObject(data); actual != id {
		return nil, fault.Integrity("object %s is corrupt on disk: content hashes to %s", id.Short(), actual.Short())
	}
	return data, nil
}

// Has reports whether an object is present.
func (s *DirStore) Has(ctx context.Context, id content.Hash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.objectPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking object %s: %w", id.Short(), err)
	}
	return true, nil
}

func (s *DirStore) readRef(name string) (content.Hash, error) {
	data, err := os.ReadFile(s.refPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return content.Hash{}, fmt.Errorf("ref %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return content.Hash{}, fmt.Errorf("reading ref %q: %w", name, err)
	}
	target, err := content.ParseHash(strings.TrimSpace(string(data)))
	if err != nil {
		return content.Hash{}, fault.Integrity("ref %q is corrupt: %v", name, err)
	}
	return target, nil
}

// GetRef returns a ref's target, or ErrNotFound.
func (s *DirStore) GetRef(ctx context.Context, name string) (content.Hash, error) {
	if err := ctx.Err(); err != nil {
		return content.Hash{}, err
	}
	if err := ValidateRefName(name); err != nil {
		return content.Hash{}, err
	}
	return s.readRef(name)
}

// UpdateRef atomically moves name from expected to target.
func (s *DirStore) UpdateRef(ctx context.Context, name string, expected, target content.Hash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateRefName(name); err != nil {
		return err
	}

	s.refMu.Lock()
	defer s.refMu.Unlock()

	current, err := s.readRef(name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if current != expected {
		return fmt.Errorf("ref %q points to %s, expected %s: %w",
			name, current.Short(), expected.Short(), ErrRefConflict)
	}

	if target.IsZero() {
		if err := os.Remove(s.refPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("deleting ref %q: %w", name, err)
		}
		return nil
	}
	return s.writeAtomic(s.refPath(name), []byte(target.String()+"\n"))
}

// ListRefs returns the refs under prefix, sorted by name.
func (s *DirStore) ListRefs(ctx context.Context, prefix string) ([]Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base := filepath.Join(s.root, refsDir)
	var refs []Ref
	err := filepath.WalkDir(base, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		relative, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(relative)
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			return nil
		}
		target, err := s.readRef(name)
		if err != nil {
			return err
		}
		refs = append(refs, Ref{Name: name, Target: target})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing refs: %w", err)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}
