// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"context"

	"github.com/deaddrop-io/deaddrop/lib/bundle"
	"github.com/deaddrop-io/deaddrop/lib/content"
)

// DirSource serves bundles out of a local bundle directory: a mirror
// rsynced to disk, a USB stick, another replica's bundle directory on
// a shared filesystem.
type DirSource struct {
	dir *bundle.Dir
}

// NewDirSource wraps a bundle directory as a sync source.
func NewDirSource(dir *bundle.Dir) *DirSource {
	return &DirSource{dir: dir}
}

// Advertise lists every bundle in the directory.
func (s *DirSource) Advertise(ctx context.Context) ([]content.Hash, error) {
	return s.dir.List()
}

// Bundle reads one bundle's bytes.
func (s *DirSource) Bundle(ctx context.Context, id content.Hash) ([]byte, error) {
	return s.dir.Read(id)
}
