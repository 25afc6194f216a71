// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for sensitive data such
// as signing-key passphrases and bundle encryption keys.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped. Because the memory lives
// outside the Go heap, the garbage collector cannot copy or relocate
// it, guaranteeing secret material does not persist after release.
//
// Constructors:
//
//   - [New] -- allocates a zero-filled buffer of a given size
//   - [NewFromBytes] -- copies into protected memory, zeros the source
//   - [ReadFromPath] -- reads from a file or stdin into protected memory
//
// Access via [Buffer.Bytes] (slice into mmap region) or
// [Buffer.String] (heap copy for API boundaries). [Buffer.Equal] uses
// constant-time comparison. After Close, any access panics. Close is
// idempotent. [Zero] wipes plain byte slices that briefly held secret
// material.
//
// Depends on golang.org/x/sys/unix. No Deaddrop-internal dependencies.
// Imported by lib/sign for private-key passphrases and by lib/bundle
// for encryption identities.
package secret
