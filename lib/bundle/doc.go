// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundle packages a slice of a drop log into a single
// self-verifying file and applies such files to a log.
//
// A bundle carries records with their origin positions, the policy
// records and identity chains proving each record was authorized when
// it was written, and the payload objects the records name. Given
// only the bytes, Verify re-derives the bundle id and replays the
// carried policy fold; no access to the origin log is needed. Unpack
// is idempotent and atomic: records already present are skipped, and
// a bundle either applies entirely or not at all.
//
// The object section is compressed per object (zstd by default, lz4
// or raw by choice) and may be sealed to age recipients; the header
// always stays readable. Bundles travel as files, over HTTP (Fetch,
// with magic sniffing and checksum verification), and through
// directories of bundle files (Dir). Location lists map a bundle id
// to the places it can be fetched from.
package bundle
