// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package patchlog implements the signed append-only log at the heart
// of a drop.
//
// A log is a chain of entries over a content-addressed store. Each
// entry fixes one record's position; records themselves are immutable,
// content-addressed, and carry their own signatures, so any replica
// can re-verify the whole history offline. Records form reply trees
// (topics); policy lives in the log as well, so authorization is
// always evaluated against the policy in effect at the point a record
// entered the log, not the current tip.
//
// Appends are serialized through a single compare-and-swap on the log
// head ref. Everything else is immutable, which is what makes replicas
// mergeable by set union.
package patchlog
