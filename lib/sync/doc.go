// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package sync pulls bundles from a source into a local drop replica:
// fetch what the source offers, keep the files in the bundle
// directory, merge their records into the log. Every transfer is
// verified end to end, so the source is never trusted; a pass against
// a hostile mirror can waste time but not corrupt the replica.
package sync
