// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the deaddrop command framework: the command tree with
// help and suggestions, struct-tag flag binding, --json output support,
// and the workspace loader that opens the configured drop for verbs to
// operate on.
package cli
