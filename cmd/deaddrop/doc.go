// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Deaddrop is the CLI for server-less, cryptographically verifiable
// patch exchange. It provides subcommands for identity management
// (id), drop lifecycle and replication (drop), patch submission
// (patch, mergepoint), thread browsing (topic), and the local bundle
// cache (bundle).
package main
