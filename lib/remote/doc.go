// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package remote is the drop's HTTP surface: the server handlers that
// publish status, the bundle index and bundle files, and accept signed
// submissions; and the client that drives them. The server is a
// convenience, not an authority — everything it hands out is verified
// by the receiver from the bytes themselves.
package remote
