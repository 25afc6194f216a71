// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the HTTP serving harness used by the drop
// server: a lifecycle-managed listener with graceful shutdown and a
// readiness signal, plus the request-logging and concurrency-limit
// middleware the bundle endpoints are wrapped in.
package service
