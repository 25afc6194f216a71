// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the standard CBOR encoding configuration.
//
// Deaddrop uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: the drop server's HTTP endpoints,
//     bundle location lists, and CLI --json output.
//   - CBOR for everything cryptographic and stored: signed identity
//     and drop documents, patch records, bundle framing, and the
//     object store.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes, the property content addressing and signature payloads
// depend on.
//
// For buffer-oriented operations (documents, records, signing
// payloads):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (bundle object sections):
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is ONLY ever serialized as CBOR. It will
//     never be marshaled to JSON. Examples: record headers, bundle
//     framing, signature envelopes.
//   - `json` tag: this type may be serialized as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor`
//     tags are absent, so a single `json` tag controls field naming
//     and omitempty for both formats. Examples: identity and drop
//     documents (signed as CBOR, displayed as JSON), server status
//     responses, location list entries.
//
// Never use both `cbor` and `json` tags on the same field. The tag
// choice documents the contract.
package codec
