// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/sign"
)

// SignatureHeader carries the detached submission signature: the
// submitter signs the checksum of the exact bundle bytes being posted,
// proving an identity known to the drop stands behind the upload
// before the server spends any effort decoding it.
const SignatureHeader = "X-Drop-Signature"

// SignSubmission produces the header value: the signing key's id and
// the base64 signature over the bundle checksum, space separated. The
// key id may itself contain colons (SHA256:...), hence the space.
func SignSubmission(ctx context.Context, signer sign.Signer, data []byte) (string, error) {
	checksum := content.HashChecksum(data)
	signature, err := signer.Sign(ctx, checksum[:])
	if err != nil {
		return "", fmt.Errorf("signing submission: %w", err)
	}
	keyID := signer.Public().ID()
	return string(keyID) + " " + base64.StdEncoding.EncodeToString(signature), nil
}

// parseSignature splits a header value back into key id and signature.
func parseSignature(header string) (sign.KeyID, sign.Signature, error) {
	keyText, signatureText, ok := strings.Cut(header, " ")
	if !ok || keyText == "" || signatureText == "" {
		return "", nil, fmt.Errorf("malformed %s header", SignatureHeader)
	}
	signature, err := base64.StdEncoding.DecodeString(signatureText)
	if err != nil {
		return "", nil, fmt.Errorf("decoding %s header: %w", SignatureHeader, err)
	}
	return sign.KeyID(keyText), sign.Signature(signature), nil
}

// Status is the drop server's self-description.
type Status struct {
	Drop    content.Hash `json:"drop"`
	Records uint64       `json:"records"`
	Topics  int          `json:"topics"`
	Bundles int          `json:"bundles"`
	Version string       `json:"version"`
}

// SubmitResult reports what a submission changed on the server.
type SubmitResult struct {
	Bundle content.Hash `json:"bundle"`

	// Records counts records appended to the server's log. Zero for
	// a replayed submission or a sealed bundle held for relay only.
	Records int `json:"records"`

	// Relayed marks a sealed bundle the server stored without
	// merging.
	Relayed bool `json:"relayed,omitempty"`
}

type bundleList struct {
	Bundles []content.Hash `json:"bundles"`
}

type errorResponse struct {
	Error string `json:"error"`
}
