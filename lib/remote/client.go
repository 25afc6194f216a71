// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/deaddrop-io/deaddrop/lib/bundle"
	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/fault"
	"github.com/deaddrop-io/deaddrop/lib/sign"
)

// Client talks to one drop server. It is a sync.Source, so a remote
// drop can be pulled from exactly like a local mirror directory.
type Client struct {
	base string
	http *http.Client
}

// ClientOptions tune a client.
type ClientOptions struct {
	// HTTP is the client to use; nil means http.DefaultClient.
	HTTP *http.Client
}

// NewClient builds a client for the server at base (scheme and host,
// e.g. "https://drop.example").
func NewClient(base string, options ClientOptions) *Client {
	httpClient := options.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: strings.TrimSuffix(base, "/"), http: httpClient}
}

// Status fetches the server's self-description.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	if err := c.getJSON(ctx, "/-/status", &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// Advertise lists the bundles the server offers. Part of the
// sync.Source contract.
func (c *Client) Advertise(ctx context.Context) ([]content.Hash, error) {
	var list bundleList
	if err := c.getJSON(ctx, "/bundles", &list); err != nil {
		return nil, err
	}
	return list.Bundles, nil
}

// Bundle downloads one bundle's bytes. Part of the sync.Source
// contract; the caller verifies content, so no checksum is demanded
// here.
func (c *Client) Bundle(ctx context.Context, id content.Hash) ([]byte, error) {
	return bundle.Fetch(ctx, c.base+"/bundles/"+id.String(), content.Hash{}, bundle.FetchOptions{
		Client: c.http,
	})
}

// Locations fetches a bundle's location list.
func (c *Client) Locations(ctx context.Context, id content.Hash) ([]bundle.Location, error) {
	return bundle.FetchList(ctx, c.base+"/bundles/"+id.String()+".uris", bundle.FetchOptions{
		Client: c.http,
	})
}

// Submit posts an encoded bundle, signing its checksum with the given
// signer. The signer's key must be current for an identity the server
// already knows.
func (c *Client) Submit(ctx context.Context, encoded []byte, signer sign.Signer) (SubmitResult, error) {
	header, err := SignSubmission(ctx, signer, encoded)
	if err != nil {
		return SubmitResult{}, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/patches", bytes.NewReader(encoded))
	if err != nil {
		return SubmitResult{}, fault.Transport("building submission: %w", err)
	}
	request.Header.Set("Content-Type", "application/octet-stream")
	request.Header.Set(SignatureHeader, header)

	response, err := c.http.Do(request)
	if err != nil {
		return SubmitResult{}, fault.Transport("submitting bundle: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return SubmitResult{}, statusFault(response)
	}
	var result SubmitResult
	if err := json.NewDecoder(response.Body).Decode(&result); err != nil {
		return SubmitResult{}, fault.Transport("decoding submission result: %w", err)
	}
	return result, nil
}

func (c *Client) getJSON(ctx context.Context, path string, into any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fault.Transport("building request for %s: %w", path, err)
	}
	response, err := c.http.Do(request)
	if err != nil {
		return fault.Transport("fetching %s: %w", path, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return statusFault(response)
	}
	if err := json.NewDecoder(response.Body).Decode(into); err != nil {
		return fault.Transport("decoding %s: %w", path, err)
	}
	return nil
}

// statusFault turns a non-OK response into the matching fault
// category, carrying the server's error message when it sent one.
func statusFault(response *http.Response) error {
	message := response.Status
	var body errorResponse
	data, err := io.ReadAll(io.LimitReader(response.Body, 4096))
	if err == nil && json.Unmarshal(data, &body) == nil && body.Error != "" {
		message = fmt.Sprintf("%s (%s)", body.Error, response.Status)
	}

	switch response.StatusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return fault.Integrity("server rejected the request: %s", message)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fault.Authorization("server refused the request: %s", message)
	case http.StatusConflict:
		return fault.Conflict("server reported a conflict: %s", message)
	default:
		return fault.Transport("server error: %s", message)
	}
}
