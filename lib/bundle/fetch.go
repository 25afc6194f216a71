// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/fault"
)

// DefaultMaxFetchBytes caps a bundle download when FetchOptions does
// not say otherwise.
const DefaultMaxFetchBytes = 1 << 30

// FetchOptions configure a download.
type FetchOptions struct {
	// Client is the HTTP client to use; nil means
	// http.DefaultClient.
	Client *http.Client

	// MaxBytes caps the response body; zero means
	// DefaultMaxFetchBytes.
	MaxBytes int64
}

func (o FetchOptions) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return http.DefaultClient
}

func (o FetchOptions) maxBytes() int64 {
	if o.MaxBytes > 0 {
		return o.MaxBytes
	}
	return DefaultMaxFetchBytes
}

// Fetch downloads a bundle from uri. The first MagicLen bytes are
// sniffed before the rest is read, and the whole file must match the
// expected checksum when one is given (pass the zero hash to skip).
// Network failures are transport faults; a body that is not a bundle
// or does not match the checksum is an integrity fault.
func Fetch(ctx context.Context, uri string, checksum content.Hash, options FetchOptions) ([]byte, error) {
	body, err := get(ctx, uri, options.client())
	if err != nil {
		return nil, err
	}
	defer body.Close()

	prefix := make([]byte, MagicLen)
	if _, err := io.ReadFull(body, prefix); err != nil {
		return nil, fault.Transport("reading %s: %w", uri, err)
	}
	if !IsBundleData(prefix) {
		return nil, fault.Integrity("%s is not a bundle", uri)
	}

	limit := options.maxBytes()
	rest, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fault.Transport("reading %s: %w", uri, err)
	}
	data := append(prefix, rest...)
	if int64(len(data)) > limit {
		return nil, fault.Transport("%s exceeds the %d byte fetch limit", uri, limit)
	}

	if !checksum.IsZero() {
		if got := content.HashChecksum(data); got != checksum {
			return nil, fault.Integrity("%s checksums to %s, expected %s",
				uri, got.Short(), checksum.Short())
		}
	}
	return data, nil
}

// MaxLocationAttempts bounds how many previously-untried locations a
// single fetch will chase before giving up. Location lists are
// advisory and unauthenticated; a list stuffed with dead mirrors must
// not turn one fetch into an unbounded crawl.
const MaxLocationAttempts = 3

// FetchFromLocations tries locations in their merged order (newest
// creation token first) until one yields a bundle passing the checksum
// check. URIs present in tried are skipped, and every URI attempted is
// recorded there, so repeated calls across a sync pass never revisit a
// failed mirror. At most MaxLocationAttempts untried locations are
// attempted per call.
func FetchFromLocations(ctx context.Context, locations []Location, checksum content.Hash, tried map[string]bool, options FetchOptions) ([]byte, error) {
	attempts := 0
	var lastErr error
	for _, location := range locations {
		if attempts >= MaxLocationAttempts {
			break
		}
		if tried[location.URI] {
			continue
		}
		tried[location.URI] = true
		attempts++

		data, err := Fetch(ctx, location.URI, checksum, options)
		if err != nil {
			lastErr = err
			continue
		}
		return data, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fault.Transport("no untried locations left")
}

// FetchList downloads and parses a bundle location list.
func FetchList(ctx context.Context, uri string, options FetchOptions) ([]Location, error) {
	body, err := get(ctx, uri, options.client())
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, MaxListBytes+1))
	if err != nil {
		return nil, fault.Transport("reading %s: %w", uri, err)
	}
	if len(data) > MaxListBytes {
		return nil, fault.Integrity("location list at %s exceeds %d bytes", uri, MaxListBytes)
	}
	return ParseLocations(data)
}

func get(ctx context.Context, uri string, client *http.Client) (io.ReadCloser, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fault.Transport("building request for %s: %w", uri, err)
	}
	response, err := client.Do(request)
	if err != nil {
		return nil, fault.Transport("fetching %s: %w", uri, err)
	}
	if response.StatusCode != http.StatusOK {
		response.Body.Close()
		return nil, fault.Transport("fetching %s: %s", uri, response.Status)
	}
	return response.Body, nil
}

const bundleFileSuffix = ".bundle"

// Dir is a directory of bundle files named by bundle id. Writes are
// atomic (temp file plus rename), so a half-written bundle is never
// visible under its final name.
type Dir struct {
	path string
}

// OpenDir opens (creating if needed) a bundle directory.
func OpenDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating bundle directory: %w", err)
	}
	return &Dir{path: path}, nil
}

// Path returns where a bundle id lives in this directory.
func (d *Dir) Path(id content.Hash) string {
	return filepath.Join(d.path, id.String()+bundleFileSuffix)
}

// Has reports whether the directory holds the bundle.
func (d *Dir) Has(id content.Hash) bool {
	_, err := os.Stat(d.Path(id))
	return err == nil
}

// Write stores bundle bytes under their id, atomically.
func (d *Dir) Write(id content.Hash, data []byte) error {
	if err := renameio.WriteFile(d.Path(id), data, 0o644); err != nil {
		return fmt.Errorf("writing bundle %s: %w", id.Short(), err)
	}
	return nil
}

// Read loads a stored bundle's bytes.
func (d *Dir) Read(id content.Hash) ([]byte, error) {
	data, err := os.ReadFile(d.Path(id))
	if err != nil {
		return nil, fmt.Errorf("reading bundle %s: %w", id.Short(), err)
	}
	return data, nil
}

// List returns the ids of every stored bundle, sorted.
func (d *Dir) List() ([]content.Hash, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("listing bundle directory: %w", err)
	}
	ids := make([]content.Hash, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, bundleFileSuffix) {
			continue
		}
		id, err := content.ParseHash(strings.TrimSuffix(name, bundleFileSuffix))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids, nil
}

// Prune removes every stored bundle the keep function rejects,
// returning the removed ids.
func (d *Dir) Prune(keep func(content.Hash) bool) ([]content.Hash, error) {
	ids, err := d.List()
	if err != nil {
		return nil, err
	}
	var removed []content.Hash
	for _, id := range ids {
		if keep(id) {
			continue
		}
		if err := os.Remove(d.Path(id)); err != nil {
			return removed, fmt.Errorf("removing bundle %s: %w", id.Short(), err)
		}
		removed = append(removed, id)
	}
	return removed, nil
}
