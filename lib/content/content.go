// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package content provides content addressing for everything Deaddrop
// stores or ships: metadata documents, patch records, packed objects,
// and bundles.
//
// All addresses are 32-byte BLAKE3 keyed hashes. Each kind of content
// hashes under its own domain key, so a record and an identity
// document with identical bytes still get distinct addresses. Hashes
// render as lowercase hex; the short display form is "drop-" followed
// by the first 12 hex characters.
package content

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest. Every content address in the
// system (record id, document hash, object id, bundle hash) is this
// size regardless of domain.
type Hash [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures that the same input bytes produce different
// hashes in different contexts, preventing cross-domain collisions.
type domainKey [32]byte

// Domain separation keys. These are fixed protocol constants;
// changing one invalidates every existing address in that domain.
// The byte values are the ASCII encoding of the domain name,
// zero-padded to 32 bytes, so the keys stay readable in hex dumps.
var (
	objectDomainKey = domainKey{
		'd', 'e', 'a', 'd', 'd', 'r', 'o', 'p', '.',
		'o', 'b', 'j', 'e', 'c', 't',
	}

	recordDomainKey = domainKey{
		'd', 'e', 'a', 'd', 'd', 'r', 'o', 'p', '.',
		'r', 'e', 'c', 'o', 'r', 'd',
	}

	identityDomainKey = domainKey{
		'd', 'e', 'a', 'd', 'd', 'r', 'o', 'p', '.',
		'i', 'd', 'e', 'n', 't', 'i', 't', 'y',
	}

	dropDomainKey = domainKey{
		'd', 'e', 'a', 'd', 'd', 'r', 'o', 'p', '.',
		'd', 'r', 'o', 'p',
	}

	topicDomainKey = domainKey{
		'd', 'e', 'a', 'd', 'd', 'r', 'o', 'p', '.',
		't', 'o', 'p', 'i', 'c',
	}

	bundleDomainKey = domainKey{
		'd', 'e', 'a', 'd', 'd', 'r', 'o', 'p', '.',
		'b', 'u', 'n', 'd', 'l', 'e',
	}

	checksumDomainKey = domainKey{
		'd', 'e', 'a', 'd', 'd', 'r', 'o', 'p', '.',
		'c', 'h', 'e', 'c', 'k', 's', 'u', 'm',
	}
)

// HashObject computes the object-domain hash of a packed object's
// canonical bytes. Object ids are the keys of the external object
// store and the members of a bundle's tip closure.
func HashObject(data []byte) Hash {
	return keyedHash(objectDomainKey, data)
}

// HashRecord computes the record-domain hash of a patch record's
// canonical encoding (header and message, without the id field
// itself). This is the record id: two records with identical content
// are the same record.
func HashRecord(data []byte) Hash {
	return keyedHash(recordDomainKey, data)
}

// HashIdentity computes the identity-domain hash of an identity
// document's canonical encoding. The hash of the root version (the
// one with no predecessor) is the stable identity id; the hash of
// any version is how other documents reference that exact revision.
func HashIdentity(data []byte) Hash {
	return keyedHash(identityDomainKey, data)
}

// HashDrop computes the drop-domain hash of a drop policy document's
// canonical encoding. Policy chains link revisions by this hash.
func HashDrop(data []byte) Hash {
	return keyedHash(dropDomainKey, data)
}

// HashTopic derives a topic id from arbitrary seed bytes. Well-known
// topics use fixed ASCII seeds; thread topics use the root record id.
func HashTopic(seed []byte) Hash {
	return keyedHash(topicDomainKey, seed)
}

// HashBundle computes a bundle's identity from the set of object ids
// it makes reachable (prerequisites and reference tips together).
// The ids are deduplicated and sorted before hashing, so the bundle
// hash is independent of header ordering and of how the packer chose
// to list them.
func HashBundle(ids []Hash) Hash {
	deduped := make([]Hash, len(ids))
	copy(deduped, ids)
	sort.Slice(deduped, func(i, j int) bool {
		return bytes.Compare(deduped[i][:], deduped[j][:]) < 0
	})

	hasher := newKeyed(bundleDomainKey)
	previous := Hash{}
	first := true
	for _, id := range deduped {
		if !first && id == previous {
			continue
		}
		hasher.Write(id[:])
		previous = id
		first = false
	}

	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// HashChecksum computes the checksum-domain hash of a bundle file's
// complete bytes. The checksum detects transport corruption; it is
// not the bundle's identity (encryption and compression change the
// file bytes but not the object closure).
func HashChecksum(data []byte) Hash {
	return keyedHash(checksumDomainKey, data)
}

// IsZero reports whether h is the all-zero hash. The zero hash is
// never a valid content address; it marks "absent" in optional
// fields.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the full 64-character hex form.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the display form: "drop-" followed by the first 12
// hex characters. Logs and CLI tables use this; stored documents
// always carry the full hash.
func (h Hash) Short() string {
	return "drop-" + hex.EncodeToString(h[:6])
}

// MarshalText implements encoding.TextMarshaler. Hashes serialize as
// full lowercase hex in both CBOR and JSON.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h[:])), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing content hash: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("content hash is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// SortHashes sorts hashes into the canonical byte order used by
// [HashBundle] and everywhere a deterministic listing is needed.
func SortHashes(hashes []Hash) {
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})
}

// keyedHash computes the BLAKE3 keyed hash of data under the given
// domain key.
func keyedHash(key domainKey, data []byte) Hash {
	hasher := newKeyed(key)
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// newKeyed constructs a keyed BLAKE3 hasher. NewKeyed only fails for
// a wrong key length, which the fixed-size domainKey rules out.
func newKeyed(key domainKey) *blake3.Hasher {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("content: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}
