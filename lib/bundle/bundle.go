// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"filippo.io/age"

	"github.com/deaddrop-io/deaddrop/lib/codec"
	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/fault"
	"github.com/deaddrop-io/deaddrop/lib/metadata"
	"github.com/deaddrop-io/deaddrop/lib/patchlog"
)

// Format constants. Changing any of these breaks compatibility with
// every bundle already in the wild.
const (
	// formatVersion is the container framing version, stored right
	// after the magic.
	formatVersion = 1

	// CurrentHeaderVersion is the schema version of the CBOR header.
	CurrentHeaderVersion = 1

	// MagicLen is how many leading bytes identify a bundle file.
	// Transports sniff exactly this many before committing to a
	// download.
	MagicLen = 16

	// maxHeaderBytes caps the decoded header; anything larger is
	// rejected before allocation.
	maxHeaderBytes = 64 << 20
)

// magic is the 16-byte file signature.
var magic = [MagicLen]byte{
	'D', 'E', 'A', 'D', 'D', 'R', 'O', 'P',
	'-', 'B', 'U', 'N', 'D', 'L', 'E', '\n',
}

// IsBundleData reports whether data starts with the bundle file
// signature. Callers sniff the first MagicLen bytes of a download with
// this before reading the rest.
func IsBundleData(data []byte) bool {
	return len(data) >= MagicLen && bytes.Equal(data[:MagicLen], magic[:])
}

// Header is the clear-text part of a bundle: which drop it belongs
// to, the record slice with origin positions, the identity chains
// proving the signatures, and the directory of packed payload
// objects. The header is canonical CBOR, so its bytes are reproducible
// from its content.
type Header struct {
	// Version is the header schema version.
	Version uint64 `json:"version"`

	// Drop is the drop id (the hash of the genesis policy envelope)
	// this bundle is a slice of.
	Drop content.Hash `json:"drop"`

	// Records is the packed slice, ascending by origin index. The
	// policy records governing the slice ride along, so the slice is
	// verifiable without the rest of the log.
	Records []PackedRecord `json:"records"`

	// Identities carries the rotation chain (head first) of every
	// identity needed to verify the records and the policies.
	Identities [][]metadata.Signed[metadata.Identity] `json:"identities,omitempty"`

	// Objects lists the payload objects in the object section, in
	// section order.
	Objects []ObjectInfo `json:"objects,omitempty"`

	// Encryption marks a sealed object section (EncryptionAge);
	// empty means plaintext.
	Encryption string `json:"encryption,omitempty"`
}

// PackedRecord is one record and its position in the origin log. The
// position interleaves the slice with its policy records, which is
// what lets a verifier replay policy-at-time-of-write.
type PackedRecord struct {
	Index  uint64          `json:"index"`
	Record patchlog.Record `json:"record"`
}

// ObjectInfo describes one payload object in the object section.
type ObjectInfo struct {
	// ID is the object-domain hash of the uncompressed bytes.
	ID content.Hash `json:"id"`

	// Size is the uncompressed byte length.
	Size uint64 `json:"size"`
}

// Bundle is a decoded bundle. ID is derived from the carried content
// (the sorted set of record and object ids), so the same logical slice
// has the same id no matter how it was compressed or sealed; Checksum
// covers the exact encoded bytes and changes with either.
type Bundle struct {
	Header Header

	// Objects holds the payload objects by id. Nil when the object
	// section is sealed and none of the supplied identities matched;
	// the header remains fully readable.
	Objects map[content.Hash][]byte

	// ID is the bundle-domain hash over the carried id set.
	ID content.Hash

	// Checksum is the checksum-domain hash of the encoded file.
	Checksum content.Hash
}

// Encrypted reports whether the object section is sealed.
func (b *Bundle) Encrypted() bool {
	return b.Header.Encryption != ""
}

// computeID derives the bundle id from the header: the deduplicated,
// sorted set of every record id and payload object id it names.
func computeID(header *Header) content.Hash {
	ids := make([]content.Hash, 0, len(header.Records)+len(header.Objects))
	for _, packed := range header.Records {
		ids = append(ids, packed.Record.Header.ID)
	}
	for _, info := range header.Objects {
		ids = append(ids, info.ID)
	}
	return content.HashBundle(ids)
}

// encode serializes the header and the given object section bytes into
// the bundle file layout:
//
//	[16] magic
//	[1]  format version
//	[3]  reserved
//	[4]  header length, little endian
//	[..] header, canonical CBOR
//	[..] object section (framed objects, possibly age-sealed)
func encode(header *Header, section []byte) ([]byte, error) {
	headerBytes, err := codec.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("encoding bundle header: %w", err)
	}
	if len(headerBytes) > maxHeaderBytes {
		return nil, fmt.Errorf("bundle header is %d bytes, limit %d", len(headerBytes), maxHeaderBytes)
	}

	var out bytes.Buffer
	out.Grow(MagicLen + 8 + len(headerBytes) + len(section))
	out.Write(magic[:])
	out.WriteByte(formatVersion)
	out.Write([]byte{0, 0, 0})

	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(headerBytes)))
	out.Write(length[:])
	out.Write(headerBytes)
	out.Write(section)
	return out.Bytes(), nil
}

// frameObjects builds the plaintext object section: one frame per
// object in order, each frame a compression tag byte, a little-endian
// stored length, and the stored bytes.
func frameObjects(infos []ObjectInfo, objects map[content.Hash][]byte, preferred CompressionTag) ([]byte, error) {
	var section bytes.Buffer
	for _, info := range infos {
		data, ok := objects[info.ID]
		if !ok {
			return nil, fmt.Errorf("object %s listed but not provided", info.ID.Short())
		}
		tag, stored, err := Compress(data, preferred)
		if err != nil {
			return nil, fmt.Errorf("compressing object %s: %w", info.ID.Short(), err)
		}
		section.WriteByte(byte(tag))
		var length [4]byte
		binary.LittleEndian.PutUint32(length[:], uint32(len(stored)))
		section.Write(length[:])
		section.Write(stored)
	}
	return section.Bytes(), nil
}

// parseObjects walks the plaintext object section against the header's
// object list, decompressing and hash-verifying every object.
func parseObjects(infos []ObjectInfo, section []byte) (map[content.Hash][]byte, error) {
	objects := make(map[content.Hash][]byte, len(infos))
	rest := section
	for _, info := range infos {
		if len(rest) < 5 {
			return nil, fault.Integrity("object section truncated at object %s", info.ID.Short())
		}
		tag := CompressionTag(rest[0])
		stored := int(binary.LittleEndian.Uint32(rest[1:5]))
		rest = rest[5:]
		if stored > len(rest) {
			return nil, fault.Integrity("object %s frame claims %d bytes, %d remain",
				info.ID.Short(), stored, len(rest))
		}
		data, err := Decompress(rest[:stored], tag, int(info.Size))
		if err != nil {
			return nil, fault.Integrity("object %s: %w", info.ID.Short(), err)
		}
		rest = rest[stored:]

		if got := content.HashObject(data); got != info.ID {
			return nil, fault.Integrity("object %s decodes to %s", info.ID.Short(), got.Short())
		}
		objects[info.ID] = data
	}
	if len(rest) != 0 {
		return nil, fault.Integrity("object section has %d trailing bytes", len(rest))
	}
	return objects, nil
}

// Decode parses an encoded bundle. A sealed object section is opened
// with the supplied age identities; when none match, the bundle
// decodes with Objects nil so the header can still be inspected and
// relayed. All integrity failures carry the integrity category.
func Decode(data []byte, identities ...age.Identity) (*Bundle, error) {
	if !IsBundleData(data) {
		return nil, fault.Integrity("not a bundle: bad magic")
	}
	rest := data[MagicLen:]
	if len(rest) < 8 {
		return nil, fault.Integrity("bundle truncated before header")
	}
	if rest[0] != formatVersion {
		return nil, fault.Integrity("unsupported bundle format version %d", rest[0])
	}
	headerLength := int(binary.LittleEndian.Uint32(rest[4:8]))
	rest = rest[8:]
	if headerLength > maxHeaderBytes {
		return nil, fault.Integrity("bundle header claims %d bytes, limit %d", headerLength, maxHeaderBytes)
	}
	if headerLength > len(rest) {
		return nil, fault.Integrity("bundle header claims %d bytes, %d remain", headerLength, len(rest))
	}

	var header Header
	if err := codec.Unmarshal(rest[:headerLength], &header); err != nil {
		return nil, fault.Integrity("decoding bundle header: %w", err)
	}
	if header.Version != CurrentHeaderVersion {
		return nil, fault.Integrity("unsupported bundle header version %d", header.Version)
	}
	section := rest[headerLength:]

	bundle := &Bundle{
		Header:   header,
		ID:       computeID(&header),
		Checksum: content.HashChecksum(data),
	}

	switch header.Encryption {
	case "":
		objects, err := parseObjects(header.Objects, section)
		if err != nil {
			return nil, err
		}
		bundle.Objects = objects

	case EncryptionAge:
		plaintext, opened, err := decryptSection(section, identities)
		if err != nil {
			return nil, fault.Integrity("%w", err)
		}
		if opened {
			objects, err := parseObjects(header.Objects, plaintext)
			if err != nil {
				return nil, err
			}
			bundle.Objects = objects
		}

	default:
		return nil, fault.Integrity("unknown bundle encryption %q", header.Encryption)
	}

	return bundle, nil
}
