// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/fault"
	"github.com/deaddrop-io/deaddrop/lib/metadata"
	"github.com/deaddrop-io/deaddrop/lib/patchlog"
)

// PackOptions control the object section. The zero value stores
// payload objects raw and in the clear; DefaultPackOptions selects
// zstd.
type PackOptions struct {
	// Compression is the preferred algorithm for payload objects;
	// incompressible objects fall back to raw storage either way.
	Compression CompressionTag

	// Recipients, when non-empty, seals the object section to these
	// age public keys (age1... strings).
	Recipients []string
}

// DefaultPackOptions returns the standard packing configuration.
func DefaultPackOptions() PackOptions {
	return PackOptions{Compression: CompressionZstd}
}

// PackLog packs the entire log: every record, every identity chain in
// play, every payload object. The bundle a snapshot announces.
func PackLog(ctx context.Context, log *patchlog.Log, options PackOptions) (*Bundle, []byte, error) {
	selected := make(map[content.Hash]*patchlog.LoggedRecord)
	for _, logged := range log.Records() {
		selected[logged.Record.Header.ID] = logged
	}
	return packSelected(ctx, log, selected, options)
}

// PackTopic packs one topic's records. The policy records governing
// the slice ride along automatically.
func PackTopic(ctx context.Context, log *patchlog.Log, topic patchlog.Topic, options PackOptions) (*Bundle, []byte, error) {
	thread, ok := log.Thread(topic)
	if !ok {
		return nil, nil, fault.Integrity("log has no topic %s", content.Hash(topic).Short())
	}
	selected := make(map[content.Hash]*patchlog.LoggedRecord, len(thread))
	for _, logged := range thread {
		selected[logged.Record.Header.ID] = logged
	}
	return packSelected(ctx, log, selected, options)
}

// PackRecords packs the given records plus their reply ancestry, the
// closure a receiver needs to thread them. The usual shape of a
// submission: one fresh record and the parents it hangs from.
func PackRecords(ctx context.Context, log *patchlog.Log, ids []content.Hash, options PackOptions) (*Bundle, []byte, error) {
	selected := make(map[content.Hash]*patchlog.LoggedRecord, len(ids))
	for _, id := range ids {
		logged, ok := log.Get(id)
		if !ok {
			return nil, nil, fault.Integrity("log has no record %s", id.Short())
		}
		for {
			if _, done := selected[logged.Record.Header.ID]; done {
				break
			}
			selected[logged.Record.Header.ID] = logged
			parent := logged.Record.Header.InReplyTo
			if parent == nil {
				break
			}
			logged, ok = log.Get(*parent)
			if !ok {
				return nil, nil, fault.Integrity("record ancestry breaks at %s", parent.Short())
			}
		}
	}
	return packSelected(ctx, log, selected, options)
}

func packSelected(ctx context.Context, log *patchlog.Log, selected map[content.Hash]*patchlog.LoggedRecord, options PackOptions) (*Bundle, []byte, error) {
	if len(selected) == 0 {
		return nil, nil, fault.Integrity("nothing to pack")
	}

	// The policy records up to the newest selected position always
	// ride along: they are the proofs that each record was authorized
	// at its position.
	var maxIndex uint64
	for _, logged := range selected {
		if logged.Index > maxIndex {
			maxIndex = logged.Index
		}
	}
	for _, logged := range log.Records() {
		if logged.Index > maxIndex {
			break
		}
		if logged.Record.Message.Kind == patchlog.KindPolicy {
			selected[logged.Record.Header.ID] = logged
		}
	}

	packed := make([]*patchlog.LoggedRecord, 0, len(selected))
	for _, logged := range selected {
		packed = append(packed, logged)
	}
	sort.Slice(packed, func(i, j int) bool { return packed[i].Index < packed[j].Index })

	// Identity chains: every author, plus every identity the carried
	// policies name in a role. Authors are always known to the log;
	// a role member whose chain never reached us is simply omitted
	// and contributes nothing at verification, same as here.
	wanted := make(map[content.Hash]bool)
	for _, logged := range packed {
		wanted[logged.Record.Header.Author] = true
		if logged.Record.Message.Kind != patchlog.KindPolicy {
			continue
		}
		envelope, err := logged.Record.Message.DecodePolicy()
		if err != nil {
			return nil, nil, fault.Integrity("record %s: %w", logged.Record.Header.ID.Short(), err)
		}
		for _, id := range roleIdentities(envelope.Document) {
			wanted[id] = true
		}
	}
	stableIDs := make([]content.Hash, 0, len(wanted))
	for id := range wanted {
		stableIDs = append(stableIDs, id)
	}
	content.SortHashes(stableIDs)

	chains := make([][]metadata.Signed[metadata.Identity], 0, len(stableIDs))
	for _, id := range stableIDs {
		chain, ok := log.IdentityChain(id)
		if !ok {
			if hasAuthor(packed, id) {
				return nil, nil, fault.Integrity("log holds no identity chain for author %s", id.Short())
			}
			continue
		}
		chains = append(chains, chain)
	}

	// Payload objects, from the store the log already proved holds
	// them.
	st := log.Store()
	objects := make(map[content.Hash][]byte)
	for _, logged := range packed {
		patch := logged.Record.Header.Patch
		if patch == nil {
			continue
		}
		if _, done := objects[patch.ID]; done {
			continue
		}
		data, err := st.Get(ctx, patch.ID)
		if err != nil {
			return nil, nil, fault.Transport("reading payload %s: %w", patch.ID.Short(), err)
		}
		objects[patch.ID] = data
	}
	infos := make([]ObjectInfo, 0, len(objects))
	for id, data := range objects {
		infos = append(infos, ObjectInfo{ID: id, Size: uint64(len(data))})
	}
	sort.Slice(infos, func(i, j int) bool {
		return bytes.Compare(infos[i].ID[:], infos[j].ID[:]) < 0
	})

	header := Header{
		Version:    CurrentHeaderVersion,
		Drop:       log.DropID(),
		Records:    make([]PackedRecord, len(packed)),
		Identities: chains,
		Objects:    infos,
	}
	for position, logged := range packed {
		header.Records[position] = PackedRecord{Index: logged.Index, Record: *logged.Record}
	}

	section, err := frameObjects(infos, objects, options.Compression)
	if err != nil {
		return nil, nil, fmt.Errorf("packing objects: %w", err)
	}
	if len(options.Recipients) > 0 {
		header.Encryption = EncryptionAge
		section, err = encryptSection(section, options.Recipients)
		if err != nil {
			return nil, nil, fmt.Errorf("sealing bundle: %w", err)
		}
	}

	encoded, err := encode(&header, section)
	if err != nil {
		return nil, nil, err
	}

	return &Bundle{
		Header:   header,
		Objects:  objects,
		ID:       computeID(&header),
		Checksum: content.HashChecksum(encoded),
	}, encoded, nil
}

func roleIdentities(document metadata.Drop) []content.Hash {
	var ids []content.Hash
	ids = append(ids, document.Roles.Drop.IDs...)
	ids = append(ids, document.Roles.Snapshot.IDs...)
	ids = append(ids, document.Roles.Mirrors.IDs...)
	for _, branch := range document.Roles.Branches {
		ids = append(ids, branch.Role.IDs...)
	}
	return ids
}

func hasAuthor(packed []*patchlog.LoggedRecord, id content.Hash) bool {
	for _, logged := range packed {
		if logged.Record.Header.Author == id {
			return true
		}
	}
	return false
}
