// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"context"
	"time"

	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/fault"
	"github.com/deaddrop-io/deaddrop/lib/patchlog"
	"github.com/deaddrop-io/deaddrop/lib/store"
)

// Bootstrap initializes a fresh replica directly from a bundle: the
// carried genesis policy record and identity chains seed a new log in
// st, then the rest of the bundle unpacks into it. Every bundle packs
// the policy records governing its slice, so the genesis rides at
// origin index 0 in any bundle of the drop; a bundle that somehow
// lacks it is rejected. The store must not already hold a drop.
//
// Returns the new log and the ids of the records appended beyond the
// genesis.
func Bootstrap(ctx context.Context, st store.Store, bundle *Bundle, now time.Time) (*patchlog.Log, []content.Hash, error) {
	if err := Verify(bundle); err != nil {
		return nil, nil, err
	}
	if len(bundle.Header.Records) == 0 || bundle.Header.Records[0].Index != 0 {
		return nil, nil, fault.Integrity("bundle does not carry the drop's genesis record")
	}
	log, err := patchlog.Init(ctx, st, bundle.Header.Records[0].Record, now, bundle.Header.Identities...)
	if err != nil {
		return nil, nil, err
	}
	appended, err := Unpack(ctx, log, bundle, now)
	if err != nil {
		return nil, nil, err
	}
	return log, appended, nil
}

// Unpack verifies a bundle and applies it to the log: carried identity
// chains merge into the log's identity set, payload objects land in
// the store, and the records merge as one atomic batch. Records the
// log already holds are skipped, so unpacking the same bundle twice
// leaves the log exactly as unpacking it once did. On any failure no
// record is appended; payload objects may remain in the store, which
// is harmless because they are content addressed.
//
// Returns the ids of the records actually appended.
func Unpack(ctx context.Context, log *patchlog.Log, bundle *Bundle, now time.Time) ([]content.Hash, error) {
	if err := Verify(bundle); err != nil {
		return nil, err
	}
	if dropID := log.DropID(); bundle.Header.Drop != dropID {
		return nil, fault.Integrity("bundle belongs to drop %s, log is %s",
			bundle.Header.Drop.Short(), dropID.Short())
	}
	if len(bundle.Header.Objects) > 0 && bundle.Objects == nil {
		return nil, fault.Integrity("bundle object section is sealed and no identity opened it")
	}

	for _, chain := range bundle.Header.Identities {
		if _, err := log.PutIdentityChain(ctx, chain); err != nil {
			return nil, err
		}
	}

	st := log.Store()
	for _, info := range bundle.Header.Objects {
		if _, err := st.Put(ctx, bundle.Objects[info.ID]); err != nil {
			return nil, fault.Transport("storing payload %s: %w", info.ID.Short(), err)
		}
	}

	records := make([]patchlog.Record, len(bundle.Header.Records))
	for position, packed := range bundle.Header.Records {
		records[position] = packed.Record
	}
	return log.Merge(ctx, records, now)
}
