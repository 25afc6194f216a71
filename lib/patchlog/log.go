// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package patchlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/deaddrop-io/deaddrop/lib/codec"
	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/fault"
	"github.com/deaddrop-io/deaddrop/lib/metadata"
	"github.com/deaddrop-io/deaddrop/lib/store"
)

const (
	// logHeadRef is the only mutable shared resource of a drop: the
	// ref every append races on.
	logHeadRef = "log/head"

	// identityRefPrefix is where identity chains live, one ref per
	// stable id pointing at the encoded chain blob.
	identityRefPrefix = "ids/"

	// seenRefPrefix is the sharded record membership index: record id
	// to record blob, answerable without walking the chain.
	seenRefPrefix = "seen/"

	// maxAppendAttempts bounds how many head races one append will
	// re-validate through before giving up with a conflict fault.
	maxAppendAttempts = 5
)

// ErrNotInitialized is returned by Open when the store holds no log.
var ErrNotInitialized = errors.New("patchlog: drop log not initialized")

// logEntry fixes one record's position in this replica's log. Entries
// chain backwards through Prev, so the head ref alone names the whole
// history, and the entry chain is the order the policy fold replays.
type logEntry struct {
	// Prev is the object id of the previous entry blob, zero at the
	// genesis entry.
	Prev content.Hash `json:"prev"`

	// Record is the record's content-addressed id.
	Record content.Hash `json:"record"`

	// Object is the object id of the encoded record blob.
	Object content.Hash `json:"object"`

	// Index is the record's position, starting at zero.
	Index uint64 `json:"index"`
}

// Log is one replica's view of a drop: the entry chain in the store
// plus the memoized fold over it. A Log is safe for concurrent use;
// appends additionally survive racing writers in other processes
// because the head moves only by compare-and-swap.
type Log struct {
	store  store.Store
	limits Limits

	mu sync.RWMutex
	st *state
}

// Init creates a drop log in an empty store: the genesis record must
// be a sealed policy record, and the identity chains must cover every
// identity its roles name. Init also bootstraps replicas of existing
// drops, so the genesis verifies against identity chains rather than
// current keys: a founder who rotated since creating the drop does
// not invalidate clones. Returns a conflict fault if the store
// already holds a log.
func Init(ctx context.Context, st store.Store, genesis Record, now time.Time, identities ...[]metadata.Signed[metadata.Identity]) (*Log, error) {
	log := &Log{store: st, limits: DefaultLimits(), st: newState()}

	for _, chain := range identities {
		stable, err := ensureIdentityChain(ctx, st, chain)
		if err != nil {
			return nil, err
		}
		log.st.identities[stable] = chain
	}
	if err := log.st.resolveSigners(time.Time{}); err != nil {
		return nil, err
	}

	if genesis.Message.Kind != KindPolicy {
		return nil, fault.Integrity("genesis record is %q, not a policy record", genesis.Message.Kind)
	}
	topic, err := log.st.check(&genesis, log.limits, false, now)
	if err != nil {
		return nil, err
	}

	object, err := putRecord(ctx, st, genesis)
	if err != nil {
		return nil, err
	}
	entry := logEntry{Record: genesis.Header.ID, Object: object, Index: 0}
	entryObject, err := putEntry(ctx, st, entry)
	if err != nil {
		return nil, err
	}

	if err := st.UpdateRef(ctx, logHeadRef, content.Hash{}, entryObject); err != nil {
		if errors.Is(err, store.ErrRefConflict) {
			return nil, fault.Conflict("store already holds a drop log")
		}
		return nil, storeFault(err, "creating log head")
	}

	if _, err := log.st.commit(&genesis, topic); err != nil {
		return nil, err
	}
	log.st.headEntry = entryObject
	log.ensureSeen(ctx, genesis.Header.ID, object)
	return log, nil
}

// Open loads the log from the store and replays it. Replay verifies
// every record against the policy and identities in effect at its
// position, so a tampered store fails here, not at read time.
func Open(ctx context.Context, st store.Store) (*Log, error) {
	log := &Log{store: st, limits: DefaultLimits()}
	log.mu.Lock()
	defer log.mu.Unlock()
	if err := log.refreshLocked(ctx); err != nil {
		return nil, err
	}
	return log, nil
}

// Store exposes the underlying object store, for layers that move
// payload blobs alongside the log.
func (l *Log) Store() store.Store {
	return l.store
}

// refreshLocked brings the fold up to date with the store: reloads
// identity chains, then replays any entries appended since the last
// refresh. When the known head is no longer on the chain the whole
// fold is rebuilt.
func (l *Log) refreshLocked(ctx context.Context) error {
	head, err := l.store.GetRef(ctx, logHeadRef)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotInitialized
		}
		return storeFault(err, "reading log head")
	}

	identities, err := loadIdentities(ctx, l.store)
	if err != nil {
		return err
	}

	if l.st != nil && l.st.headEntry == head {
		l.st.identities = identities
		return l.st.resolveSigners(time.Time{})
	}

	known := content.Hash{}
	if l.st != nil {
		known = l.st.headEntry
	}
	entries, err := walkEntries(ctx, l.store, head, known)
	if err != nil {
		if !errors.Is(err, errUnknownBase) {
			return err
		}
		// The known head is not an ancestor of the current head:
		// rebuild from scratch.
		l.st = nil
		entries, err = walkEntries(ctx, l.store, head, content.Hash{})
		if err != nil {
			return err
		}
	}

	if l.st == nil {
		l.st = newState()
	}
	l.st.identities = identities
	if err := l.st.resolveSigners(time.Time{}); err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Index != l.st.length {
			return fault.Integrity("log entry for record %s has index %d at position %d",
				entry.Record.Short(), entry.Index, l.st.length)
		}
		record, err := getRecord(ctx, l.store, entry.Object)
		if err != nil {
			return err
		}
		if record.Header.ID != entry.Record {
			return fault.Integrity("log entry names record %s but the blob decodes to %s",
				entry.Record.Short(), record.Header.ID.Short())
		}
		if _, err := l.st.apply(record, l.limits, false, time.Time{}); err != nil {
			return err
		}
	}
	l.st.headEntry = head
	return nil
}

// errUnknownBase reports that a walk reached genesis without passing
// the caller's known entry.
var errUnknownBase = errors.New("known entry not on the chain")

// walkEntries loads the entry chain from head back to (but excluding)
// known, returning the entries oldest first. A zero known walks the
// whole chain.
func walkEntries(ctx context.Context, st store.Store, head, known content.Hash) ([]logEntry, error) {
	var reversed []logEntry
	for current := head; !current.IsZero(); {
		if current == known {
			known = content.Hash{}
			break
		}
		data, err := st.Get(ctx, current)
		if err != nil {
			return nil, storeFault(err, fmt.Sprintf("reading log entry %s", current.Short()))
		}
		var entry logEntry
		if err := codec.Unmarshal(data, &entry); err != nil {
			return nil, fault.Integrity("decoding log entry %s: %w", current.Short(), err)
		}
		reversed = append(reversed, entry)
		current = entry.Prev
	}
	if !known.IsZero() {
		return nil, errUnknownBase
	}

	entries := make([]logEntry, len(reversed))
	for index, entry := range reversed {
		entries[len(entries)-1-index] = entry
	}
	return entries, nil
}

func loadIdentities(ctx context.Context, st store.Store) (map[content.Hash][]metadata.Signed[metadata.Identity], error) {
	refs, err := st.ListRefs(ctx, identityRefPrefix)
	if err != nil {
		return nil, storeFault(err, "listing identities")
	}
	identities := make(map[content.Hash][]metadata.Signed[metadata.Identity], len(refs))
	for _, ref := range refs {
		claimed, err := content.ParseHash(strings.TrimPrefix(ref.Name, identityRefPrefix))
		if err != nil {
			return nil, fault.Integrity("identity ref %q: %w", ref.Name, err)
		}
		data, err := st.Get(ctx, ref.Target)
		if err != nil {
			return nil, storeFault(err, fmt.Sprintf("reading identity %s", claimed.Short()))
		}
		var chain []metadata.Signed[metadata.Identity]
		if err := codec.Unmarshal(data, &chain); err != nil {
			return nil, fault.Integrity("decoding identity %s: %w", claimed.Short(), err)
		}
		identities[claimed] = chain
	}
	return identities, nil
}

// Append adds a sealed record to the log. The append is serialized
// through the head ref: on every lost race the fold is refreshed and
// the record re-validated against the new prefix, because the race may
// have changed the policy it is judged under. Appending a record the
// log already holds is a no-op returning the existing id.
func (l *Log) Append(ctx context.Context, record Record, now time.Time) (content.Hash, error) {
	if record.Header.ID.IsZero() {
		return content.Hash{}, fault.Integrity("record is not sealed")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		if err := l.refreshLocked(ctx); err != nil {
			return content.Hash{}, err
		}
		if _, ok := l.st.records[record.Header.ID]; ok {
			return record.Header.ID, nil
		}

		if record.Header.Patch != nil {
			present, err := l.store.Has(ctx, record.Header.Patch.ID)
			if err != nil {
				return content.Hash{}, storeFault(err, "checking patch payload")
			}
			if !present {
				return content.Hash{}, fault.Integrity("patch payload %s is not in the store",
					record.Header.Patch.ID.Short())
			}
		}

		topic, err := l.st.check(&record, l.limits, true, now)
		if err != nil {
			return content.Hash{}, err
		}

		object, err := putRecord(ctx, l.store, record)
		if err != nil {
			return content.Hash{}, err
		}
		entry := logEntry{
			Prev:   l.st.headEntry,
			Record: record.Header.ID,
			Object: object,
			Index:  l.st.length,
		}
		entryObject, err := putEntry(ctx, l.store, entry)
		if err != nil {
			return content.Hash{}, err
		}

		err = l.store.UpdateRef(ctx, logHeadRef, l.st.headEntry, entryObject)
		if errors.Is(err, store.ErrRefConflict) {
			continue
		}
		if err != nil {
			return content.Hash{}, storeFault(err, "moving log head")
		}

		if _, err := l.st.commit(&record, topic); err != nil {
			return content.Hash{}, err
		}
		l.st.headEntry = entryObject
		l.ensureSeen(ctx, record.Header.ID, object)
		return record.Header.ID, nil
	}
	return content.Hash{}, fault.Conflict("append lost %d head races", maxAppendAttempts)
}

// Merge adds a batch of foreign records to the log as a single atomic
// head move: the bundle applies entirely or not at all. Records the log
// already holds are skipped, so merging the same bundle twice is a
// no-op. Signatures verify against the full identity chains rather than
// current keys, because foreign records may predate local rotations;
// the policy fold still gates every record at its landing position.
// Returns the ids actually appended, in landing order.
func (l *Log) Merge(ctx context.Context, records []Record, now time.Time) ([]content.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		if err := l.refreshLocked(ctx); err != nil {
			return nil, err
		}

		pending := make([]*Record, 0, len(records))
		queued := make(map[content.Hash]bool, len(records))
		for index := range records {
			record := &records[index]
			if record.Header.ID.IsZero() {
				return nil, fault.Integrity("record %d in the batch is not sealed", index)
			}
			if queued[record.Header.ID] {
				continue
			}
			if _, ok := l.st.records[record.Header.ID]; ok {
				continue
			}
			queued[record.Header.ID] = true
			pending = append(pending, record)
		}
		if len(pending) == 0 {
			return nil, nil
		}

		// Validate the whole batch against a scratch fold before
		// writing anything. A record whose parent is neither in the
		// log nor earlier in the batch fails here and rejects the
		// batch.
		scratch := l.st.clone()
		for _, record := range pending {
			topic, err := scratch.check(record, l.limits, false, now)
			if err != nil {
				return nil, err
			}
			if _, err := scratch.commit(record, topic); err != nil {
				return nil, err
			}
		}

		for _, record := range pending {
			if record.Header.Patch == nil {
				continue
			}
			present, err := l.store.Has(ctx, record.Header.Patch.ID)
			if err != nil {
				return nil, storeFault(err, "checking patch payload")
			}
			if !present {
				return nil, fault.Integrity("patch payload %s is not in the store",
					record.Header.Patch.ID.Short())
			}
		}

		// Write the record blobs and the extended entry chain, then
		// move the head over the whole batch in one compare-and-swap.
		previous := l.st.headEntry
		base := l.st.length
		objects := make([]content.Hash, len(pending))
		tail := previous
		for position, record := range pending {
			object, err := putRecord(ctx, l.store, *record)
			if err != nil {
				return nil, err
			}
			objects[position] = object
			entryObject, err := putEntry(ctx, l.store, logEntry{
				Prev:   tail,
				Record: record.Header.ID,
				Object: object,
				Index:  base + uint64(position),
			})
			if err != nil {
				return nil, err
			}
			tail = entryObject
		}

		err := l.store.UpdateRef(ctx, logHeadRef, previous, tail)
		if errors.Is(err, store.ErrRefConflict) {
			continue
		}
		if err != nil {
			return nil, storeFault(err, "moving log head")
		}

		scratch.headEntry = tail
		l.st = scratch
		added := make([]content.Hash, len(pending))
		for position, record := range pending {
			added[position] = record.Header.ID
			l.ensureSeen(ctx, record.Header.ID, objects[position])
		}
		return added, nil
	}
	return nil, fault.Conflict("merge lost %d head races", maxAppendAttempts)
}

func putRecord(ctx context.Context, st store.Store, record Record) (content.Hash, error) {
	encoded, err := codec.Marshal(record)
	if err != nil {
		return content.Hash{}, fmt.Errorf("encoding record: %w", err)
	}
	object, err := st.Put(ctx, encoded)
	if err != nil {
		return content.Hash{}, storeFault(err, "storing record")
	}
	return object, nil
}

func getRecord(ctx context.Context, st store.Store, object content.Hash) (*Record, error) {
	data, err := st.Get(ctx, object)
	if err != nil {
		return nil, storeFault(err, fmt.Sprintf("reading record blob %s", object.Short()))
	}
	var record Record
	if err := codec.Unmarshal(data, &record); err != nil {
		return nil, fault.Integrity("decoding record blob %s: %w", object.Short(), err)
	}
	return &record, nil
}

func putEntry(ctx context.Context, st store.Store, entry logEntry) (content.Hash, error) {
	encoded, err := codec.Marshal(entry)
	if err != nil {
		return content.Hash{}, fmt.Errorf("encoding log entry: %w", err)
	}
	object, err := st.Put(ctx, encoded)
	if err != nil {
		return content.Hash{}, storeFault(err, "storing log entry")
	}
	return object, nil
}

func seenRefName(id content.Hash) string {
	hex := id.String()
	return seenRefPrefix + hex[:2] + "/" + hex[2:]
}

// ensureSeen records id in the membership index. Failures are
// swallowed: the index is derived state, recreatable from the chain,
// and an append that already moved the head must not fail afterwards.
// A conflict means another replica of the same record won the ref,
// which is the same outcome.
func (l *Log) ensureSeen(ctx context.Context, id, object content.Hash) {
	_ = l.store.UpdateRef(ctx, seenRefName(id), content.Hash{}, object)
}

// Seen reports record membership straight from the store index,
// without loading the log.
func Seen(ctx context.Context, st store.Store, id content.Hash) (bool, error) {
	_, err := st.GetRef(ctx, seenRefName(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, storeFault(err, "reading seen index")
	}
	return true, nil
}

// ensureIdentityChain verifies and stores an identity chain, merging
// it with whatever the store already holds for the same identity. The
// longer of two chains wins when one extends the other; diverged
// histories for one identity are an integrity fault, because a chain
// has exactly one line of succession.
func ensureIdentityChain(ctx context.Context, st store.Store, chain []metadata.Signed[metadata.Identity]) (content.Hash, error) {
	stable, err := metadata.IdentityChainID(chain)
	if err != nil {
		return content.Hash{}, err
	}
	refName := identityRefPrefix + stable.String()

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		expected, err := st.GetRef(ctx, refName)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return content.Hash{}, storeFault(err, "reading identity ref")
		}

		if !expected.IsZero() {
			data, err := st.Get(ctx, expected)
			if err != nil {
				return content.Hash{}, storeFault(err, fmt.Sprintf("reading identity %s", stable.Short()))
			}
			var existing []metadata.Signed[metadata.Identity]
			if err := codec.Unmarshal(data, &existing); err != nil {
				return content.Hash{}, fault.Integrity("decoding identity %s: %w", stable.Short(), err)
			}
			newer, err := chainExtends(chain, existing)
			if err != nil {
				return content.Hash{}, fmt.Errorf("identity %s: %w", stable.Short(), err)
			}
			if !newer {
				return stable, nil
			}
		}

		encoded, err := codec.Marshal(chain)
		if err != nil {
			return content.Hash{}, fmt.Errorf("encoding identity chain: %w", err)
		}
		object, err := st.Put(ctx, encoded)
		if err != nil {
			return content.Hash{}, storeFault(err, "storing identity chain")
		}
		err = st.UpdateRef(ctx, refName, expected, object)
		if errors.Is(err, store.ErrRefConflict) {
			continue
		}
		if err != nil {
			return content.Hash{}, storeFault(err, "moving identity ref")
		}
		return stable, nil
	}
	return content.Hash{}, fault.Conflict("identity %s update lost %d ref races", stable.Short(), maxAppendAttempts)
}

// chainExtends reports whether candidate strictly extends existing.
// Chains are head first, so an extension keeps the whole existing
// chain as its tail.
func chainExtends(candidate, existing []metadata.Signed[metadata.Identity]) (bool, error) {
	longer, shorter := candidate, existing
	if len(existing) > len(candidate) {
		longer, shorter = existing, candidate
	}
	offset := len(longer) - len(shorter)
	for index := range shorter {
		longerHash, err := metadata.IdentityHash(longer[offset+index])
		if err != nil {
			return false, err
		}
		shorterHash, err := metadata.IdentityHash(shorter[index])
		if err != nil {
			return false, err
		}
		if longerHash != shorterHash {
			return false, fault.Integrity("chains diverge %d revisions from the root", len(shorter)-index)
		}
	}
	return len(candidate) > len(existing), nil
}

// PutIdentityChain verifies and stores an identity chain, making its
// keys available to subsequent appends. New revisions ride in on
// whatever operation carries them; storing an older chain than the one
// held is a no-op.
func (l *Log) PutIdentityChain(ctx context.Context, chain []metadata.Signed[metadata.Identity]) (content.Hash, error) {
	stable, err := ensureIdentityChain(ctx, l.store, chain)
	if err != nil {
		return content.Hash{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.st != nil {
		held, ok := l.st.identities[stable]
		if newer, err := chainExtends(chain, held); err == nil && (!ok || newer) {
			l.st.identities[stable] = chain
			if err := l.st.resolveSigners(time.Time{}); err != nil {
				return content.Hash{}, err
			}
		}
	}
	return stable, nil
}

// storeFault wraps store errors for the operation layer: missing
// objects mean a broken chain, anything else is transport. Errors that
// already carry a category pass through.
func storeFault(err error, action string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return fault.Integrity("%s: %w", action, err)
	}
	if _, categorized := fault.CategoryOf(err); categorized {
		return fmt.Errorf("%s: %w", action, err)
	}
	return fault.Transport("%s: %w", action, err)
}
