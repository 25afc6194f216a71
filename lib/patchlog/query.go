// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package patchlog

import (
	"context"
	"iter"
	"time"

	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/metadata"
)

// DropID returns the drop's stable id: the hash of the genesis policy
// envelope.
func (l *Log) DropID() content.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st.dropID
}

// Policy returns the policy in effect at the tip.
func (l *Log) Policy() metadata.Signed[metadata.Drop] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st.policy
}

// PolicyChain returns every policy revision, head first. Bundles pack
// it as the proof that each record was authorized by the policy of its
// day.
func (l *Log) PolicyChain() []metadata.Signed[metadata.Drop] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]metadata.Signed[metadata.Drop](nil), l.st.policyChain...)
}

// Length returns the number of records in the log.
func (l *Log) Length() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st.length
}

// Head returns the newest record.
func (l *Log) Head() (*LoggedRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.st.order) == 0 {
		return nil, false
	}
	return l.st.records[l.st.order[len(l.st.order)-1]], true
}

// Get returns a record by id.
func (l *Log) Get(id content.Hash) (*LoggedRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	logged, ok := l.st.records[id]
	return logged, ok
}

// Has reports whether the log holds a record.
func (l *Log) Has(id content.Hash) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.st.records[id]
	return ok
}

// Records returns every record in log order.
func (l *Log) Records() []*LoggedRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	records := make([]*LoggedRecord, len(l.st.order))
	for index, id := range l.st.order {
		records[index] = l.st.records[id]
	}
	return records
}

// RecordIDs returns the id set of the log in log order. Sync diffs
// exchange these.
func (l *Log) RecordIDs() []content.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]content.Hash(nil), l.st.order...)
}

// Topics returns the log's topics in order of first appearance, as a
// lazy sequence: each step materializes one summary, and ranging the
// sequence again restarts against the then-current log state. The
// caller can stop early without paying for the rest.
func (l *Log) Topics() iter.Seq[TopicInfo] {
	return func(yield func(TopicInfo) bool) {
		l.mu.RLock()
		order := append([]Topic(nil), l.st.topicOrder...)
		l.mu.RUnlock()
		for _, topic := range order {
			info, ok := l.Topic(topic)
			if !ok {
				continue
			}
			if !yield(info) {
				return
			}
		}
	}
}

// TopicCount returns the number of topics in the log.
func (l *Log) TopicCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.st.topicOrder)
}

// Topic returns one topic's summary.
func (l *Log) Topic(topic Topic) (TopicInfo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ts, ok := l.st.topics[topic]
	if !ok {
		return TopicInfo{}, false
	}
	info := ts.info
	info.Roots = append([]content.Hash(nil), info.Roots...)
	return info, true
}

// Thread returns a topic's records in reading order: depth first from
// each root, siblings by timestamp and then record id. The order
// depends only on record content, so every replica renders the same
// thread.
func (l *Log) Thread(topic Topic) ([]*LoggedRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ts, ok := l.st.topics[topic]
	if !ok {
		return nil, false
	}
	lookup := func(id content.Hash) *LoggedRecord { return l.st.records[id] }
	return orderThread(ts.info.Roots, lookup, l.st.children), true
}

// Replies returns the direct replies to a record, in the same sibling
// order Thread uses.
func (l *Log) Replies(id content.Hash) []*LoggedRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	children := l.st.children[id]
	if len(children) == 0 {
		return nil
	}
	lookup := func(id content.Hash) *LoggedRecord { return l.st.records[id] }
	return orderThread(children, lookup, map[content.Hash][]content.Hash{})
}

// Identities returns the held identity chains by stable id.
func (l *Log) Identities() map[content.Hash][]metadata.Signed[metadata.Identity] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	identities := make(map[content.Hash][]metadata.Signed[metadata.Identity], len(l.st.identities))
	for id, chain := range l.st.identities {
		identities[id] = chain
	}
	return identities
}

// IdentityChain returns one identity's chain, head first.
func (l *Log) IdentityChain(id content.Hash) ([]metadata.Signed[metadata.Identity], bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	chain, ok := l.st.identities[id]
	return chain, ok
}

// ResolvedSigners resolves the held identities against the given
// clock, for callers that verify documents outside the log.
func (l *Log) ResolvedSigners(now time.Time) (*metadata.Signers, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return metadata.ResolveSigners(l.st.identities, now)
}

// LatestSnapshot returns the newest snapshot record, if any. Sync
// starts here and walks backwards only as far as it must.
func (l *Log) LatestSnapshot() (*LoggedRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ts, ok := l.st.topics[SnapshotTopic()]
	if !ok {
		return nil, false
	}
	var newest *LoggedRecord
	for _, id := range l.st.order {
		logged := l.st.records[id]
		if logged.Topic == ts.info.Topic && logged.Record.Message.Kind == KindSnapshot {
			newest = logged
		}
	}
	if newest == nil {
		return nil, false
	}
	return newest, true
}

// BranchTip returns the tip asserted by the newest merge point for a
// branch, if any.
func (l *Log) BranchTip(branch string) (MergePoint, *LoggedRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	topic := BranchTopic(branch)
	if _, ok := l.st.topics[topic]; !ok {
		return MergePoint{}, nil, false
	}
	var newest *LoggedRecord
	for _, id := range l.st.order {
		logged := l.st.records[id]
		if logged.Topic == topic && logged.Record.Message.Kind == KindMergePoint {
			newest = logged
		}
	}
	if newest == nil {
		return MergePoint{}, nil, false
	}
	body, err := newest.Record.Message.DecodeMergePoint()
	if err != nil {
		return MergePoint{}, nil, false
	}
	return body, newest, true
}

// Refresh picks up appends made by other processes sharing the store.
func (l *Log) Refresh(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshLocked(ctx)
}
