// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package patchlog

import (
	"bytes"
	"sort"

	"github.com/deaddrop-io/deaddrop/lib/content"
)

// Topic identifies a reply tree within a drop's log. Topics are never
// stored: a record's topic is computed from its content, so every
// replica files every record under the same topic without
// coordination.
type Topic = content.Hash

// ThreadTopic is the topic of a thread rooted at the given record: a
// topic-domain hash of the root's id. Replies inherit it through
// in_reply_to.
func ThreadTopic(root content.Hash) Topic {
	return content.HashTopic(root[:])
}

// BranchTopic is the well-known topic collecting merge points for a
// branch. It depends only on the branch name, so a replica can look
// for merge points before it has seen any.
func BranchTopic(branch string) Topic {
	seed := make([]byte, 0, len("branch")+1+len(branch))
	seed = append(seed, "branch"...)
	seed = append(seed, 0)
	seed = append(seed, branch...)
	return content.HashTopic(seed)
}

// SnapshotTopic is the well-known topic collecting snapshot records.
func SnapshotTopic() Topic {
	return content.HashTopic([]byte("snapshots"))
}

// PolicyTopic is the well-known topic collecting policy records.
func PolicyTopic() Topic {
	return content.HashTopic([]byte("policy"))
}

// TopicInfo summarizes one topic for listings.
type TopicInfo struct {
	// Topic is the computed topic id.
	Topic Topic

	// Subject is derived from the first root record.
	Subject string

	// Roots are the record ids with no parent inside the topic. Thread
	// topics have exactly one; well-known topics can grow several when
	// replicas start them independently and later merge.
	Roots []content.Hash

	// Records is the number of records filed under the topic.
	Records int

	// FirstIndex is the log index where the topic first appeared,
	// which is the order topics are listed in.
	FirstIndex uint64
}

// orderThread returns the records of one topic in reading order: a
// depth-first walk from each root, children visited before later
// siblings, siblings ordered by timestamp and then by record id. The
// order is total and identical on every replica because it depends
// only on record content.
func orderThread(roots []content.Hash, lookup func(content.Hash) *LoggedRecord, children map[content.Hash][]content.Hash) []*LoggedRecord {
	sortSiblings := func(ids []content.Hash) []content.Hash {
		sorted := append([]content.Hash(nil), ids...)
		sort.SliceStable(sorted, func(i, j int) bool {
			first, second := lookup(sorted[i]), lookup(sorted[j])
			if first.Record.Header.Timestamp != second.Record.Header.Timestamp {
				return first.Record.Header.Timestamp < second.Record.Header.Timestamp
			}
			return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
		})
		return sorted
	}

	var ordered []*LoggedRecord
	var walk func(id content.Hash)
	walk = func(id content.Hash) {
		ordered = append(ordered, lookup(id))
		for _, child := range sortSiblings(children[id]) {
			walk(child)
		}
	}
	for _, root := range sortSiblings(roots) {
		walk(root)
	}
	return ordered
}
