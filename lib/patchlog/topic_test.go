// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package patchlog

import (
	"context"
	"testing"

	"github.com/deaddrop-io/deaddrop/lib/content"
)

func TestTopicDerivation(t *testing.T) {
	root := content.HashTopic([]byte("some record id"))

	if ThreadTopic(root) != ThreadTopic(root) {
		t.Error("ThreadTopic is not deterministic")
	}
	if ThreadTopic(root) == Topic(root) {
		t.Error("a thread topic equals its root id; domains must differ")
	}
	if BranchTopic("main") == BranchTopic("maintenance") {
		t.Error("distinct branches share a topic")
	}
	if BranchTopic("main") != BranchTopic("main") {
		t.Error("BranchTopic is not deterministic")
	}

	wellKnown := map[string]Topic{
		"snapshots":   SnapshotTopic(),
		"policy":      PolicyTopic(),
		"branch main": BranchTopic("main"),
	}
	seen := make(map[Topic]string, len(wellKnown))
	for name, topic := range wellKnown {
		if other, dup := seen[topic]; dup {
			t.Errorf("topics %q and %q collide", name, other)
		}
		seen[topic] = name
	}
}

// threadFixture builds a reply tree directly, bypassing the log:
//
//	root ── a(ts 30) ── a1(ts 10)
//	     └─ b(ts 20) ── b1(ts 40)
//	     └─ c(ts 20)
//
// b and c share a timestamp, so their order falls back to record ids.
func threadFixture(t *testing.T) (roots []content.Hash, lookup func(content.Hash) *LoggedRecord, children map[content.Hash][]content.Hash, byName map[string]content.Hash) {
	t.Helper()
	signer := newTestSigner(t)
	author := content.HashTopic([]byte("author"))
	records := make(map[content.Hash]*LoggedRecord)
	children = make(map[content.Hash][]content.Hash)
	byName = make(map[string]content.Hash)

	add := func(name string, timestamp int64, parent *content.Hash) content.Hash {
		record, err := NewComment(author, timestamp, name)
		if err != nil {
			t.Fatalf("NewComment: %v", err)
		}
		record.Header.InReplyTo = parent
		if err := record.Seal(context.Background(), signer); err != nil {
			t.Fatalf("Seal: %v", err)
		}
		id := record.Header.ID
		records[id] = &LoggedRecord{Record: &record}
		if parent != nil {
			children[*parent] = append(children[*parent], id)
		}
		byName[name] = id
		return id
	}

	root := add("root", 1, nil)
	a := add("a", 30, &root)
	add("a1", 10, &a)
	b := add("b", 20, &root)
	add("b1", 40, &b)
	add("c", 20, &root)

	lookup = func(id content.Hash) *LoggedRecord { return records[id] }
	return []content.Hash{root}, lookup, children, byName
}

func TestOrderThreadDepthFirst(t *testing.T) {
	roots, lookup, children, byName := threadFixture(t)

	ordered := orderThread(roots, lookup, children)
	if len(ordered) != 6 {
		t.Fatalf("ordered %d records, want 6", len(ordered))
	}

	names := make([]string, len(ordered))
	for index, logged := range ordered {
		body, err := logged.Record.Message.DecodeComment()
		if err != nil {
			t.Fatalf("decoding comment: %v", err)
		}
		names[index] = body.Text
	}

	// root first; b and c (ts 20) before a (ts 30); replies directly
	// under their parents.
	if names[0] != "root" {
		t.Errorf("walk starts at %q, want root", names[0])
	}
	position := make(map[string]int, len(names))
	for index, name := range names {
		position[name] = index
	}
	if position["b1"] != position["b"]+1 {
		t.Errorf("b1 not directly under b: %v", names)
	}
	if position["a1"] != position["a"]+1 {
		t.Errorf("a1 not directly under a: %v", names)
	}
	if position["a"] < position["b"] || position["a"] < position["c"] {
		t.Errorf("a (ts 30) ordered before its older siblings: %v", names)
	}

	// b and c tie on timestamp; the id decides, consistently.
	wantBFirst := byName["b"].String() < byName["c"].String()
	gotBFirst := position["b"] < position["c"]
	if wantBFirst != gotBFirst {
		t.Errorf("tie between b and c not broken by record id: %v", names)
	}

	again := orderThread(roots, lookup, children)
	for index := range again {
		if again[index] != ordered[index] {
			t.Fatal("orderThread is not deterministic")
		}
	}
}
