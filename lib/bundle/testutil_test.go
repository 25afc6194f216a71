// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/metadata"
	"github.com/deaddrop-io/deaddrop/lib/patchlog"
	"github.com/deaddrop-io/deaddrop/lib/sign"
	"github.com/deaddrop-io/deaddrop/lib/store"
)

const testTimestamp = int64(1767225600)

// bundleNow is the fixed instant acceptance checks evaluate against.
var bundleNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

type testIdentity struct {
	signer *sign.KeySigner
	chain  []metadata.Signed[metadata.Identity]
	id     content.Hash
}

func newBundleIdentity(t *testing.T) testIdentity {
	t.Helper()
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	signer, err := sign.NewSignerFromKey(privateKey)
	if err != nil {
		t.Fatalf("wrapping key: %v", err)
	}
	document := metadata.NewIdentity([]sign.VerificationKey{signer.Public()}, 1)
	envelope := metadata.Signed[metadata.Identity]{Document: document}
	if err := envelope.Sign(context.Background(), signer); err != nil {
		t.Fatalf("signing identity: %v", err)
	}
	id, err := metadata.IdentityChainID([]metadata.Signed[metadata.Identity]{envelope})
	if err != nil {
		t.Fatalf("verifying identity: %v", err)
	}
	return testIdentity{signer: signer, chain: []metadata.Signed[metadata.Identity]{envelope}, id: id}
}

// testDrop is one replica of a drop: a store, a log over it, and the
// founding identity. The genesis record is kept so further replicas of
// the same drop can be spun up.
type testDrop struct {
	store   *store.MemStore
	log     *patchlog.Log
	founder testIdentity
	genesis patchlog.Record
	clock   int64
}

func (d *testDrop) nextTimestamp() int64 {
	d.clock++
	return d.clock
}

func initTestDrop(t *testing.T) *testDrop {
	t.Helper()
	founder := newBundleIdentity(t)
	drop := &testDrop{store: store.NewMemStore(), founder: founder, clock: testTimestamp}

	policy := metadata.NewDrop("bundle test drop", founder.id, "main")
	envelope := metadata.Signed[metadata.Drop]{Document: policy}
	if err := envelope.Sign(context.Background(), founder.signer); err != nil {
		t.Fatalf("signing genesis policy: %v", err)
	}
	genesis, err := patchlog.NewPolicyRecord(founder.id, drop.nextTimestamp(), envelope)
	if err != nil {
		t.Fatalf("NewPolicyRecord: %v", err)
	}
	if err := genesis.Seal(context.Background(), founder.signer); err != nil {
		t.Fatalf("sealing genesis: %v", err)
	}

	log, err := patchlog.Init(context.Background(), drop.store, genesis, bundleNow, founder.chain)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	drop.log = log
	drop.genesis = genesis
	return drop
}

// replica spins up a fresh empty replica of the same drop: same
// genesis, nothing else.
func (d *testDrop) replica(t *testing.T) *testDrop {
	t.Helper()
	other := &testDrop{
		store:   store.NewMemStore(),
		founder: d.founder,
		genesis: d.genesis,
		clock:   d.clock,
	}
	log, err := patchlog.Init(context.Background(), other.store, d.genesis, bundleNow, d.founder.chain)
	if err != nil {
		t.Fatalf("initializing replica: %v", err)
	}
	other.log = log
	return other
}

func (d *testDrop) comment(t *testing.T, author testIdentity, parent *content.Hash, text string) content.Hash {
	t.Helper()
	record, err := patchlog.NewComment(author.id, d.nextTimestamp(), text)
	if err != nil {
		t.Fatalf("NewComment: %v", err)
	}
	record.Header.InReplyTo = parent
	if err := record.Seal(context.Background(), author.signer); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	id, err := d.log.Append(context.Background(), record, bundleNow)
	if err != nil {
		t.Fatalf("appending comment %q: %v", text, err)
	}
	return id
}

// patch appends a comment carrying a payload object, storing the
// payload first.
func (d *testDrop) patch(t *testing.T, author testIdentity, text string, payload []byte) content.Hash {
	t.Helper()
	if _, err := d.store.Put(context.Background(), payload); err != nil {
		t.Fatalf("storing payload: %v", err)
	}
	record, err := patchlog.NewComment(author.id, d.nextTimestamp(), text)
	if err != nil {
		t.Fatalf("NewComment: %v", err)
	}
	record.Header.Patch = &patchlog.PatchInfo{
		ID:   content.HashObject(payload),
		Tips: []patchlog.Tip{{Ref: "main", Target: content.HashTopic(payload)}},
	}
	if err := record.Seal(context.Background(), author.signer); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	id, err := d.log.Append(context.Background(), record, bundleNow)
	if err != nil {
		t.Fatalf("appending patch %q: %v", text, err)
	}
	return id
}

func clonePolicy(document metadata.Drop) metadata.Drop {
	cloneRole := func(role metadata.Role) metadata.Role {
		role.IDs = append([]content.Hash(nil), role.IDs...)
		return role
	}
	document.Roles.Drop = cloneRole(document.Roles.Drop)
	document.Roles.Snapshot = cloneRole(document.Roles.Snapshot)
	document.Roles.Mirrors = cloneRole(document.Roles.Mirrors)
	branches := make(map[string]metadata.BranchPolicy, len(document.Roles.Branches))
	for name, branch := range document.Roles.Branches {
		branch.Role = cloneRole(branch.Role)
		branches[name] = branch
	}
	document.Roles.Branches = branches
	return document
}

func (d *testDrop) amendPolicy(t *testing.T, author testIdentity, update func(*metadata.Drop)) content.Hash {
	t.Helper()
	head := d.log.Policy()
	document := clonePolicy(head.Document)
	update(&document)
	next, err := metadata.NextDropRevision(head, document)
	if err != nil {
		t.Fatalf("NextDropRevision: %v", err)
	}
	envelope := metadata.Signed[metadata.Drop]{Document: next}
	if err := envelope.Sign(context.Background(), author.signer); err != nil {
		t.Fatalf("signing policy: %v", err)
	}
	record, err := patchlog.NewPolicyRecord(author.id, d.nextTimestamp(), envelope)
	if err != nil {
		t.Fatalf("NewPolicyRecord: %v", err)
	}
	if err := record.Seal(context.Background(), author.signer); err != nil {
		t.Fatalf("sealing policy record: %v", err)
	}
	id, err := d.log.Append(context.Background(), record, bundleNow)
	if err != nil {
		t.Fatalf("appending policy record: %v", err)
	}
	return id
}

func (d *testDrop) mergePoint(t *testing.T, author testIdentity, branch string, tip content.Hash) content.Hash {
	t.Helper()
	record, err := patchlog.NewMergePoint(author.id, d.nextTimestamp(), patchlog.MergePoint{
		Branch: branch, Tip: tip,
	})
	if err != nil {
		t.Fatalf("NewMergePoint: %v", err)
	}
	if err := record.Seal(context.Background(), author.signer); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	id, err := d.log.Append(context.Background(), record, bundleNow)
	if err != nil {
		t.Fatalf("appending merge point: %v", err)
	}
	return id
}

func (d *testDrop) snapshot(t *testing.T, author testIdentity, covers content.Hash) content.Hash {
	t.Helper()
	record, err := patchlog.NewSnapshot(author.id, d.nextTimestamp(), patchlog.Snapshot{
		Covers: covers,
	})
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	if err := record.Seal(context.Background(), author.signer); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	id, err := d.log.Append(context.Background(), record, bundleNow)
	if err != nil {
		t.Fatalf("appending snapshot: %v", err)
	}
	return id
}
