// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package patchlog

import (
	"fmt"
	"time"

	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/fault"
	"github.com/deaddrop-io/deaddrop/lib/metadata"
	"github.com/deaddrop-io/deaddrop/lib/sign"
)

// LoggedRecord is a record together with its position in this
// replica's log and its computed topic.
type LoggedRecord struct {
	Record *Record
	Index  uint64
	Topic  Topic
}

type topicState struct {
	info TopicInfo
}

// state is the memoized fold of the log: every record indexed by id,
// reply adjacency, topics in first-appearance order, and the policy in
// effect at the tip. The fold is deterministic, so two replicas that
// walked the same entries hold identical state.
type state struct {
	// headEntry is the object id of the newest log entry blob, the
	// expected value for the next head compare-and-swap.
	headEntry content.Hash

	length     uint64
	order      []content.Hash
	records    map[content.Hash]*LoggedRecord
	children   map[content.Hash][]content.Hash
	topics     map[Topic]*topicState
	topicOrder []Topic

	// dropID is the drop-domain hash of the genesis policy envelope,
	// the drop's stable id.
	dropID content.Hash

	policy      metadata.Signed[metadata.Drop]
	policyHash  content.Hash
	policyChain []metadata.Signed[metadata.Drop]

	identities map[content.Hash][]metadata.Signed[metadata.Identity]
	signers    *metadata.Signers
}

func newState() *state {
	return &state{
		records:    make(map[content.Hash]*LoggedRecord),
		children:   make(map[content.Hash][]content.Hash),
		topics:     make(map[Topic]*topicState),
		identities: make(map[content.Hash][]metadata.Signed[metadata.Identity]),
	}
}

// resolveSigners rebuilds the signer view from the held identity
// chains. Replay verification is clock-independent, so the fold
// resolves once; acceptance of new writes resolves again with the
// caller's clock to pick up expiries.
func (s *state) resolveSigners(now time.Time) error {
	signers, err := metadata.ResolveSigners(s.identities, now)
	if err != nil {
		return err
	}
	s.signers = signers
	return nil
}

// topicOf computes the record's topic. Merge points, snapshots and
// policy records go to their well-known topics; everything else roots
// a thread or inherits the parent's topic.
func (s *state) topicOf(record *Record) (Topic, error) {
	switch record.Message.Kind {
	case KindMergePoint:
		body, err := record.Message.DecodeMergePoint()
		if err != nil {
			return Topic{}, err
		}
		return BranchTopic(body.Branch), nil
	case KindSnapshot:
		return SnapshotTopic(), nil
	case KindPolicy:
		return PolicyTopic(), nil
	}
	if record.Header.InReplyTo == nil {
		return ThreadTopic(record.Header.ID), nil
	}
	parent, ok := s.records[*record.Header.InReplyTo]
	if !ok {
		return Topic{}, fmt.Errorf("parent %s not in log", record.Header.InReplyTo.Short())
	}
	return parent.Topic, nil
}

// check validates one record against the fold so far without changing
// it, returning the topic the record would be filed under. With
// acceptNew set the record is a fresh write: signatures must come from
// current keys of unexpired identities. Without it the record is
// replayed from an existing log position and verifies against chain
// keys, so rotations and expiries never invalidate history.
//
// The caller has already handled duplicates; check treats a known id
// as corruption.
func (s *state) check(record *Record, limits Limits, acceptNew bool, now time.Time) (Topic, error) {
	if err := record.Validate(); err != nil {
		return Topic{}, fault.Integrity("record: %w", err)
	}
	if err := record.CheckID(); err != nil {
		return Topic{}, fault.Integrity("%w", err)
	}
	if err := limits.CheckRecord(*record); err != nil {
		return Topic{}, fault.Integrity("record %s: %w", record.Header.ID.Short(), err)
	}

	id := record.Header.ID
	if _, dup := s.records[id]; dup {
		return Topic{}, fault.Integrity("record %s already in log", id.Short())
	}

	if record.Header.InReplyTo != nil {
		if _, ok := s.records[*record.Header.InReplyTo]; !ok {
			return Topic{}, fault.Integrity("record %s replies to unknown record %s",
				id.Short(), record.Header.InReplyTo.Short())
		}
	}

	topic, err := s.topicOf(record)
	if err != nil {
		return Topic{}, fault.Integrity("record %s: %w", id.Short(), err)
	}
	if record.Header.InReplyTo != nil {
		parent := s.records[*record.Header.InReplyTo]
		if parent.Topic != topic {
			return Topic{}, fault.Integrity("record %s replies across topics", id.Short())
		}
	}

	signers := s.signers
	if acceptNew {
		signers, err = metadata.ResolveSigners(s.identities, now)
		if err != nil {
			return Topic{}, fault.Integrity("resolving signers: %w", err)
		}
	}

	if err := s.authorize(record, signers, acceptNew); err != nil {
		return Topic{}, err
	}
	return topic, nil
}

// commit adds a checked record to the fold. Policy records advance the
// effective policy; check has already proved the revision extends it.
func (s *state) commit(record *Record, topic Topic) (*LoggedRecord, error) {
	id := record.Header.ID

	if record.Message.Kind == KindPolicy {
		envelope, err := record.Message.DecodePolicy()
		if err != nil {
			return nil, fault.Integrity("record %s: %w", id.Short(), err)
		}
		envelopeHash, err := metadata.DropHash(envelope)
		if err != nil {
			return nil, fault.Integrity("record %s: %w", id.Short(), err)
		}
		if s.length == 0 {
			s.dropID = envelopeHash
		}
		s.policy = envelope
		s.policyHash = envelopeHash
		s.policyChain = append([]metadata.Signed[metadata.Drop]{envelope}, s.policyChain...)
	}

	logged := &LoggedRecord{Record: record, Index: s.length, Topic: topic}
	s.records[id] = logged
	s.order = append(s.order, id)
	s.length++

	if record.Header.InReplyTo != nil {
		parent := *record.Header.InReplyTo
		s.children[parent] = append(s.children[parent], id)
	}

	ts, ok := s.topics[topic]
	if !ok {
		ts = &topicState{info: TopicInfo{
			Topic:      topic,
			Subject:    record.Subject(),
			FirstIndex: logged.Index,
		}}
		s.topics[topic] = ts
		s.topicOrder = append(s.topicOrder, topic)
	}
	if record.Header.InReplyTo == nil {
		ts.info.Roots = append(ts.info.Roots, id)
	}
	ts.info.Records++

	return logged, nil
}

// apply is check followed by commit, the path replay walks take.
func (s *state) apply(record *Record, limits Limits, acceptNew bool, now time.Time) (*LoggedRecord, error) {
	topic, err := s.check(record, limits, acceptNew, now)
	if err != nil {
		return nil, err
	}
	return s.commit(record, topic)
}

// clone copies the fold deeply enough that commits on the copy never
// reach the original. Identity chains and the resolved signer view are
// immutable and shared.
func (s *state) clone() *state {
	copied := &state{
		headEntry:   s.headEntry,
		length:      s.length,
		order:       append([]content.Hash(nil), s.order...),
		records:     make(map[content.Hash]*LoggedRecord, len(s.records)),
		children:    make(map[content.Hash][]content.Hash, len(s.children)),
		topics:      make(map[Topic]*topicState, len(s.topics)),
		topicOrder:  append([]Topic(nil), s.topicOrder...),
		dropID:      s.dropID,
		policy:      s.policy,
		policyHash:  s.policyHash,
		policyChain: append([]metadata.Signed[metadata.Drop](nil), s.policyChain...),
		identities:  s.identities,
		signers:     s.signers,
	}
	for id, logged := range s.records {
		copied.records[id] = logged
	}
	for parent, kids := range s.children {
		copied.children[parent] = append([]content.Hash(nil), kids...)
	}
	for topic, held := range s.topics {
		clone := *held
		clone.info.Roots = append([]content.Hash(nil), held.info.Roots...)
		copied.topics[topic] = &clone
	}
	return copied
}

// authorize checks the record's signatures against the policy in
// effect at this point of the fold.
func (s *state) authorize(record *Record, signers *metadata.Signers, acceptNew bool) error {
	id := record.Header.ID

	satisfies := signers.Satisfies
	submitter := signers.VerifySubmitter
	if acceptNew {
		satisfies = signers.SatisfiesCurrent
		submitter = signers.VerifySubmitterCurrent
	}

	// Attribution first: the named author must have signed the record,
	// whatever role the countersigners fill.
	if err := submitter(record.Header.Author, id[:], record.Signatures); err != nil {
		return fault.Authorization("record %s submitter: %w", id.Short(), err)
	}

	switch record.Message.Kind {
	case KindPolicy:
		return s.authorizePolicy(record, satisfies)

	case KindMergePoint:
		body, err := record.Message.DecodeMergePoint()
		if err != nil {
			return fault.Integrity("record %s: %w", id.Short(), err)
		}
		branch, ok := s.policy.Document.Roles.Branches[body.Branch]
		if !ok {
			return fault.Authorization("record %s: no policy for branch %q", id.Short(), body.Branch)
		}
		if err := satisfies(branch.Role, id[:], record.Signatures); err != nil {
			return fault.Authorization("record %s branch %q: %w", id.Short(), body.Branch, err)
		}

	case KindSnapshot:
		body, err := record.Message.DecodeSnapshot()
		if err != nil {
			return fault.Integrity("record %s: %w", id.Short(), err)
		}
		if _, ok := s.records[body.Covers]; !ok {
			return fault.Integrity("record %s: snapshot covers unknown record %s",
				id.Short(), body.Covers.Short())
		}
		if err := satisfies(s.policy.Document.Roles.Snapshot, id[:], record.Signatures); err != nil {
			return fault.Authorization("record %s snapshot role: %w", id.Short(), err)
		}

	default:
		if err := satisfies(s.policy.Document.Roles.Drop, id[:], record.Signatures); err != nil {
			return fault.Authorization("record %s drop role: %w", id.Short(), err)
		}
	}
	return nil
}

// satisfier is either Signers.Satisfies or Signers.SatisfiesCurrent,
// chosen by whether the record is replayed or freshly accepted.
type satisfier func(metadata.Role, []byte, map[sign.KeyID]sign.Signature) error

// authorizePolicy checks a policy record: the wrapped envelope must
// extend the current policy chain and satisfy both the outgoing and
// the incoming drop role, exactly as a handover of the drop itself.
// The genesis revision self-certifies under its own role.
func (s *state) authorizePolicy(record *Record, satisfies satisfier) error {
	id := record.Header.ID
	envelope, err := record.Message.DecodePolicy()
	if err != nil {
		return fault.Integrity("record %s: %w", id.Short(), err)
	}
	document := envelope.Document

	payload, err := envelope.Payload()
	if err != nil {
		return fault.Integrity("record %s: %w", id.Short(), err)
	}

	if s.length == 0 {
		if document.Prev != nil {
			return fault.Integrity("record %s: genesis policy links to a predecessor", id.Short())
		}
		if err := satisfies(document.Roles.Drop, payload, envelope.Signatures); err != nil {
			return fault.Authorization("record %s genesis policy: %w", id.Short(), err)
		}
		return nil
	}

	if document.Prev == nil || *document.Prev != s.policyHash {
		return fault.Conflict("record %s: policy revision does not extend the current policy %s",
			id.Short(), s.policyHash.Short())
	}
	if err := satisfies(s.policy.Document.Roles.Drop, payload, envelope.Signatures); err != nil {
		return fault.Authorization("record %s policy against outgoing role: %w", id.Short(), err)
	}
	if err := satisfies(document.Roles.Drop, payload, envelope.Signatures); err != nil {
		return fault.Authorization("record %s policy against incoming role: %w", id.Short(), err)
	}
	return nil
}
