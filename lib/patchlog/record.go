// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package patchlog

import (
	"context"
	"fmt"
	"strings"

	"github.com/deaddrop-io/deaddrop/lib/codec"
	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/metadata"
	"github.com/deaddrop-io/deaddrop/lib/sign"
	"github.com/deaddrop-io/deaddrop/lib/store"
)

// MessageKind tags a record's payload.
type MessageKind string

const (
	// KindComment is a plain discussion message, also used as the
	// cover note of a patch submission.
	KindComment MessageKind = "comment"

	// KindCodeComment is a review comment anchored to a file and line
	// range.
	KindCodeComment MessageKind = "code-comment"

	// KindPolicy carries a signed revision of the drop's policy
	// document. The genesis record of every log is a policy record,
	// which is how a drop bootstraps itself.
	KindPolicy MessageKind = "policy"

	// KindMergePoint asserts that a branch ref moved to a given tip.
	KindMergePoint MessageKind = "merge-point"

	// KindSnapshot summarizes the log state so replicas can sync
	// without walking all of history.
	KindSnapshot MessageKind = "snapshot"
)

func (k MessageKind) valid() bool {
	switch k {
	case KindComment, KindCodeComment, KindPolicy, KindMergePoint, KindSnapshot:
		return true
	}
	return false
}

// Message is a record's tagged payload: a kind and the canonical
// encoding of the kind's body. The body stays in raw form so the
// record's content hash is stable no matter how many times it is
// decoded and re-stored.
type Message struct {
	Kind MessageKind      `json:"kind"`
	Body codec.RawMessage `json:"body"`
}

// Tip is one ref pointer: a name and the object it pointed at.
type Tip struct {
	Ref    string       `json:"ref"`
	Target content.Hash `json:"target"`
}

// PatchInfo attaches a patch payload to a record: the content hash of
// the packed objects and the branch tips the patch was built against.
type PatchInfo struct {
	ID   content.Hash `json:"id"`
	Tips []Tip        `json:"tips,omitempty"`
}

// Header is the fixed part of every record. ID is the content hash of
// the remaining header fields plus the message, so two records with
// identical content are the same record everywhere. Signatures are
// outside the hash: co-signers can countersign a sealed record without
// changing its identity.
type Header struct {
	ID        content.Hash  `json:"id"`
	Author    content.Hash  `json:"author"`
	Timestamp int64         `json:"timestamp"`
	Patch     *PatchInfo    `json:"patch,omitempty"`
	InReplyTo *content.Hash `json:"in_reply_to,omitempty"`
}

// Record is one immutable log entry: header, tagged payload, and the
// signatures over the record id. Author is the stable id of the
// signing identity; Timestamp is the author's clock in Unix seconds
// and breaks ordering ties, nothing more.
type Record struct {
	Header     Header                        `json:"header"`
	Message    Message                       `json:"message"`
	Signatures map[sign.KeyID]sign.Signature `json:"signatures"`
}

// Comment is the body of a KindComment message.
type Comment struct {
	Text string `json:"text"`
}

// CodeComment is the body of a KindCodeComment message. ToLine zero
// means the comment is anchored to a single line.
type CodeComment struct {
	Path     string `json:"path"`
	FromLine int    `json:"from_line"`
	ToLine   int    `json:"to_line,omitempty"`
	Text     string `json:"text"`
}

// MergePoint is the body of a KindMergePoint message.
type MergePoint struct {
	Branch string       `json:"branch"`
	Tip    content.Hash `json:"tip"`
	Text   string       `json:"text,omitempty"`
}

// Snapshot is the body of a KindSnapshot message. Covers is the id of
// the newest record the snapshot accounts for; Refs are the branch
// tips at that point.
type Snapshot struct {
	Covers content.Hash            `json:"covers"`
	Refs   map[string]content.Hash `json:"refs,omitempty"`
	Text   string                  `json:"text,omitempty"`
}

// NewRecord builds an unsealed record with the given payload. Callers
// set Header.InReplyTo and Header.Patch before sealing.
func NewRecord(author content.Hash, timestamp int64, kind MessageKind, body any) (Record, error) {
	encoded, err := codec.Marshal(body)
	if err != nil {
		return Record{}, fmt.Errorf("encoding %s body: %w", kind, err)
	}
	return Record{
		Header:  Header{Author: author, Timestamp: timestamp},
		Message: Message{Kind: kind, Body: encoded},
	}, nil
}

// NewComment builds an unsealed comment record.
func NewComment(author content.Hash, timestamp int64, text string) (Record, error) {
	return NewRecord(author, timestamp, KindComment, Comment{Text: text})
}

// NewCodeComment builds an unsealed code comment record.
func NewCodeComment(author content.Hash, timestamp int64, body CodeComment) (Record, error) {
	return NewRecord(author, timestamp, KindCodeComment, body)
}

// NewPolicyRecord builds an unsealed policy record wrapping a signed
// policy revision.
func NewPolicyRecord(author content.Hash, timestamp int64, policy metadata.Signed[metadata.Drop]) (Record, error) {
	return NewRecord(author, timestamp, KindPolicy, policy)
}

// NewMergePoint builds an unsealed merge point record.
func NewMergePoint(author content.Hash, timestamp int64, body MergePoint) (Record, error) {
	return NewRecord(author, timestamp, KindMergePoint, body)
}

// NewSnapshot builds an unsealed snapshot record.
func NewSnapshot(author content.Hash, timestamp int64, body Snapshot) (Record, error) {
	return NewRecord(author, timestamp, KindSnapshot, body)
}

// recordDigest is the exact byte layout the record id hashes over:
// every header field except the id itself, plus the message.
type recordDigest struct {
	Author    content.Hash  `json:"author"`
	Timestamp int64         `json:"timestamp"`
	Patch     *PatchInfo    `json:"patch,omitempty"`
	InReplyTo *content.Hash `json:"in_reply_to,omitempty"`
	Message   Message       `json:"message"`
}

// ComputeID returns the record's content hash.
func (r Record) ComputeID() (content.Hash, error) {
	encoded, err := codec.Marshal(recordDigest{
		Author:    r.Header.Author,
		Timestamp: r.Header.Timestamp,
		Patch:     r.Header.Patch,
		InReplyTo: r.Header.InReplyTo,
		Message:   r.Message,
	})
	if err != nil {
		return content.Hash{}, fmt.Errorf("encoding record digest: %w", err)
	}
	return content.HashRecord(encoded), nil
}

// CheckID recomputes the record's content hash and compares it against
// the header.
func (r Record) CheckID() error {
	id, err := r.ComputeID()
	if err != nil {
		return err
	}
	if id != r.Header.ID {
		return fmt.Errorf("record id %s does not match content hash %s", r.Header.ID.Short(), id.Short())
	}
	return nil
}

// Seal fixes the record's id and adds signatures over it. Sealing an
// already sealed record verifies the id instead of replacing it, so
// additional identities can countersign the same record to meet a role
// threshold.
func (r *Record) Seal(ctx context.Context, signers ...sign.Signer) error {
	id, err := r.ComputeID()
	if err != nil {
		return err
	}
	if !r.Header.ID.IsZero() && r.Header.ID != id {
		return fmt.Errorf("sealed record id %s does not match content hash %s", r.Header.ID.Short(), id.Short())
	}
	r.Header.ID = id

	if r.Signatures == nil {
		r.Signatures = make(map[sign.KeyID]sign.Signature, len(signers))
	}
	for _, signer := range signers {
		signature, err := signer.Sign(ctx, id[:])
		if err != nil {
			return fmt.Errorf("signing record: %w", err)
		}
		r.Signatures[signer.Public().ID()] = signature
	}
	return nil
}

// Validate checks the record's structural invariants: everything that
// can be decided without the log or the clock.
func (r Record) Validate() error {
	if r.Header.ID.IsZero() {
		return fmt.Errorf("record is not sealed")
	}
	if r.Header.Author.IsZero() {
		return fmt.Errorf("record has no author")
	}
	if r.Header.Timestamp <= 0 {
		return fmt.Errorf("record timestamp %d is not positive", r.Header.Timestamp)
	}
	if r.Header.InReplyTo != nil && r.Header.InReplyTo.IsZero() {
		return fmt.Errorf("record replies to the zero id")
	}
	if len(r.Signatures) == 0 {
		return fmt.Errorf("record has no signatures")
	}
	if !r.Message.Kind.valid() {
		return fmt.Errorf("unknown message kind %q", r.Message.Kind)
	}
	if len(r.Message.Body) == 0 {
		return fmt.Errorf("message has no body")
	}
	if r.Header.Patch != nil {
		if err := r.Header.Patch.validate(); err != nil {
			return fmt.Errorf("patch info: %w", err)
		}
	}
	return r.validateBody()
}

func (p PatchInfo) validate() error {
	if p.ID.IsZero() {
		return fmt.Errorf("zero payload id")
	}
	seen := make(map[string]bool, len(p.Tips))
	for _, tip := range p.Tips {
		if err := store.ValidateRefName(tip.Ref); err != nil {
			return fmt.Errorf("tip ref: %w", err)
		}
		if seen[tip.Ref] {
			return fmt.Errorf("tip ref %q listed twice", tip.Ref)
		}
		seen[tip.Ref] = true
		if tip.Target.IsZero() {
			return fmt.Errorf("tip %q has a zero target", tip.Ref)
		}
	}
	return nil
}

func (r Record) validateBody() error {
	switch r.Message.Kind {
	case KindComment:
		body, err := r.Message.DecodeComment()
		if err != nil {
			return err
		}
		if strings.TrimSpace(body.Text) == "" {
			return fmt.Errorf("comment has no text")
		}
	case KindCodeComment:
		body, err := r.Message.DecodeCodeComment()
		if err != nil {
			return err
		}
		switch {
		case body.Path == "":
			return fmt.Errorf("code comment has no path")
		case body.FromLine < 1:
			return fmt.Errorf("code comment from_line %d below 1", body.FromLine)
		case body.ToLine != 0 && body.ToLine < body.FromLine:
			return fmt.Errorf("code comment range %d..%d is inverted", body.FromLine, body.ToLine)
		case strings.TrimSpace(body.Text) == "":
			return fmt.Errorf("code comment has no text")
		}
	case KindPolicy:
		body, err := r.Message.DecodePolicy()
		if err != nil {
			return err
		}
		if err := body.Document.Validate(); err != nil {
			return fmt.Errorf("policy document: %w", err)
		}
		if len(body.Signatures) == 0 {
			return fmt.Errorf("policy envelope has no signatures")
		}
	case KindMergePoint:
		body, err := r.Message.DecodeMergePoint()
		if err != nil {
			return err
		}
		if err := metadata.ValidateBranchName(body.Branch); err != nil {
			return err
		}
		if body.Tip.IsZero() {
			return fmt.Errorf("merge point has a zero tip")
		}
	case KindSnapshot:
		body, err := r.Message.DecodeSnapshot()
		if err != nil {
			return err
		}
		if body.Covers.IsZero() {
			return fmt.Errorf("snapshot covers nothing")
		}
		for ref, target := range body.Refs {
			if err := store.ValidateRefName(ref); err != nil {
				return fmt.Errorf("snapshot ref: %w", err)
			}
			if target.IsZero() {
				return fmt.Errorf("snapshot ref %q has a zero target", ref)
			}
		}
	}
	return nil
}

func decodeBody[T any](m Message, kind MessageKind) (T, error) {
	var body T
	if m.Kind != kind {
		return body, fmt.Errorf("message is %q, not %q", m.Kind, kind)
	}
	if len(m.Body) == 0 {
		return body, fmt.Errorf("message has no body")
	}
	if err := codec.Unmarshal(m.Body, &body); err != nil {
		return body, fmt.Errorf("decoding %s body: %w", kind, err)
	}
	return body, nil
}

// DecodeComment decodes a KindComment body.
func (m Message) DecodeComment() (Comment, error) {
	return decodeBody[Comment](m, KindComment)
}

// DecodeCodeComment decodes a KindCodeComment body.
func (m Message) DecodeCodeComment() (CodeComment, error) {
	return decodeBody[CodeComment](m, KindCodeComment)
}

// DecodePolicy decodes a KindPolicy body.
func (m Message) DecodePolicy() (metadata.Signed[metadata.Drop], error) {
	return decodeBody[metadata.Signed[metadata.Drop]](m, KindPolicy)
}

// DecodeMergePoint decodes a KindMergePoint body.
func (m Message) DecodeMergePoint() (MergePoint, error) {
	return decodeBody[MergePoint](m, KindMergePoint)
}

// DecodeSnapshot decodes a KindSnapshot body.
func (m Message) DecodeSnapshot() (Snapshot, error) {
	return decodeBody[Snapshot](m, KindSnapshot)
}

// MaxSubjectRunes is where Subject cuts off.
const MaxSubjectRunes = 72

// Subject derives a one-line summary from the record's payload: the
// first line of its text, cut at MaxSubjectRunes.
func (r Record) Subject() string {
	var text string
	switch r.Message.Kind {
	case KindComment:
		if body, err := r.Message.DecodeComment(); err == nil {
			text = body.Text
		}
	case KindCodeComment:
		if body, err := r.Message.DecodeCodeComment(); err == nil {
			text = body.Text
		}
	case KindPolicy:
		text = "policy update"
		if body, err := r.Message.DecodePolicy(); err == nil && body.Document.Description != "" {
			text = body.Document.Description
		}
	case KindMergePoint:
		if body, err := r.Message.DecodeMergePoint(); err == nil {
			text = body.Text
			if text == "" {
				text = "merge " + body.Branch
			}
		}
	case KindSnapshot:
		text = "snapshot"
		if body, err := r.Message.DecodeSnapshot(); err == nil && body.Text != "" {
			text = body.Text
		}
	}
	if cut := strings.IndexByte(text, '\n'); cut >= 0 {
		text = text[:cut]
	}
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) > MaxSubjectRunes {
		text = string(runes[:MaxSubjectRunes])
	}
	return text
}
