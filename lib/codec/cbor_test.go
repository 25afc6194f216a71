// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
)

// sampleRecord is a representative signed-document shape using cbor
// struct tags (the convention for purely-internal types).
type sampleRecord struct {
	Topic   string `cbor:"topic"`
	ReplyTo string `cbor:"reply_to,omitempty"`
	Seq     int    `cbor:"seq"`
}

// sampleDualDocument uses json struct tags (the convention for types
// that serve both the HTTP surface and CBOR storage, relying on
// fxamacker's json-tag fallback).
type sampleDualDocument struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleRecord{
		Topic:   "merges",
		ReplyTo: "drop-a3f9b2c1e7d4",
		Seq:     42,
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	if len(data) == 0 {
		t.Fatal("Marshal produced empty output")
	}

	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	record := sampleRecord{
		Topic:   "snapshots",
		ReplyTo: "drop-00ff00ff00ff",
		Seq:     7,
	}

	first, err := Marshal(record)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}

	second, err := Marshal(record)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestMapKeyOrderIndependence(t *testing.T) {
	// Two maps with the same entries inserted in different orders
	// must encode identically. Signing payloads depend on this.
	a := map[string]int{"alpha": 1, "beta": 2, "gamma": 3}
	b := map[string]int{"gamma": 3, "alpha": 1, "beta": 2}

	encodedA, err := Marshal(a)
	if err != nil {
		t.Fatalf("Marshal a: %v", err)
	}
	encodedB, err := Marshal(b)
	if err != nil {
		t.Fatalf("Marshal b: %v", err)
	}

	if !bytes.Equal(encodedA, encodedB) {
		t.Errorf("map encoding depends on insertion order: %x != %x", encodedA, encodedB)
	}
}

func TestEncoderDecoderStreamRoundtrip(t *testing.T) {
	records := []sampleRecord{
		{Topic: "merges", ReplyTo: "drop-aa", Seq: 1},
		{Topic: "merges", ReplyTo: "drop-bb", Seq: 2},
		{Topic: "snapshots", Seq: 0},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range records {
		var got sampleRecord
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode record %d: %v", i, err)
		}
		if got != want {
			t.Errorf("record %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestJSONTagFallback(t *testing.T) {
	// Types with json tags (no cbor tags) should encode/decode
	// correctly through our modes, using json tag names as CBOR
	// map keys.
	original := sampleDualDocument{Version: 3, Name: "mirrors"}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleDualDocument
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded != original {
		t.Errorf("json-tag roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestOmitemptyRespected(t *testing.T) {
	// A zero-value omitempty field must not appear in the output:
	// a root record (no reply_to) and a reply record must hash
	// differently only because of the field's presence.
	reply := sampleRecord{Topic: "a", ReplyTo: "x", Seq: 1}
	root := sampleRecord{Topic: "a", Seq: 1}

	dataReply, err := Marshal(reply)
	if err != nil {
		t.Fatal(err)
	}
	dataRoot, err := Marshal(root)
	if err != nil {
		t.Fatal(err)
	}

	if len(dataRoot) >= len(dataReply) {
		t.Errorf("omitempty not effective: root=%d bytes, reply=%d bytes",
			len(dataRoot), len(dataReply))
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var record sampleRecord
	err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &record)
	if err == nil {
		t.Error("Unmarshal should reject invalid CBOR")
	}
}

func TestByteStringRoundtrip(t *testing.T) {
	// Verify that []byte fields encode as CBOR byte strings (major
	// type 2), not text strings. Signatures and packed objects ride
	// in byte-string fields.
	type envelope struct {
		Signature []byte `cbor:"signature"`
	}

	original := envelope{Signature: []byte{0x30, 0x45, 0x02, 0x21, 0x00}}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded envelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if !bytes.Equal(decoded.Signature, original.Signature) {
		t.Errorf("byte string roundtrip: got %x, want %x", decoded.Signature, original.Signature)
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(map[string]any{"topic": "merges"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	notation, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}

	if !strings.Contains(notation, `"topic"`) {
		t.Errorf("notation %q does not contain \"topic\"", notation)
	}
	if !strings.Contains(notation, `"merges"`) {
		t.Errorf("notation %q does not contain \"merges\"", notation)
	}
}

func BenchmarkMarshal(b *testing.B) {
	record := sampleRecord{
		Topic:   "merges",
		ReplyTo: "drop-a3f9b2c1e7d4",
		Seq:     42,
	}

	b.ReportAllocs()
	for b.Loop() {
		Marshal(record)
	}
}

func BenchmarkUnmarshal(b *testing.B) {
	record := sampleRecord{
		Topic:   "merges",
		ReplyTo: "drop-a3f9b2c1e7d4",
		Seq:     42,
	}
	data, err := Marshal(record)
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	for b.Loop() {
		var decoded sampleRecord
		Unmarshal(data, &decoded)
	}
}
