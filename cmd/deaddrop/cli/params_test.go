// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestBindFlagsBasicTypes(t *testing.T) {
	type params struct {
		Branch   string        `flag:"branch" desc:"target branch"`
		Seal     bool          `flag:"seal,s" desc:"encrypt the bundle"`
		Limit    int           `flag:"limit" desc:"record limit"`
		MaxBytes int64         `flag:"max-bytes" desc:"download cap"`
		Timeout  time.Duration `flag:"timeout" desc:"request timeout"`
		Remotes  []string      `flag:"remotes" desc:"remote list"`
		Untagged string        // no flag tag, skipped
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}

	err := flagSet.Parse([]string{
		"--branch", "release",
		"-s",
		"--limit", "42",
		"--max-bytes", "1099511627776",
		"--timeout", "30s",
		"--remotes", "a,b,c",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if p.Branch != "release" {
		t.Errorf("Branch = %q, want %q", p.Branch, "release")
	}
	if !p.Seal {
		t.Error("Seal = false, want true")
	}
	if p.Limit != 42 {
		t.Errorf("Limit = %d, want 42", p.Limit)
	}
	if p.MaxBytes != 1099511627776 {
		t.Errorf("MaxBytes = %d, want 1099511627776", p.MaxBytes)
	}
	if p.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", p.Timeout)
	}
	if len(p.Remotes) != 3 || p.Remotes[0] != "a" || p.Remotes[1] != "b" || p.Remotes[2] != "c" {
		t.Errorf("Remotes = %v, want [a b c]", p.Remotes)
	}
	if p.Untagged != "" {
		t.Errorf("Untagged = %q, want empty (should be skipped)", p.Untagged)
	}
}

func TestBindFlagsDefaults(t *testing.T) {
	type params struct {
		Listen   string        `flag:"listen" desc:"listen address" default:"127.0.0.1:7667"`
		InFlight int           `flag:"max-in-flight" desc:"concurrency limit" default:"8"`
		MaxBytes int64         `flag:"max-bytes" desc:"download cap" default:"100"`
		Timeout  time.Duration `flag:"timeout" desc:"timeout" default:"10s"`
		Verify   bool          `flag:"verify" desc:"verify signatures" default:"true"`
		Remotes  []string      `flag:"remotes" desc:"remotes" default:"x,y"`
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}

	// Parse with no arguments, everything keeps its default.
	if err := flagSet.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if p.Listen != "127.0.0.1:7667" {
		t.Errorf("Listen = %q, want %q", p.Listen, "127.0.0.1:7667")
	}
	if p.InFlight != 8 {
		t.Errorf("InFlight = %d, want 8", p.InFlight)
	}
	if p.MaxBytes != 100 {
		t.Errorf("MaxBytes = %d, want 100", p.MaxBytes)
	}
	if p.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", p.Timeout)
	}
	if !p.Verify {
		t.Error("Verify = false, want true")
	}
	if len(p.Remotes) != 2 || p.Remotes[0] != "x" || p.Remotes[1] != "y" {
		t.Errorf("Remotes = %v, want [x y]", p.Remotes)
	}
}

func TestBindFlagsDefaultsOverriddenByCLI(t *testing.T) {
	type params struct {
		Listen string `flag:"listen" desc:"listen address" default:"127.0.0.1:7667"`
		Limit  int    `flag:"limit" desc:"record limit" default:"20"`
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}

	if err := flagSet.Parse([]string{"--listen", "0.0.0.0:80", "--limit", "5"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if p.Listen != "0.0.0.0:80" {
		t.Errorf("Listen = %q, want %q", p.Listen, "0.0.0.0:80")
	}
	if p.Limit != 5 {
		t.Errorf("Limit = %d, want 5", p.Limit)
	}
}

func TestBindFlagsEmbeddedJSONOutput(t *testing.T) {
	type params struct {
		JSONOutput
		Branch string `flag:"branch" desc:"target branch"`
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}

	if err := flagSet.Parse([]string{"--json", "--branch", "main"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.JSON {
		t.Error("JSON = false, want true")
	}
	if p.Branch != "main" {
		t.Errorf("Branch = %q, want %q", p.Branch, "main")
	}
}

func TestBindFlagsRejectsNonPointer(t *testing.T) {
	type params struct {
		Branch string `flag:"branch"`
	}
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)

	if err := BindFlags(params{}, flagSet); err == nil {
		t.Error("BindFlags(non-pointer) = nil, want error")
	}
	value := "x"
	if err := BindFlags(&value, flagSet); err == nil {
		t.Error("BindFlags(*string) = nil, want error")
	}
}

func TestBindFlagsRejectsUnsupportedType(t *testing.T) {
	type params struct {
		Rate float32 `flag:"rate" desc:"unsupported"`
	}
	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)

	err := BindFlags(&p, flagSet)
	if err == nil {
		t.Fatal("BindFlags = nil, want error for float32 field")
	}
	if !strings.Contains(err.Error(), "unsupported type") {
		t.Errorf("error = %q, want mention of unsupported type", err.Error())
	}
}

func TestBindFlagsRejectsBadDefault(t *testing.T) {
	type params struct {
		Limit int `flag:"limit" default:"not-a-number"`
	}
	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)

	if err := BindFlags(&p, flagSet); err == nil {
		t.Error("BindFlags = nil, want error for unparseable default")
	}
}

func TestFlagsFromParamsPanicsOnBadParams(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("FlagsFromParams did not panic for non-struct params")
		}
	}()
	FlagsFromParams("test", 42)
}

func TestWriteJSONNormalizesNilSlice(t *testing.T) {
	var builder strings.Builder
	var records []string
	if err := WriteJSON(&builder, records); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if got := strings.TrimSpace(builder.String()); got != "[]" {
		t.Errorf("WriteJSON(nil slice) = %q, want %q", got, "[]")
	}
}
