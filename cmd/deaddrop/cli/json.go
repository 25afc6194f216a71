// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
)

// JSONOutput is embedded in command parameter structs to provide a
// consistent --json flag across the CLI.
type JSONOutput struct {
	JSON bool `flag:"json" desc:"emit machine-readable JSON instead of text"`
}

// EmitJSON writes value as indented JSON to stdout when --json was
// given and returns true; otherwise it returns false and the caller
// renders the human-readable form.
func (o JSONOutput) EmitJSON(value any) (bool, error) {
	if !o.JSON {
		return false, nil
	}
	if err := WriteJSON(os.Stdout, value); err != nil {
		return true, err
	}
	return true, nil
}

// WriteJSON writes value as indented JSON followed by a newline.
// Nil slices are normalized to empty ones so list-shaped output is
// always a JSON array, never null.
func WriteJSON(w io.Writer, value any) error {
	data, err := json.MarshalIndent(normalizeNilSlice(value), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing JSON output: %w", err)
	}
	return nil
}

func normalizeNilSlice(value any) any {
	reflected := reflect.ValueOf(value)
	if reflected.Kind() == reflect.Slice && reflected.IsNil() {
		return reflect.MakeSlice(reflected.Type(), 0, 0).Interface()
	}
	return value
}
