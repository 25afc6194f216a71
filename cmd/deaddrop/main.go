// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/deaddrop-io/deaddrop/cmd/deaddrop/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own diagnostics return an error
		// carrying the desired exit code; don't add a redundant
		// "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
