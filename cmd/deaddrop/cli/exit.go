// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package cli

// ExitError carries a specific process exit code out of a command's
// Run function. main inspects errors for an ExitCode method; plain
// errors exit 1.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

// ExitCode returns the process exit code this error requests.
func (e *ExitError) ExitCode() int { return e.Code }
