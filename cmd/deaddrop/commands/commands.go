// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete deaddrop CLI command tree.
package commands

import (
	"fmt"

	"github.com/deaddrop-io/deaddrop/cmd/deaddrop/bundles"
	"github.com/deaddrop-io/deaddrop/cmd/deaddrop/cli"
	dropcmd "github.com/deaddrop-io/deaddrop/cmd/deaddrop/drop"
	identitycmd "github.com/deaddrop-io/deaddrop/cmd/deaddrop/identity"
	mergepointcmd "github.com/deaddrop-io/deaddrop/cmd/deaddrop/mergepoint"
	patchcmd "github.com/deaddrop-io/deaddrop/cmd/deaddrop/patch"
	topiccmd "github.com/deaddrop-io/deaddrop/cmd/deaddrop/topic"
	"github.com/deaddrop-io/deaddrop/lib/version"
)

// Root builds and returns the complete deaddrop CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "deaddrop",
		Description: `deaddrop: cryptographically verifiable patch exchange.

Collaborators hold full replicas of a signed, hash-linked record log
and exchange self-verifying bundles; servers are conveniences, never
authorities.`,
		Subcommands: []*cli.Command{
			identitycmd.Command(),
			dropcmd.Command(),
			patchcmd.Command(),
			topiccmd.Command(),
			mergepointcmd.Command(),
			bundles.Command(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("deaddrop %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Create an identity, then a drop",
				Command:     "deaddrop id init --comment alice@laptop && deaddrop drop init",
			},
			{
				Description: "Record a patch and post it to a drop server",
				Command:     "deaddrop patch create fix.patch -m \"fix parser\" && deaddrop patch submit",
			},
			{
				Description: "Pull what the remotes have",
				Command:     "deaddrop drop sync",
			},
			{
				Description: "Serve your replica to collaborators",
				Command:     "deaddrop drop serve --listen :7667",
			},
		},
	}
}
