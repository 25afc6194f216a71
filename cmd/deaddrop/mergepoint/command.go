// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package mergepoint implements the "deaddrop mergepoint" CLI command:
// assert that a branch ref moved to a new tip.
package mergepoint

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/deaddrop-io/deaddrop/cmd/deaddrop/cli"
	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/metadata"
	"github.com/deaddrop-io/deaddrop/lib/patchlog"
)

type params struct {
	cli.JSONOutput
	Config  string `flag:"config" desc:"config file path (overrides DEADDROP_CONFIG)"`
	Branch  string `flag:"branch" desc:"branch whose tip moved" default:"main"`
	Message string `flag:"message,m" desc:"merge annotation"`
}

type result struct {
	Record string `json:"record"`
	Branch string `json:"branch"`
	Tip    string `json:"tip"`
}

// Command returns the "mergepoint" command.
func Command() *cli.Command {
	var p params

	return &cli.Command{
		Name:    "mergepoint",
		Summary: "Record that a branch moved to a new tip",
		Usage:   "deaddrop mergepoint <tip-hash> [flags]",
		Description: `Append a signed merge point: an assertion that the branch's ref now
points at the given object. The log accepts it only when your identity
satisfies the branch's merge role, and replicas enforce the same rule
independently.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("mergepoint", &p)
		},
		Examples: []cli.Example{
			{
				Description: "Advance main after applying a patch",
				Command:     "deaddrop mergepoint <tip-hash> --branch main -m \"apply drop-a3f9b2c1e7d4\"",
			},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: deaddrop mergepoint <tip-hash>")
			}
			tip, err := content.ParseHash(args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()
			cfg, err := cli.LoadConfig(p.Config)
			if err != nil {
				return err
			}
			workspace, err := cli.OpenWorkspaceWith(ctx, cfg)
			if err != nil {
				return err
			}
			chain, err := cli.LoadIdentityChain(cfg.Identity.Chain)
			if err != nil {
				return err
			}
			signer, err := cli.Signer(ctx, cfg.Identity, chain)
			if err != nil {
				return err
			}
			author, err := metadata.IdentityChainID(chain)
			if err != nil {
				return err
			}

			body := patchlog.MergePoint{Branch: p.Branch, Tip: tip, Text: p.Message}
			record, err := patchlog.NewMergePoint(author, time.Now().Unix(), body)
			if err != nil {
				return err
			}
			if err := record.Seal(ctx, signer); err != nil {
				return err
			}
			if _, err := workspace.Log.Append(ctx, record, time.Now()); err != nil {
				return err
			}

			out := result{
				Record: record.Header.ID.String(),
				Branch: p.Branch,
				Tip:    tip.String(),
			}
			if done, err := p.EmitJSON(out); done {
				return err
			}
			fmt.Printf("merge point %s: %s -> %s\n", record.Header.ID.Short(), p.Branch, tip.Short())
			return nil
		},
	}
}
