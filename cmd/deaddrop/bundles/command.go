// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundles implements the "deaddrop bundle" CLI subcommands
// for the local bundle directory.
package bundles

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/deaddrop-io/deaddrop/cmd/deaddrop/cli"
	"github.com/deaddrop-io/deaddrop/lib/bundle"
	"github.com/deaddrop-io/deaddrop/lib/content"
)

// Command returns the top-level "bundle" command with all subcommands.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "bundle",
		Summary: "Manage the local bundle directory",
		Description: `Bundles are the self-verifying files drops exchange. The local
directory caches what this replica packed, fetched, or holds for
relay; everything in it can be regenerated or re-fetched, so pruning
is always safe.`,
		Subcommands: []*cli.Command{
			lsCommand(),
			fetchCommand(),
			pruneCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "List cached bundles",
				Command:     "deaddrop bundle ls",
			},
			{
				Description: "Fetch a bundle by URL, verifying its checksum",
				Command:     "deaddrop bundle fetch https://drops.example.org/bundles/<hash> --checksum <hash>",
			},
			{
				Description: "Drop bundles whose records are already merged",
				Command:     "deaddrop bundle prune",
			},
		},
	}
}

// --- ls ---

type lsParams struct {
	cli.JSONOutput
	Config string `flag:"config" desc:"config file path (overrides DEADDROP_CONFIG)"`
}

type bundleView struct {
	Bundle  string `json:"bundle"`
	Bytes   int    `json:"bytes"`
	Records int    `json:"records,omitempty"`
	Sealed  bool   `json:"sealed,omitempty"`
}

func lsCommand() *cli.Command {
	var params lsParams

	return &cli.Command{
		Name:    "ls",
		Summary: "List bundles in the local directory",
		Usage:   "deaddrop bundle ls [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("ls", &params)
		},
		Run: func(args []string) error {
			ctx := context.Background()
			workspace, err := cli.OpenWorkspace(ctx, params.Config)
			if err != nil {
				return err
			}

			ids, err := workspace.Bundles.List()
			if err != nil {
				return err
			}
			var views []bundleView
			for _, id := range ids {
				data, err := workspace.Bundles.Read(id)
				if err != nil {
					return err
				}
				view := bundleView{Bundle: id.String(), Bytes: len(data)}
				if decoded, err := bundle.Decode(data); err == nil {
					view.Records = len(decoded.Header.Records)
					view.Sealed = decoded.Encrypted()
				}
				views = append(views, view)
			}
			if done, err := params.EmitJSON(views); done {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(tw, "BUNDLE\tBYTES\tRECORDS\n")
			for _, view := range views {
				id, _ := content.ParseHash(view.Bundle)
				records := fmt.Sprintf("%d", view.Records)
				if view.Sealed {
					records = "sealed"
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", id.Short(), view.Bytes, records)
			}
			return tw.Flush()
		},
	}
}

// --- fetch ---

type fetchParams struct {
	cli.JSONOutput
	Config   string `flag:"config" desc:"config file path (overrides DEADDROP_CONFIG)"`
	Checksum string `flag:"checksum" desc:"expected checksum of the encoded file (hex)"`
	MaxBytes int64  `flag:"max-bytes" desc:"download size cap (0 = library default)"`
}

type fetchResult struct {
	Bundle   string `json:"bundle"`
	Checksum string `json:"checksum"`
	Bytes    int    `json:"bytes"`
}

func fetchCommand() *cli.Command {
	var params fetchParams

	return &cli.Command{
		Name:    "fetch",
		Summary: "Download one bundle into the local directory",
		Usage:   "deaddrop bundle fetch <uri> [flags]",
		Description: `Fetch a bundle file from a URL, verify it frames and decodes as a
bundle (and matches --checksum when given), and store it under its
bundle id. Merging its records into the log is "drop sync"'s job.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("fetch", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: deaddrop bundle fetch <uri>")
			}
			ctx := context.Background()
			workspace, err := cli.OpenWorkspace(ctx, params.Config)
			if err != nil {
				return err
			}

			var checksum content.Hash
			if params.Checksum != "" {
				checksum, err = content.ParseHash(params.Checksum)
				if err != nil {
					return err
				}
			}
			data, err := bundle.Fetch(ctx, args[0], checksum, bundle.FetchOptions{MaxBytes: params.MaxBytes})
			if err != nil {
				return err
			}
			decoded, err := bundle.Decode(data)
			if err != nil {
				return err
			}
			if err := workspace.Bundles.Write(decoded.ID, data); err != nil {
				return err
			}

			result := fetchResult{
				Bundle:   decoded.ID.String(),
				Checksum: decoded.Checksum.String(),
				Bytes:    len(data),
			}
			if done, err := params.EmitJSON(result); done {
				return err
			}
			fmt.Printf("bundle %s (%d bytes)\n", decoded.ID.Short(), len(data))
			return nil
		},
	}
}

// --- prune ---

type pruneParams struct {
	cli.JSONOutput
	Config string `flag:"config" desc:"config file path (overrides DEADDROP_CONFIG)"`
	All    bool   `flag:"all" desc:"also remove sealed bundles held for relay"`
}

type pruneResult struct {
	Removed []string `json:"removed"`
	Kept    int      `json:"kept"`
}

func pruneCommand() *cli.Command {
	var params pruneParams

	return &cli.Command{
		Name:    "prune",
		Summary: "Remove bundles whose records are already in the log",
		Usage:   "deaddrop bundle prune [flags]",
		Description: `Remove bundles that carry nothing the log does not already hold.
Sealed bundles are kept for relaying unless --all is given, and
undecodable files are never touched so nothing is lost silently.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("prune", &params)
		},
		Run: func(args []string) error {
			ctx := context.Background()
			workspace, err := cli.OpenWorkspace(ctx, params.Config)
			if err != nil {
				return err
			}
			log := workspace.Log

			removed, err := workspace.Bundles.Prune(func(id content.Hash) bool {
				data, err := workspace.Bundles.Read(id)
				if err != nil {
					return true
				}
				decoded, err := bundle.Decode(data)
				if err != nil {
					return true
				}
				if decoded.Encrypted() && decoded.Objects == nil {
					return !params.All
				}
				for _, packed := range decoded.Header.Records {
					if !log.Has(packed.Record.Header.ID) {
						return true
					}
				}
				return false
			})
			if err != nil {
				return err
			}
			remaining, err := workspace.Bundles.List()
			if err != nil {
				return err
			}

			result := pruneResult{Kept: len(remaining)}
			for _, id := range removed {
				result.Removed = append(result.Removed, id.String())
			}
			if done, err := params.EmitJSON(result); done {
				return err
			}
			fmt.Printf("removed %d bundle(s), kept %d\n", len(removed), result.Kept)
			return nil
		},
	}
}
