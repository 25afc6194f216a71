// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package patch implements the "deaddrop patch" CLI subcommands for
// recording patch submissions and posting them to a drop server.
package patch

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/deaddrop-io/deaddrop/cmd/deaddrop/cli"
	"github.com/deaddrop-io/deaddrop/lib/bundle"
	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/metadata"
	"github.com/deaddrop-io/deaddrop/lib/patchlog"
	"github.com/deaddrop-io/deaddrop/lib/remote"
)

// Command returns the top-level "patch" command with all subcommands.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "patch",
		Summary: "Record and submit patches",
		Description: `A patch is a record whose payload is the patch content itself,
stored in the drop's object store and referenced by hash. The record
carries a cover note and the branch tips the patch was built against,
so reviewers know exactly what it applies to.`,
		Subcommands: []*cli.Command{
			createCommand(),
			submitCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Record a patch against main",
				Command:     "deaddrop patch create fix.patch -m \"fix the frobnicator\"",
			},
			{
				Description: "Submit the newest patch to a drop server",
				Command:     "deaddrop patch submit --remote https://drops.example.org",
			},
		},
	}
}

// --- create ---

type createParams struct {
	cli.JSONOutput
	Config  string `flag:"config" desc:"config file path (overrides DEADDROP_CONFIG)"`
	Message string `flag:"message,m" desc:"cover note for the submission"`
	Branch  string `flag:"branch" desc:"branch the patch was built against" default:"main"`
	ReplyTo string `flag:"reply-to" desc:"record id this patch responds to (hex)"`
}

type createResult struct {
	Record  string `json:"record"`
	Payload string `json:"payload"`
	Branch  string `json:"branch"`
	Tip     string `json:"tip,omitempty"`
}

func createCommand() *cli.Command {
	var params createParams

	return &cli.Command{
		Name:    "create",
		Summary: "Record a patch in the local drop",
		Usage:   "deaddrop patch create [file] [flags]",
		Description: `Store the patch content (from the named file, or stdin when no file
is given or file is "-") and append a signed submission record that
references it. The record pins the branch's current merge tip so the
base is unambiguous.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("create", &params)
		},
		Run: func(args []string) error {
			ctx := context.Background()
			cfg, err := cli.LoadConfig(params.Config)
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

			var data []byte
			if len(args) == 0 || args[0] == "-" {
				data, err = io.ReadAll(os.Stdin)
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("reading patch: %w", err)
			}
			if len(data) == 0 {
				return fmt.Errorf("empty patch")
			}

			payloadID, err := workspace.Store.Put(ctx, data)
			if err != nil {
				return err
			}

			record, err := patchlog.NewComment(author, time.Now().Unix(), params.Message)
			if err != nil {
				return err
			}
			info := &patchlog.PatchInfo{ID: payloadID}
			var tipHex string
			if point, _, ok := workspace.Log.BranchTip(params.Branch); ok {
				info.Tips = []patchlog.Tip{{Ref: params.Branch, Target: point.Tip}}
				tipHex = point.Tip.String()
			}
			record.Header.Patch = info
			if params.ReplyTo != "" {
				parent, err := content.ParseHash(params.ReplyTo)
				if err != nil {
					return err
				}
				record.Header.InReplyTo = &parent
			}
			if err := record.Seal(ctx, signer); err != nil {
				return err
			}
			if _, err := workspace.Log.Append(ctx, record, time.Now()); err != nil {
				return err
			}

			result := createResult{
				Record:  record.Header.ID.String(),
				Payload: payloadID.String(),
				Branch:  params.Branch,
				Tip:     tipHex,
			}
			if done, err := params.EmitJSON(result); done {
				return err
			}
			fmt.Printf("patch %s (%d bytes against %s)\n", record.Header.ID.Short(), len(data), params.Branch)
			return nil
		},
	}
}

// --- submit ---

type submitParams struct {
	cli.JSONOutput
	Config     string   `flag:"config" desc:"config file path (overrides DEADDROP_CONFIG)"`
	Remote     string   `flag:"remote" desc:"drop server base URL (default: first http remote in config)"`
	Recipients []string `flag:"recipient" desc:"age public key to seal the bundle to (repeatable)"`
}

type submitResult struct {
	Record  string `json:"record"`
	Bundle  string `json:"bundle"`
	Records int    `json:"records"`
	Relayed bool   `json:"relayed,omitempty"`
}

func submitCommand() *cli.Command {
	var params submitParams

	return &cli.Command{
		Name:    "submit",
		Summary: "Pack a record with its ancestry and post it to a drop server",
		Usage:   "deaddrop patch submit [record-id] [flags]",
		Description: `Pack the named record (default: the newest patch record) together
with its reply ancestry and payload objects into a self-verifying
bundle, then POST it to the drop server with a detached signature.

With --recipient the bundle's object section is sealed to the given
age keys; the server relays such bundles without merging them.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("submit", &params)
		},
		Run: func(args []string) error {
			ctx := context.Background()
			cfg, err := cli.LoadConfig(params.Config)
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

			var recordID content.Hash
			if len(args) > 0 {
				recordID, err = content.ParseHash(args[0])
				if err != nil {
					return err
				}
				if !workspace.Log.Has(recordID) {
					return fmt.Errorf("record %s is not in the log", recordID.Short())
				}
			} else {
				recordID, err = newestPatch(workspace.Log)
				if err != nil {
					return err
				}
			}

			base := params.Remote
			if base == "" {
				base = firstHTTPRemote(cfg.Sync.Remotes)
			}
			if base == "" {
				return fmt.Errorf("no drop server (pass --remote or configure an http remote)")
			}

			options := bundle.DefaultPackOptions()
			options.Recipients = params.Recipients
			packed, encoded, err := bundle.PackRecords(ctx, workspace.Log, []content.Hash{recordID}, options)
			if err != nil {
				return err
			}
			if err := workspace.Bundles.Write(packed.ID, encoded); err != nil {
				return err
			}

			client := remote.NewClient(base, remote.ClientOptions{})
			accepted, err := client.Submit(ctx, encoded, signer)
			if err != nil {
				return err
			}

			result := submitResult{
				Record:  recordID.String(),
				Bundle:  accepted.Bundle.String(),
				Records: accepted.Records,
				Relayed: accepted.Relayed,
			}
			if done, err := params.EmitJSON(result); done {
				return err
			}
			switch {
			case accepted.Relayed:
				fmt.Printf("bundle %s relayed (sealed)\n", accepted.Bundle.Short())
			case accepted.Records == 0:
				fmt.Printf("bundle %s already known to %s\n", accepted.Bundle.Short(), base)
			default:
				fmt.Printf("bundle %s accepted: %d record(s)\n", accepted.Bundle.Short(), accepted.Records)
			}
			return nil
		},
	}
}

// newestPatch returns the id of the newest record carrying a patch
// payload.
func newestPatch(log *patchlog.Log) (content.Hash, error) {
	records := log.Records()
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Record.Header.Patch != nil {
			return records[i].Record.Header.ID, nil
		}
	}
	return content.Hash{}, fmt.Errorf("no patch records in the log (use \"deaddrop patch create\" first)")
}

func firstHTTPRemote(remotes []string) string {
	for _, location := range remotes {
		if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
			return location
		}
	}
	return ""
}
