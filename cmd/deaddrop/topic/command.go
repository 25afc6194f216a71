// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package topic implements the "deaddrop topic" CLI subcommands for
// browsing and replying to discussion threads.
package topic

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/deaddrop-io/deaddrop/cmd/deaddrop/cli"
	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/metadata"
	"github.com/deaddrop-io/deaddrop/lib/patchlog"
)

// Command returns the top-level "topic" command with all subcommands.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "topic",
		Summary: "Browse and reply to discussion threads",
		Description: `Records group into topics by their reply chain: a root record opens a
thread and replies file under it. Merge points, snapshots, and policy
records gather in their own well-known topics.`,
		Subcommands: []*cli.Command{
			lsCommand(),
			showCommand(),
			commentCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "List the drop's topics",
				Command:     "deaddrop topic ls",
			},
			{
				Description: "Read a thread",
				Command:     "deaddrop topic show <topic-id>",
			},
			{
				Description: "Reply to a record",
				Command:     "deaddrop topic comment <record-id> -m \"looks good\"",
			},
		},
	}
}

// --- ls ---

type lsParams struct {
	cli.JSONOutput
	Config string `flag:"config" desc:"config file path (overrides DEADDROP_CONFIG)"`
}

type topicView struct {
	Topic   string `json:"topic"`
	Subject string `json:"subject"`
	Records int    `json:"records"`
}

func lsCommand() *cli.Command {
	var params lsParams

	return &cli.Command{
		Name:    "ls",
		Summary: "List topics in first-appearance order",
		Usage:   "deaddrop topic ls [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("ls", &params)
		},
		Run: func(args []string) error {
			ctx := context.Background()
			workspace, err := cli.OpenWorkspace(ctx, params.Config)
			if err != nil {
				return err
			}

			var views []topicView
			for info := range workspace.Log.Topics() {
				views = append(views, topicView{
					Topic:   info.Topic.String(),
					Subject: info.Subject,
					Records: info.Records,
				})
			}
			if done, err := params.EmitJSON(views); done {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(tw, "TOPIC\tRECORDS\tSUBJECT\n")
			for _, view := range views {
				topicHash, _ := content.ParseHash(view.Topic)
				fmt.Fprintf(tw, "%s\t%d\t%s\n", topicHash.Short(), view.Records, view.Subject)
			}
			return tw.Flush()
		},
	}
}

// --- show ---

type showParams struct {
	cli.JSONOutput
	Config string `flag:"config" desc:"config file path (overrides DEADDROP_CONFIG)"`
}

type recordView struct {
	Record    string `json:"record"`
	Author    string `json:"author"`
	Timestamp int64  `json:"timestamp"`
	Kind      string `json:"kind"`
	Subject   string `json:"subject"`
	InReplyTo string `json:"in_reply_to,omitempty"`
	Patch     string `json:"patch,omitempty"`
}

func showCommand() *cli.Command {
	var params showParams

	return &cli.Command{
		Name:    "show",
		Summary: "Print a topic's records in reading order",
		Usage:   "deaddrop topic show <topic-id> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("show", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: deaddrop topic show <topic-id>")
			}
			topicID, err := content.ParseHash(args[0])
			if err != nil {
				return err
			}
			ctx := context.Background()
			workspace, err := cli.OpenWorkspace(ctx, params.Config)
			if err != nil {
				return err
			}

			thread, ok := workspace.Log.Thread(topicID)
			if !ok {
				return fmt.Errorf("topic %s not found", topicID.Short())
			}

			var views []recordView
			for _, logged := range thread {
				record := logged.Record
				view := recordView{
					Record:    record.Header.ID.String(),
					Author:    record.Header.Author.String(),
					Timestamp: record.Header.Timestamp,
					Kind:      string(record.Message.Kind),
					Subject:   record.Subject(),
				}
				if record.Header.InReplyTo != nil {
					view.InReplyTo = record.Header.InReplyTo.String()
				}
				if record.Header.Patch != nil {
					view.Patch = record.Header.Patch.ID.String()
				}
				views = append(views, view)
			}
			if done, err := params.EmitJSON(views); done {
				return err
			}

			for _, view := range views {
				recordHash, _ := content.ParseHash(view.Record)
				authorHash, _ := content.ParseHash(view.Author)
				when := time.Unix(view.Timestamp, 0).UTC().Format("2006-01-02 15:04")
				fmt.Printf("%s  %s  %s  [%s] %s\n",
					recordHash.Short(), when, authorHash.Short(), view.Kind, view.Subject)
				if view.Patch != "" {
					patchHash, _ := content.ParseHash(view.Patch)
					fmt.Printf("%s  patch payload %s\n", indentFor(recordHash), patchHash.Short())
				}
			}
			return nil
		},
	}
}

func indentFor(id content.Hash) string {
	pad := make([]byte, len(id.Short()))
	for i := range pad {
		pad[i] = ' '
	}
	return string(pad)
}

// --- comment ---

type commentParams struct {
	cli.JSONOutput
	Config  string `flag:"config" desc:"config file path (overrides DEADDROP_CONFIG)"`
	Message string `flag:"message,m" desc:"comment text"`
}

type commentResult struct {
	Record string `json:"record"`
	Topic  string `json:"topic"`
}

func commentCommand() *cli.Command {
	var params commentParams

	return &cli.Command{
		Name:    "comment",
		Summary: "Reply to a record, or open a new thread",
		Usage:   "deaddrop topic comment [record-id] [flags]",
		Description: `Append a signed comment. With a record id the comment files into that
record's thread; without one it opens a new topic.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("comment", &params)
		},
		Run: func(args []string) error {
			if params.Message == "" {
				return fmt.Errorf("a comment needs --message")
			}
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

			record, err := patchlog.NewComment(author, time.Now().Unix(), params.Message)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				parent, err := content.ParseHash(args[0])
				if err != nil {
					return err
				}
				if !workspace.Log.Has(parent) {
					return fmt.Errorf("record %s is not in the log", parent.Short())
				}
				record.Header.InReplyTo = &parent
			}
			if err := record.Seal(ctx, signer); err != nil {
				return err
			}
			if _, err := workspace.Log.Append(ctx, record, time.Now()); err != nil {
				return err
			}

			logged, _ := workspace.Log.Get(record.Header.ID)
			result := commentResult{Record: record.Header.ID.String()}
			if logged != nil {
				result.Topic = logged.Topic.String()
			}
			if done, err := params.EmitJSON(result); done {
				return err
			}
			fmt.Printf("comment %s\n", record.Header.ID.Short())
			return nil
		},
	}
}
