// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package drop implements the "deaddrop drop" CLI subcommands: create
// a drop, inspect it, serve it over HTTP, snapshot it, and reconcile
// it with remote replicas.
package drop

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/deaddrop-io/deaddrop/cmd/deaddrop/cli"
	"github.com/deaddrop-io/deaddrop/lib/bundle"
	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/metadata"
	"github.com/deaddrop-io/deaddrop/lib/patchlog"
	"github.com/deaddrop-io/deaddrop/lib/remote"
	"github.com/deaddrop-io/deaddrop/lib/service"
	"github.com/deaddrop-io/deaddrop/lib/store"
	dropsync "github.com/deaddrop-io/deaddrop/lib/sync"
)

// Command returns the top-level "drop" command with all subcommands.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "drop",
		Summary: "Create, inspect, serve, and sync a drop",
		Description: `A drop is a hash-linked log of signed records plus the policy that
governs who may write to it. Every collaborator holds a full replica;
the drop server is a convenience for exchange, not an authority.`,
		Subcommands: []*cli.Command{
			initCommand(),
			cloneCommand(),
			showCommand(),
			serveCommand(),
			snapshotCommand(),
			syncCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Create a drop for kernel patches",
				Command:     "deaddrop drop init --description \"kernel patches\"",
			},
			{
				Description: "Join an existing drop from its snapshot bundle",
				Command:     "deaddrop drop clone https://drops.example.org/bundles/drop-4f2a81c09b3d",
			},
			{
				Description: "Serve the drop on the configured address",
				Command:     "deaddrop drop serve",
			},
			{
				Description: "Pull new bundles from the configured remotes",
				Command:     "deaddrop drop sync",
			},
		},
	}
}

// --- init ---

type initParams struct {
	cli.JSONOutput
	Config      string `flag:"config" desc:"config file path (overrides DEADDROP_CONFIG)"`
	Description string `flag:"description" desc:"what the drop is for"`
	Branch      string `flag:"branch" desc:"default branch name" default:"main"`
}

type initResult struct {
	Drop    string `json:"drop"`
	Genesis string `json:"genesis"`
	Store   string `json:"store"`
}

func initCommand() *cli.Command {
	var params initParams

	return &cli.Command{
		Name:    "init",
		Summary: "Create a new drop",
		Usage:   "deaddrop drop init [flags]",
		Description: `Create a drop governed by your identity: the genesis record is the
signed policy document granting you every role. Requires an identity
("deaddrop id init" first).`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("init", &params)
		},
		Run: func(args []string) error {
			ctx := context.Background()
			cfg, err := cli.LoadConfig(params.Config)
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
			founder, err := metadata.IdentityChainID(chain)
			if err != nil {
				return err
			}

			if err := cfg.EnsurePaths(); err != nil {
				return err
			}
			st, err := store.NewDirStore(cfg.Paths.Store)
			if err != nil {
				return err
			}

			now := time.Now()
			policy := metadata.NewDrop(params.Description, founder, params.Branch)
			signedPolicy := metadata.Signed[metadata.Drop]{Document: policy}
			if err := signedPolicy.Sign(ctx, signer); err != nil {
				return err
			}
			genesis, err := patchlog.NewPolicyRecord(founder, now.Unix(), signedPolicy)
			if err != nil {
				return err
			}
			if err := genesis.Seal(ctx, signer); err != nil {
				return err
			}
			log, err := patchlog.Init(ctx, st, genesis, now, chain)
			if err != nil {
				return err
			}

			result := initResult{
				Drop:    log.DropID().String(),
				Genesis: genesis.Header.ID.String(),
				Store:   cfg.Paths.Store,
			}
			if done, err := params.EmitJSON(result); done {
				return err
			}
			fmt.Printf("drop %s created in %s\n", log.DropID().Short(), cfg.Paths.Store)
			return nil
		},
	}
}

// --- clone ---

type cloneParams struct {
	cli.JSONOutput
	Config string `flag:"config" desc:"config file path (overrides DEADDROP_CONFIG)"`
}

type cloneResult struct {
	Drop    string `json:"drop"`
	Bundle  string `json:"bundle"`
	Records int    `json:"records"`
	Store   string `json:"store"`
}

func cloneCommand() *cli.Command {
	var params cloneParams

	return &cli.Command{
		Name:    "clone",
		Summary: "Join an existing drop from one of its bundles",
		Usage:   "deaddrop drop clone <bundle-uri-or-path> [flags]",
		Description: `Bootstrap a replica from a bundle instead of creating a new drop:
the bundle's genesis policy record and identity chains seed the log,
then the carried records merge in. A snapshot bundle yields the full
log in one fetch. The workspace store must not already hold a drop.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("clone", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("clone takes exactly one bundle URI or file path")
			}
			ctx := context.Background()
			cfg, err := cli.LoadConfig(params.Config)
			if err != nil {
				return err
			}
			if err := cfg.EnsurePaths(); err != nil {
				return err
			}

			source := args[0]
			var data []byte
			if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
				data, err = bundle.Fetch(ctx, source, content.Hash{}, bundle.FetchOptions{})
			} else {
				data, err = os.ReadFile(source)
			}
			if err != nil {
				return err
			}
			decoded, err := bundle.Decode(data)
			if err != nil {
				return err
			}

			st, err := store.NewDirStore(cfg.Paths.Store)
			if err != nil {
				return err
			}
			log, appended, err := bundle.Bootstrap(ctx, st, decoded, time.Now())
			if err != nil {
				return err
			}

			// Keep the bundle for relaying: a clone is immediately a
			// useful mirror.
			dir, err := bundle.OpenDir(cfg.Paths.Bundles)
			if err != nil {
				return err
			}
			if err := dir.Write(decoded.ID, data); err != nil {
				return err
			}

			result := cloneResult{
				Drop:    log.DropID().String(),
				Bundle:  decoded.ID.String(),
				Records: len(appended) + 1,
				Store:   cfg.Paths.Store,
			}
			if done, err := params.EmitJSON(result); done {
				return err
			}
			fmt.Printf("drop %s cloned into %s (%d records)\n",
				log.DropID().Short(), cfg.Paths.Store, result.Records)
			return nil
		},
	}
}

// --- show ---

type showParams struct {
	cli.JSONOutput
	Config string `flag:"config" desc:"config file path (overrides DEADDROP_CONFIG)"`
}

type branchView struct {
	Name string `json:"name"`
	Tip  string `json:"tip,omitempty"`
}

type showResult struct {
	Drop        string       `json:"drop"`
	Description string       `json:"description"`
	Records     uint64       `json:"records"`
	Topics      int          `json:"topics"`
	Head        string       `json:"head"`
	Branches    []branchView `json:"branches"`
}

func showCommand() *cli.Command {
	var params showParams

	return &cli.Command{
		Name:    "show",
		Summary: "Print the drop's state",
		Usage:   "deaddrop drop show [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("show", &params)
		},
		Run: func(args []string) error {
			ctx := context.Background()
			workspace, err := cli.OpenWorkspace(ctx, params.Config)
			if err != nil {
				return err
			}
			log := workspace.Log

			result := showResult{
				Drop:        log.DropID().String(),
				Description: log.Policy().Document.Description,
				Records:     log.Length(),
				Topics:      log.TopicCount(),
			}
			if head, ok := log.Head(); ok {
				result.Head = head.Record.Header.ID.String()
			}
			for name := range log.Policy().Document.Roles.Branches {
				view := branchView{Name: name}
				if point, _, ok := log.BranchTip(name); ok {
					view.Tip = point.Tip.String()
				}
				result.Branches = append(result.Branches, view)
			}

			if done, err := params.EmitJSON(result); done {
				return err
			}
			fmt.Printf("drop %s\n", log.DropID().Short())
			if result.Description != "" {
				fmt.Printf("  %s\n", result.Description)
			}
			fmt.Printf("  records: %d   topics: %d\n", result.Records, result.Topics)
			for _, branch := range result.Branches {
				tip := branch.Tip
				if tip == "" {
					tip = "(no merge point yet)"
				}
				fmt.Printf("  branch %s -> %s\n", branch.Name, tip)
			}
			return nil
		},
	}
}

// --- serve ---

type serveParams struct {
	Config  string `flag:"config" desc:"config file path (overrides DEADDROP_CONFIG)"`
	Listen  string `flag:"listen" desc:"listen address (overrides config)"`
	BaseURL string `flag:"base-url" desc:"externally reachable URL prefix for location lists"`
}

func serveCommand() *cli.Command {
	var params serveParams

	return &cli.Command{
		Name:    "serve",
		Summary: "Serve the drop over HTTP",
		Usage:   "deaddrop drop serve [flags]",
		Description: `Serve bundles and accept signed submissions. The server verifies
everything it accepts against the drop's policy; peers re-verify on
their side, so a compromised server can at worst withhold data.

Runs until interrupted; SIGINT and SIGTERM trigger a graceful
shutdown.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("serve", &params)
		},
		Run: func(args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := cli.LoadConfig(params.Config)
			if err != nil {
				return err
			}
			workspace, err := cli.OpenWorkspaceWith(ctx, cfg)
			if err != nil {
				return err
			}

			listen := cfg.Serve.Listen
			if params.Listen != "" {
				listen = params.Listen
			}
			logger := cli.NewCommandLogger().With("command", "drop/serve")

			server := remote.NewServer(remote.ServerConfig{
				Log:         workspace.Log,
				Dir:         workspace.Bundles,
				BaseURL:     params.BaseURL,
				MaxInFlight: cfg.Serve.MaxInFlight,
				Logger:      logger,
			})
			httpServer := service.NewHTTPServer(service.HTTPServerConfig{
				Address:         listen,
				Handler:         server.Handler(),
				ShutdownTimeout: cfg.Serve.ShutdownTimeout,
				Logger:          logger,
			})

			logger.Info("serving drop",
				"drop", workspace.Log.DropID().Short(),
				"listen", listen)
			return httpServer.Serve(ctx)
		},
	}
}

// --- snapshot ---

type snapshotParams struct {
	cli.JSONOutput
	Config  string `flag:"config" desc:"config file path (overrides DEADDROP_CONFIG)"`
	Message string `flag:"message,m" desc:"snapshot annotation"`
}

type snapshotResult struct {
	Record string `json:"record"`
	Covers string `json:"covers"`
	Bundle string `json:"bundle"`
}

func snapshotCommand() *cli.Command {
	var params snapshotParams

	return &cli.Command{
		Name:    "snapshot",
		Summary: "Summarize the log and pack a full bundle",
		Usage:   "deaddrop drop snapshot [flags]",
		Description: `Append a snapshot record covering the current head, then pack the
whole log into one bundle in the bundle directory. Replicas that see
the snapshot can bootstrap from that single bundle instead of walking
history. Requires the snapshot role.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("snapshot", &params)
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

			log := workspace.Log
			head, ok := log.Head()
			if !ok {
				return fmt.Errorf("drop log is empty")
			}
			body := patchlog.Snapshot{
				Covers: head.Record.Header.ID,
				Text:   params.Message,
			}
			for name := range log.Policy().Document.Roles.Branches {
				if point, _, ok := log.BranchTip(name); ok {
					if body.Refs == nil {
						body.Refs = make(map[string]content.Hash, 1)
					}
					body.Refs[name] = point.Tip
				}
			}

			now := time.Now()
			record, err := patchlog.NewSnapshot(author, now.Unix(), body)
			if err != nil {
				return err
			}
			if err := record.Seal(ctx, signer); err != nil {
				return err
			}
			if _, err := log.Append(ctx, record, now); err != nil {
				return err
			}

			packed, encoded, err := bundle.PackLog(ctx, log, bundle.DefaultPackOptions())
			if err != nil {
				return err
			}
			if err := workspace.Bundles.Write(packed.ID, encoded); err != nil {
				return err
			}

			result := snapshotResult{
				Record: record.Header.ID.String(),
				Covers: body.Covers.String(),
				Bundle: packed.ID.String(),
			}
			if done, err := params.EmitJSON(result); done {
				return err
			}
			fmt.Printf("snapshot %s covering %s\n", record.Header.ID.Short(), body.Covers.Short())
			fmt.Printf("  bundle %s (%d bytes)\n", packed.ID.Short(), len(encoded))
			return nil
		},
	}
}

// --- sync ---

type syncParams struct {
	cli.JSONOutput
	Config string   `flag:"config" desc:"config file path (overrides DEADDROP_CONFIG)"`
	From   []string `flag:"from" desc:"remote to pull from (URL or bundle directory; overrides config)"`
}

type syncRemoteResult struct {
	Remote   string `json:"remote"`
	Fetched  int    `json:"fetched"`
	Unpacked int    `json:"unpacked"`
	Records  int    `json:"records"`
	Opaque   int    `json:"opaque"`
	Error    string `json:"error,omitempty"`
}

func syncCommand() *cli.Command {
	var params syncParams

	return &cli.Command{
		Name:    "sync",
		Summary: "Pull and merge bundles from remotes",
		Usage:   "deaddrop drop sync [flags]",
		Description: `Fetch advertised bundles from each remote, verify them against the
drop's policy, and merge what passes. Remotes are HTTP drop servers
(http:// or https:// URLs) or local bundle directories. Nothing a
remote says is trusted; every record is re-verified locally.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("sync", &params)
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

			remotes := params.From
			if len(remotes) == 0 {
				remotes = cfg.Sync.Remotes
			}
			if len(remotes) == 0 {
				return fmt.Errorf("no remotes configured (set sync.remotes or pass --from)")
			}

			logger := cli.NewCommandLogger().With("command", "drop/sync")
			options := dropsync.Options{
				Attempts: cfg.Sync.Attempts,
				Backoff:  cfg.Sync.Backoff,
				Logger:   logger,
			}

			var results []syncRemoteResult
			var firstErr error
			for _, location := range remotes {
				source, err := openSource(location)
				if err != nil {
					return err
				}
				report, err := dropsync.Sync(ctx, workspace.Log, workspace.Bundles, source, time.Now(), options)
				result := syncRemoteResult{
					Remote:   location,
					Fetched:  report.Fetched,
					Unpacked: report.Unpacked,
					Records:  report.Records,
					Opaque:   report.Opaque,
				}
				if err != nil {
					result.Error = err.Error()
					if firstErr == nil {
						firstErr = fmt.Errorf("syncing from %s: %w", location, err)
					}
				}
				results = append(results, result)
			}

			if done, err := params.EmitJSON(results); done {
				return err
			}
			for _, result := range results {
				fmt.Printf("%s: fetched %d, unpacked %d, records %d",
					result.Remote, result.Fetched, result.Unpacked, result.Records)
				if result.Opaque > 0 {
					fmt.Printf(", opaque %d", result.Opaque)
				}
				if result.Error != "" {
					fmt.Printf(" (error: %s)", result.Error)
				}
				fmt.Println()
			}
			return firstErr
		},
	}
}

// openSource builds a sync source for a remote location: an HTTP drop
// server or a local bundle directory.
func openSource(location string) (dropsync.Source, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return remote.NewClient(location, remote.ClientOptions{}), nil
	}
	dir, err := bundle.OpenDir(location)
	if err != nil {
		return nil, fmt.Errorf("opening bundle directory %s: %w", location, err)
	}
	return dropsync.NewDirSource(dir), nil
}
