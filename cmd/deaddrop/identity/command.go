// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity implements the "deaddrop id" CLI subcommands for
// creating, inspecting, and rotating the user's signing identity.
package identity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/deaddrop-io/deaddrop/cmd/deaddrop/cli"
	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/metadata"
	"github.com/deaddrop-io/deaddrop/lib/remote"
	"github.com/deaddrop-io/deaddrop/lib/secret"
	"github.com/deaddrop-io/deaddrop/lib/sign"

	"golang.org/x/term"
)

// Command returns the top-level "id" command with all subcommands.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "id",
		Summary: "Manage the signing identity",
		Description: `Create, inspect, and rotate the multi-key identity that signs
records on your behalf.

An identity is a chain of signed revisions. The root revision's hash is
the identity's stable id; rotating keys appends a revision signed by
both the old and the new key set, so peers can verify the succession
without any registry.`,
		Subcommands: []*cli.Command{
			initCommand(),
			showCommand(),
			rotateCommand(),
			signCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Create a fresh identity and key",
				Command:     "deaddrop id init --comment alice@laptop",
			},
			{
				Description: "Rotate to a new key",
				Command:     "deaddrop id rotate --comment alice@desk",
			},
		},
	}
}

// --- init ---

type initParams struct {
	cli.JSONOutput
	Config     string `flag:"config" desc:"config file path (overrides DEADDROP_CONFIG)"`
	Comment    string `flag:"comment" desc:"key comment (e.g. user@host)"`
	Passphrase bool   `flag:"passphrase" desc:"protect the key file with a passphrase (prompted)"`
	Force      bool   `flag:"force" desc:"overwrite an existing identity chain"`
}

type initResult struct {
	Identity string `json:"identity"`
	Key      string `json:"key"`
	KeyID    string `json:"key_id"`
	Chain    string `json:"chain"`
}

func initCommand() *cli.Command {
	var params initParams

	return &cli.Command{
		Name:    "init",
		Summary: "Generate a key and create a new identity",
		Usage:   "deaddrop id init [flags]",
		Description: `Generate an ed25519 key, write it to the configured key path, and
create a single-key identity chain at the configured chain path.

The key file is OpenSSH PEM, so it also works with ssh-agent and the
usual OpenSSH tooling.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("init", &params)
		},
		Run: func(args []string) error {
			ctx := context.Background()
			cfg, err := cli.LoadConfig(params.Config)
			if err != nil {
				return err
			}

			if _, err := os.Stat(cfg.Identity.Chain); err == nil && !params.Force {
				return fmt.Errorf("identity chain %s already exists (use --force to replace)", cfg.Identity.Chain)
			}

			var passphrase *secret.Buffer
			if params.Passphrase {
				passphrase, err = promptNewPassphrase()
				if err != nil {
					return err
				}
				defer passphrase.Close()
			}

			privatePEM, public, err := sign.GenerateKey(params.Comment, passphrase)
			if err != nil {
				return err
			}
			defer secret.Zero(privatePEM)

			if err := os.MkdirAll(filepath.Dir(cfg.Identity.Key), 0o700); err != nil {
				return fmt.Errorf("creating key directory: %w", err)
			}
			if err := os.WriteFile(cfg.Identity.Key, privatePEM, 0o600); err != nil {
				return fmt.Errorf("writing key file: %w", err)
			}

			signer, err := sign.ParsePrivateKey(privatePEM, passphrase)
			if err != nil {
				return err
			}
			document := metadata.NewIdentity([]sign.VerificationKey{public}, 1)
			signed := metadata.Signed[metadata.Identity]{Document: document}
			if err := signed.Sign(ctx, signer); err != nil {
				return err
			}
			chain := []metadata.Signed[metadata.Identity]{signed}

			if err := os.MkdirAll(filepath.Dir(cfg.Identity.Chain), 0o700); err != nil {
				return fmt.Errorf("creating chain directory: %w", err)
			}
			if err := cli.SaveIdentityChain(cfg.Identity.Chain, chain); err != nil {
				return err
			}

			id, err := metadata.IdentityChainID(chain)
			if err != nil {
				return err
			}

			result := initResult{
				Identity: id.String(),
				Key:      cfg.Identity.Key,
				KeyID:    string(public.ID()),
				Chain:    cfg.Identity.Chain,
			}
			if done, err := params.EmitJSON(result); done {
				return err
			}
			fmt.Printf("identity %s\n", id.Short())
			fmt.Printf("  key:   %s (%s)\n", result.Key, result.KeyID)
			fmt.Printf("  chain: %s\n", result.Chain)
			return nil
		},
	}
}

// --- show ---

type showParams struct {
	cli.JSONOutput
	Config string `flag:"config" desc:"config file path (overrides DEADDROP_CONFIG)"`
}

type revisionView struct {
	Keys      []string `json:"keys"`
	Threshold int      `json:"threshold"`
	Expires   int64    `json:"expires,omitempty"`
}

type showResult struct {
	Identity  string         `json:"identity"`
	Revisions []revisionView `json:"revisions"`
}

func showCommand() *cli.Command {
	var params showParams

	return &cli.Command{
		Name:    "show",
		Summary: "Print the identity chain",
		Usage:   "deaddrop id show [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("show", &params)
		},
		Run: func(args []string) error {
			cfg, err := cli.LoadConfig(params.Config)
			if err != nil {
				return err
			}
			chain, err := cli.LoadIdentityChain(cfg.Identity.Chain)
			if err != nil {
				return err
			}
			id, err := metadata.IdentityChainID(chain)
			if err != nil {
				return err
			}

			result := showResult{Identity: id.String()}
			for _, revision := range chain {
				view := revisionView{Threshold: revision.Document.Threshold}
				for _, key := range revision.Document.Keys {
					view.Keys = append(view.Keys, string(key.ID()))
				}
				if revision.Document.Expires != nil {
					view.Expires = *revision.Document.Expires
				}
				result.Revisions = append(result.Revisions, view)
			}
			if done, err := params.EmitJSON(result); done {
				return err
			}

			fmt.Printf("identity %s (%d revision(s), head first)\n", id.Short(), len(chain))
			for i, view := range result.Revisions {
				fmt.Printf("  [%d] threshold %d\n", i, view.Threshold)
				for _, keyID := range view.Keys {
					fmt.Printf("      %s\n", keyID)
				}
				if view.Expires != 0 {
					fmt.Printf("      expires %s\n", time.Unix(view.Expires, 0).UTC().Format(time.RFC3339))
				}
			}
			return nil
		},
	}
}

// --- rotate ---

type rotateParams struct {
	cli.JSONOutput
	Config     string `flag:"config" desc:"config file path (overrides DEADDROP_CONFIG)"`
	Comment    string `flag:"comment" desc:"comment for the replacement key"`
	Passphrase bool   `flag:"passphrase" desc:"protect the new key file with a passphrase (prompted)"`
	Threshold  int    `flag:"threshold" desc:"signature threshold of the new revision" default:"1"`
}

func rotateCommand() *cli.Command {
	var params rotateParams

	return &cli.Command{
		Name:    "rotate",
		Summary: "Rotate the identity to a fresh key",
		Usage:   "deaddrop id rotate [flags]",
		Description: `Generate a replacement key and append a new revision to the identity
chain, signed by both the outgoing and the incoming key. The old key
file is kept alongside with a .old suffix until you remove it.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("rotate", &params)
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
			oldSigner, err := cli.Signer(ctx, cfg.Identity, chain)
			if err != nil {
				return err
			}

			var passphrase *secret.Buffer
			if params.Passphrase {
				passphrase, err = promptNewPassphrase()
				if err != nil {
					return err
				}
				defer passphrase.Close()
			}
			privatePEM, public, err := sign.GenerateKey(params.Comment, passphrase)
			if err != nil {
				return err
			}
			defer secret.Zero(privatePEM)
			newSigner, err := sign.ParsePrivateKey(privatePEM, passphrase)
			if err != nil {
				return err
			}

			revision, err := metadata.NextRevision(chain[0], []sign.VerificationKey{public}, params.Threshold)
			if err != nil {
				return err
			}
			signed := metadata.Signed[metadata.Identity]{Document: revision}
			// Both the outgoing and incoming key sign the succession.
			if err := signed.Sign(ctx, oldSigner); err != nil {
				return err
			}
			if err := signed.Sign(ctx, newSigner); err != nil {
				return err
			}
			rotated := append([]metadata.Signed[metadata.Identity]{signed}, chain...)

			if _, err := os.Stat(cfg.Identity.Key); err == nil {
				if err := os.Rename(cfg.Identity.Key, cfg.Identity.Key+".old"); err != nil {
					return fmt.Errorf("preserving old key: %w", err)
				}
			}
			if err := os.WriteFile(cfg.Identity.Key, privatePEM, 0o600); err != nil {
				return fmt.Errorf("writing key file: %w", err)
			}
			if err := cli.SaveIdentityChain(cfg.Identity.Chain, rotated); err != nil {
				return err
			}

			id, err := metadata.IdentityChainID(rotated)
			if err != nil {
				return err
			}
			result := initResult{
				Identity: id.String(),
				Key:      cfg.Identity.Key,
				KeyID:    string(public.ID()),
				Chain:    cfg.Identity.Chain,
			}
			if done, err := params.EmitJSON(result); done {
				return err
			}
			fmt.Printf("identity %s rotated to %s\n", id.Short(), result.KeyID)
			return nil
		},
	}
}

// --- sign ---

type signParams struct {
	cli.JSONOutput
	Config string `flag:"config" desc:"config file path (overrides DEADDROP_CONFIG)"`
}

type signResult struct {
	KeyID     string `json:"key_id"`
	Checksum  string `json:"checksum"`
	Signature string `json:"signature"`
}

func signCommand() *cli.Command {
	var params signParams

	return &cli.Command{
		Name:    "sign",
		Summary: "Sign a file's checksum with the identity key",
		Usage:   "deaddrop id sign <file> [flags]",
		Description: `Produce a detached signature over the file's keyed checksum, in the
same key-id plus base64 form the drop server's X-Drop-Signature header
uses. Useful for out-of-band verification of bundle files.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("sign", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: deaddrop id sign <file>")
			}
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

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			checksum := content.HashChecksum(data)
			header, err := remote.SignSubmission(ctx, signer, data)
			if err != nil {
				return err
			}

			result := signResult{
				KeyID:     string(signer.Public().ID()),
				Checksum:  checksum.String(),
				Signature: header,
			}
			if done, err := params.EmitJSON(result); done {
				return err
			}
			fmt.Println(header)
			return nil
		},
	}
}

func promptNewPassphrase() (*secret.Buffer, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, fmt.Errorf("--passphrase requires an interactive terminal")
	}
	fmt.Fprint(os.Stderr, "Enter new passphrase: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	defer secret.Zero(first)

	fmt.Fprint(os.Stderr, "Repeat passphrase: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	defer secret.Zero(second)

	if string(first) != string(second) {
		return nil, fmt.Errorf("passphrases do not match")
	}
	if len(first) == 0 {
		return nil, fmt.Errorf("empty passphrase")
	}
	return secret.NewFromBytes(first)
}
