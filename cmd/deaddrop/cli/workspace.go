// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/deaddrop-io/deaddrop/lib/bundle"
	"github.com/deaddrop-io/deaddrop/lib/codec"
	"github.com/deaddrop-io/deaddrop/lib/config"
	"github.com/deaddrop-io/deaddrop/lib/metadata"
	"github.com/deaddrop-io/deaddrop/lib/patchlog"
	"github.com/deaddrop-io/deaddrop/lib/secret"
	"github.com/deaddrop-io/deaddrop/lib/sign"
	"github.com/deaddrop-io/deaddrop/lib/store"
)

// Workspace is the opened local state a command operates on: the
// configuration, the drop's object store and log, and the bundle
// directory. Commands that only touch the key file or config do not
// need one.
type Workspace struct {
	Config  *config.Config
	Store   *store.DirStore
	Log     *patchlog.Log
	Bundles *bundle.Dir
}

// LoadConfig resolves the configuration for a command: an explicit
// --config path wins, otherwise DEADDROP_CONFIG, otherwise defaults.
func LoadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// OpenWorkspace loads the configuration (an explicit path beats
// DEADDROP_CONFIG) and opens the drop log and bundle directory it
// points at. The drop must already exist: run "deaddrop drop init"
// first.
func OpenWorkspace(ctx context.Context, configPath string) (*Workspace, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return OpenWorkspaceWith(ctx, cfg)
}

// OpenWorkspaceWith opens the workspace described by an already-loaded
// configuration.
func OpenWorkspaceWith(ctx context.Context, cfg *config.Config) (*Workspace, error) {
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	st, err := store.NewDirStore(cfg.Paths.Store)
	if err != nil {
		return nil, fmt.Errorf("opening object store: %w", err)
	}
	log, err := patchlog.Open(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("opening drop log at %s: %w (run \"deaddrop drop init\" to create one)", cfg.Paths.Store, err)
	}
	dir, err := bundle.OpenDir(cfg.Paths.Bundles)
	if err != nil {
		return nil, fmt.Errorf("opening bundle directory: %w", err)
	}
	return &Workspace{Config: cfg, Store: st, Log: log, Bundles: dir}, nil
}

// LoadIdentityChain reads an identity chain file: canonical CBOR of
// the revisions ordered head first.
func LoadIdentityChain(path string) ([]metadata.Signed[metadata.Identity], error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity chain: %w", err)
	}
	var chain []metadata.Signed[metadata.Identity]
	if err := codec.Unmarshal(data, &chain); err != nil {
		return nil, fmt.Errorf("decoding identity chain %s: %w", path, err)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("identity chain %s is empty", path)
	}
	return chain, nil
}

// SaveIdentityChain writes an identity chain file, head first.
func SaveIdentityChain(path string, chain []metadata.Signed[metadata.Identity]) error {
	data, err := codec.Marshal(chain)
	if err != nil {
		return fmt.Errorf("encoding identity chain: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing identity chain: %w", err)
	}
	return nil
}

// Signer opens the signing key named by the identity configuration.
// When UseAgent is set and SSH_AUTH_SOCK points at an agent, the
// chain's head-revision keys are tried against the agent first; on a
// miss the key file is loaded directly, prompting on stderr for a
// passphrase when the file is encrypted.
//
// chain may be nil when the caller has no identity chain yet (id
// init); agent signing then requires the key file to name the public
// key, so the file path is used directly.
func Signer(ctx context.Context, identityConfig config.IdentityConfig, chain []metadata.Signed[metadata.Identity]) (sign.Signer, error) {
	if identityConfig.UseAgent && len(chain) > 0 {
		if socket := os.Getenv("SSH_AUTH_SOCK"); socket != "" {
			for _, key := range chain[0].Document.Keys {
				agent, err := sign.DialAgent(socket, key)
				if err == nil {
					return agent, nil
				}
			}
		}
	}
	if identityConfig.Key == "" {
		return nil, errors.New("no signing key configured (set identity.key or load one into the ssh-agent)")
	}
	signer, err := sign.LoadPrivateKey(identityConfig.Key, nil)
	if errors.Is(err, sign.ErrPassphraseRequired) {
		passphrase, promptErr := promptPassphrase(identityConfig.Key)
		if promptErr != nil {
			return nil, promptErr
		}
		defer passphrase.Close()
		signer, err = sign.LoadPrivateKey(identityConfig.Key, passphrase)
	}
	if err != nil {
		return nil, err
	}
	return signer, nil
}

func promptPassphrase(keyPath string) (*secret.Buffer, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, fmt.Errorf("key %s is passphrase-protected and stdin is not a terminal", keyPath)
	}
	fmt.Fprintf(os.Stderr, "Enter passphrase for %s: ", keyPath)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	defer secret.Zero(raw)
	return secret.NewFromBytes(raw)
}
