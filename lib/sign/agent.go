// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package sign

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// AgentSigner signs through a running ssh-agent, so the private key
// never enters this process. Close releases the agent connection.
type AgentSigner struct {
	conn   net.Conn
	client agent.ExtendedAgent
	public VerificationKey
}

// DialAgent connects to the ssh-agent at socketPath (or $SSH_AUTH_SOCK
// when empty) and binds to the agent-held key matching public. Fails
// if no agent is reachable or the agent does not hold the key.
func DialAgent(socketPath string, public VerificationKey) (*AgentSigner, error) {
	if socketPath == "" {
		socketPath = os.Getenv("SSH_AUTH_SOCK")
	}
	if socketPath == "" {
		return nil, fmt.Errorf("no ssh-agent socket: SSH_AUTH_SOCK is unset")
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to ssh-agent at %s: %w", socketPath, err)
	}

	client := agent.NewClient(conn)
	held, err := client.List()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("listing ssh-agent keys: %w", err)
	}

	wire := public.key.Marshal()
	for _, candidate := range held {
		if bytes.Equal(candidate.Marshal(), wire) {
			return &AgentSigner{conn: conn, client: client, public: public}, nil
		}
	}

	conn.Close()
	return nil, fmt.Errorf("ssh-agent does not hold key %s (%d keys loaded)", public.ID(), len(held))
}

// Public returns the verification key the signer is bound to.
func (s *AgentSigner) Public() VerificationKey {
	return s.public
}

// Sign asks the agent to sign the payload. RSA keys request
// rsa-sha2-256; other algorithms use their only form.
func (s *AgentSigner) Sign(ctx context.Context, payload []byte) (Signature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var flags agent.SignatureFlags
	if s.public.key.Type() == ssh.KeyAlgoRSA {
		flags = agent.SignatureFlagRsaSha256
	}

	wire, err := s.client.SignWithFlags(s.public.key, payload, flags)
	if err != nil {
		return nil, fmt.Errorf("ssh-agent signing with key %s: %w", s.public.ID(), err)
	}
	return Signature(ssh.Marshal(wire)), nil
}

// Close releases the agent connection.
func (s *AgentSigner) Close() error {
	return s.conn.Close()
}
