// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
)

// EncryptionAge marks an object section sealed to age X25519
// recipients. The header and the record slice stay in the clear; only
// the packed payload objects are hidden.
const EncryptionAge = "age"

// encryptSection seals the framed object section to the given
// recipients (age1... public key strings). At least one recipient is
// required.
func encryptSection(plaintext []byte, recipientKeys []string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypting object section: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// decryptSection opens a sealed object section with the given
// identities. When none of the identities match a recipient the
// section stays opaque: the bool result is false and there is no
// error, because a bundle sealed to someone else is not damaged, just
// not for us.
func decryptSection(ciphertext []byte, identities []age.Identity) ([]byte, bool, error) {
	if len(identities) == 0 {
		return nil, false, nil
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identities...)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("opening age ciphertext: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("decrypting object section: %w", err)
	}
	return plaintext, true, nil
}
