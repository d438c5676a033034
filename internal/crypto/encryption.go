/*
 * Copyright (c) 2026 driftdb Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package crypto provides optional AES-256-GCM encryption at rest for
driftdb's flush files and key/value snapshots. It is off by default;
spec.md is silent on at-rest encryption, so this is a supplement rather
than a contractual part of the wire or disk format.
*/
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Config configures at-rest encryption.
type Config struct {
	// Enabled turns encryption on for this process.
	Enabled bool

	// Key is a 32-byte AES-256 key. If empty and Passphrase is set, the
	// key is derived from the passphrase.
	Key []byte

	// Passphrase derives the key via PBKDF2-SHA256 when Key is not set.
	Passphrase string

	// Salt is used for key derivation. DefaultSalt is used if empty; an
	// operator-supplied salt is recommended for production use.
	Salt []byte
}

// DefaultSalt is used when no salt is configured.
var DefaultSalt = []byte("driftdb-default-salt-v1")

// KeyDerivationIterations is the PBKDF2 iteration count.
const KeyDerivationIterations = 100000

// Encryptor encrypts and decrypts flush-file and kv-snapshot bytes.
type Encryptor struct {
	gcm cipher.AEAD
}

// New builds an Encryptor from cfg. Returns (nil, nil) when encryption is
// disabled, so callers can treat a nil *Encryptor as "write plaintext."
func New(cfg Config) (*Encryptor, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	key := cfg.Key
	if len(key) == 0 && cfg.Passphrase != "" {
		salt := cfg.Salt
		if len(salt) == 0 {
			salt = DefaultSalt
		}
		key = pbkdf2.Key([]byte(cfg.Passphrase), salt, KeyDerivationIterations, 32, sha256.New)
	}
	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes (256 bits)")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Encryptor{gcm: gcm}, nil
}

// Encrypt seals plaintext with a fresh random nonce, prepended to the
// returned ciphertext.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < e.gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce := ciphertext[:e.gcm.NonceSize()]
	body := ciphertext[e.gcm.NonceSize():]
	return e.gcm.Open(nil, nonce, body, nil)
}
