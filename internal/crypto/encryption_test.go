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

package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisabledReturnsNilEncryptor(t *testing.T) {
	e, err := New(Config{Enabled: false})
	require.NoError(t, err)
	require.Nil(t, e)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	e, err := New(Config{Enabled: true, Passphrase: "correct horse battery staple"})
	require.NoError(t, err)
	require.NotNil(t, e)

	ciphertext, err := e.Encrypt([]byte("hello driftdb"))
	require.NoError(t, err)
	require.NotEqual(t, "hello driftdb", string(ciphertext))

	plaintext, err := e.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "hello driftdb", string(plaintext))
}

func TestDecryptFailsWithWrongKey(t *testing.T) {
	e1, _ := New(Config{Enabled: true, Passphrase: "key one"})
	e2, _ := New(Config{Enabled: true, Passphrase: "key two"})

	ciphertext, err := e1.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = e2.Decrypt(ciphertext)
	require.Error(t, err)
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New(Config{Enabled: true, Key: []byte("too-short")})
	require.Error(t, err)
}
