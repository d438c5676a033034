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

package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigRequiresSecretKey(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "secret_key")
}

func TestLoadAppliesFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse([]string{"--secret-key", "topsecret", "--flush-interval", "5"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	require.Equal(t, "topsecret", cfg.SecretKey)
	require.Equal(t, 5, cfg.FlushIntervalSeconds)
	require.NoError(t, cfg.Validate())
}

func TestLoadDefaultFlushInterval(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse([]string{"--secret-key", "k"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	require.Equal(t, 15, cfg.FlushIntervalSeconds)
}

func TestValidateRejectsEncryptWithoutPassphrase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SecretKey = "k"
	cfg.Encrypt = true
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "passphrase")
}
