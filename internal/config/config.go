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
Package config resolves driftdb's server configuration from, in order of
increasing priority: built-in defaults, a config file, environment
variables (DRIFTDB_*), and command-line flags.
*/
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Environment variable names, all under the DRIFTDB_ prefix that
// viper.AutomaticEnv below binds automatically.
const (
	EnvSecretKey      = "DRIFTDB_SECRET_KEY"
	EnvDataDir        = "DRIFTDB_DATA_DIR"
	EnvFlushInterval  = "DRIFTDB_FLUSH_INTERVAL"
	EnvListenAddr     = "DRIFTDB_LISTEN_ADDR"
	EnvLogLevel       = "DRIFTDB_LOG_LEVEL"
	EnvLogJSON        = "DRIFTDB_LOG_JSON"
	EnvEncrypt        = "DRIFTDB_ENCRYPT"
	EnvEncryptionKey  = "DRIFTDB_ENCRYPTION_PASSPHRASE"
	EnvConfigFile     = "DRIFTDB_CONFIG_FILE"
)

// Config holds every value driftdb's server needs to start.
type Config struct {
	// SecretKey becomes the registry's master API key. Required.
	SecretKey string `mapstructure:"secret_key"`

	// DataDir enables persistence when non-empty. Empty means in-memory
	// only, matching spec.md's optional --data flag.
	DataDir string `mapstructure:"data_dir"`

	// FlushIntervalSeconds is the ticker period between automatic
	// flushes of dirty records to disk.
	FlushIntervalSeconds int `mapstructure:"flush_interval"`

	// ListenAddr is the address the WebSocket server binds to.
	ListenAddr string `mapstructure:"listen_addr"`

	// LogLevel and LogJSON configure internal/logging's global output.
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`

	// Encrypt and EncryptionPassphrase enable the internal/crypto
	// at-rest encryption supplement. Not part of spec.md; see
	// SPEC_FULL.md's DOMAIN STACK section.
	Encrypt              bool   `mapstructure:"encrypt"`
	EncryptionPassphrase string `mapstructure:"-"`

	// ConfigFile records which file, if any, was loaded.
	ConfigFile string `mapstructure:"-"`
}

// DefaultConfig returns the built-in defaults, matching spec.md §6's
// stated default flush interval of 15 seconds.
func DefaultConfig() *Config {
	return &Config{
		SecretKey:            "",
		DataDir:              "",
		FlushIntervalSeconds: 15,
		ListenAddr:           ":7070",
		LogLevel:             "info",
		LogJSON:              false,
		Encrypt:              false,
		EncryptionPassphrase: "",
	}
}

// Validate checks that the configuration can start a server.
func (c *Config) Validate() error {
	var errs []string

	if c.SecretKey == "" {
		errs = append(errs, "secret_key (--secret-key/-s) is required")
	}
	if c.FlushIntervalSeconds <= 0 {
		errs = append(errs, fmt.Sprintf("flush_interval must be positive, got %d", c.FlushIntervalSeconds))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log_level: %s", c.LogLevel))
	}
	if c.Encrypt && c.EncryptionPassphrase == "" {
		errs = append(errs, "encrypt is enabled but no passphrase was provided (DRIFTDB_ENCRYPTION_PASSPHRASE)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Flags registers driftdb's server flags on fs; Load reads them back into
// a Config once fs has been parsed. The flag names and shorthands mirror
// spec.md §6 exactly.
func Flags(fs *pflag.FlagSet) {
	fs.StringP("secret-key", "s", "", "master API key (required)")
	fs.StringP("data", "d", "", "data directory; enables persistence when set")
	fs.IntP("flush-interval", "f", 15, "flush interval in seconds")
	fs.String("listen", ":7070", "address to listen on")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.Bool("log-json", false, "emit logs as JSON")
	fs.Bool("encrypt", false, "enable at-rest encryption of persisted files")
	fs.String("config", "", "path to a config file")
}

// Load resolves a Config from defaults, an optional config file, the
// DRIFTDB_* environment variables, and fs's parsed flags, in that order
// of increasing priority. fs must already have been parsed.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("driftdb")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("secret_key", "")
	v.SetDefault("data_dir", "")
	v.SetDefault("flush_interval", 15)
	v.SetDefault("listen_addr", ":7070")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("encrypt", false)

	configFile, _ := fs.GetString("config")
	if configFile == "" {
		configFile = v.GetString("config_file")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bind := map[string]string{
		"secret_key":     "secret-key",
		"data_dir":       "data",
		"flush_interval": "flush-interval",
		"listen_addr":    "listen",
		"log_level":      "log-level",
		"log_json":       "log-json",
		"encrypt":        "encrypt",
	}
	for key, flagName := range bind {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flagName, err)
		}
	}

	cfg := &Config{
		SecretKey:            v.GetString("secret_key"),
		DataDir:              v.GetString("data_dir"),
		FlushIntervalSeconds: v.GetInt("flush_interval"),
		ListenAddr:           v.GetString("listen_addr"),
		LogLevel:             v.GetString("log_level"),
		LogJSON:              v.GetBool("log_json"),
		Encrypt:              v.GetBool("encrypt"),
		EncryptionPassphrase: os.Getenv(EnvEncryptionKey),
		ConfigFile:           configFile,
	}
	return cfg, nil
}
