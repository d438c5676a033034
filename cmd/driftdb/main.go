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
Package main is the entry point for the driftdb server: a single
WebSocket endpoint in front of an in-memory, time-indexed document
store, with optional at-rest persistence and encryption.
*/
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"driftdb/internal/config"
	"driftdb/internal/crypto"
	"driftdb/internal/keys"
	"driftdb/internal/logging"
	"driftdb/internal/server"
	"driftdb/pkg/cli"

	"github.com/spf13/pflag"
)

var log = logging.NewLogger("main")

func main() {
	fs := pflag.NewFlagSet("driftdb", pflag.ContinueOnError)
	config.Flags(fs)
	showVersion := fs.Bool("version", false, "show version information")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "driftdb: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println("driftdb version 0.1.0")
		os.Exit(0)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "driftdb: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "driftdb: %v\n", err)
		os.Exit(1)
	}

	logging.Configure(logging.Config{
		Level:    logging.ParseLevel(cfg.LogLevel),
		Output:   os.Stdout,
		JSONMode: cfg.LogJSON,
	})

	encryptor, err := crypto.New(crypto.Config{
		Enabled:    cfg.Encrypt,
		Passphrase: cfg.EncryptionPassphrase,
	})
	if err != nil {
		log.Error("failed to initialize encryption", "error", err)
		os.Exit(1)
	}

	var registry *keys.Registry
	if cfg.DataDir != "" {
		registry = keys.LoadRegistry(keyRegistryPath(cfg.DataDir), cfg.SecretKey)
	} else {
		registry = keys.NewRegistry(cfg.SecretKey)
	}

	srv := server.New(server.Config{
		ListenAddr:    cfg.ListenAddr,
		DataDir:       cfg.DataDir,
		FlushInterval: time.Duration(cfg.FlushIntervalSeconds) * time.Second,
		Registry:      registry,
		Encryptor:     encryptor,
	})

	if err := srv.LoadAll(); err != nil {
		log.Error("failed to load persisted collections", "error", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		log.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	cli.PrintSuccess("driftdb is ready")
	fmt.Println()
	cli.KeyValue("Listen", cfg.ListenAddr, 16)
	if cfg.DataDir != "" {
		cli.KeyValue("Data directory", cfg.DataDir, 16)
	} else {
		cli.KeyValue("Data directory", "(in-memory only)", 16)
	}
	cli.KeyValue("Flush interval", fmt.Sprintf("%ds", cfg.FlushIntervalSeconds), 16)
	if cfg.Encrypt {
		cli.KeyValue("Encryption", "enabled", 16)
	}
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())
	cli.PrintInfo("shutting down driftdb...")

	if err := srv.Stop(); err != nil {
		log.Error("error during shutdown", "error", err)
	}
	cli.PrintSuccess("driftdb stopped gracefully")
}

func keyRegistryPath(dataDir string) string {
	return filepath.Join(dataDir, "config", "api_keys.json")
}

