// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// warden-verify replays an audit ledger's hash chain and reports
// whether any record was retroactively edited or deleted.
//
// Usage:
//
//	warden-verify [--ledger <path>]
//
// Without --ledger, the ledger location is derived from the config
// named by WARDEN_CONFIG. Exits 0 when the chain holds, 1 on a broken
// chain or any other failure.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/warden-foundation/warden/audit"
	"github.com/warden-foundation/warden/lib/config"
	"github.com/warden-foundation/warden/lib/version"
)

func main() {
	flags := pflag.NewFlagSet("warden-verify", pflag.ContinueOnError)
	ledgerPath := flags.String("ledger", "", "audit ledger path (default: derived from WARDEN_CONFIG)")
	configPath := flags.String("config", "", "config file path (overrides WARDEN_CONFIG)")
	showVersion := flags.BoolP("version", "v", false, "show version")
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}
	if *showVersion {
		fmt.Printf("warden-verify %s\n", version.Info())
		return
	}

	path := *ledgerPath
	if path == "" {
		var cfg *config.Config
		var err error
		if *configPath != "" {
			cfg, err = config.LoadFile(*configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		path = audit.Layout{Base: cfg.Paths.Root}.AuditLedger()
	}

	count, err := audit.VerifyFile(path)
	if err != nil {
		var chainErr *audit.ChainError
		if errors.As(err, &chainErr) {
			fmt.Fprintf(os.Stderr, "TAMPERED: %v\n", chainErr)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Printf("ok: %d records, chain intact\n", count)
}
