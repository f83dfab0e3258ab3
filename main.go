// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for Keygate.
//
// Usage:
//
//	go run . serve [flags]
//	./keygate serve [flags]
//
// See --help for the full command list.
package main

import (
	"os"

	"github.com/toeirei/keygate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
