package main

// ============================================================================
// Horde Bridge entry point. All logic lives in internal/cli.
//
// Build with an injected version:
//   go build -ldflags "-X main.version=1.2.0" -o bin/horde-bridge ./cmd/bridge
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/horde-bridge/internal/cli"
)

var version = "dev"

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	if version != "dev" {
		cli.Version = version
	}

	if err := cli.BuildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}
