package main

import (
	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/krewdev/bluetrap/internal/cmd"
)

// Set via ldflags:
// go build -ldflags="-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-01-01"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(); err != nil {
		cmd.ExitWithCode(nil, foundry.ExitFailure, "Command execution failed", err)
	}
}
