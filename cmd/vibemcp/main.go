// Package main provides the entry point for the vibemcp server.
package main

import (
	"os"

	"github.com/vibemcp/vibemcp/cmd/vibemcp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
