// Package main is the entry point for the pulsectl CLI tool.
package main

import (
	"os"

	"github.com/vigilant-otter/pulsefeed/cmd/pulsectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
