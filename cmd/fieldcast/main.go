// Package main is the entry point for fieldcast.
package main

import (
	"os"

	"github.com/fieldcast/fieldcast/cmd/fieldcast/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
