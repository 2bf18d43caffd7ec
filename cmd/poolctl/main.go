// Package main is the entry point for poolctl, the capacity control core's
// CLI: pool scaling and the drain/terminate queue worker.
package main

import (
	"os"

	"github.com/clustermantle/poolctl/cmd/poolctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
