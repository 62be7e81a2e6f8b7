package main

import (
	"os"

	"github.com/quantumauth-io/quantum-dapp-core/cmd/dapp-core/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
