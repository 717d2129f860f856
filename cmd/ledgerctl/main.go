// Package main is the entry point for ledgerctl.
package main

import (
	"os"

	"github.com/example/shop-ledger/cmd/ledgerctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
