// Package main provides the entry point for the finrag CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/finrag/cmd/finrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
