// Package main provides the entry point for the suggest CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/suggest/cmd/suggest/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
