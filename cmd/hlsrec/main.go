// Package main is the entry point for the hlsrec application.
package main

import (
	"os"

	"github.com/jmylchreest/hlsrec/cmd/hlsrec/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
