// Package main is the entry point for the quill editor core.
package main

import (
	"fmt"
	"os"

	"github.com/dshills/quill/cmd/quill/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
