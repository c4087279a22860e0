// Package main is the askmaven dashboard backend executable.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "askmaven: %v\n", err)
		os.Exit(1)
	}
}
