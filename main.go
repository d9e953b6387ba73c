// Package main is the entry point for the portward redirect agent.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/portward/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
