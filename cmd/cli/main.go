// Package main is the entry point for templectl.
// templectl sends source files to a templerunner service and prints the result.
package main

import (
	"os"

	"templerunner/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
