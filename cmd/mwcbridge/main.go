// Package main is the entry point for the mwcbridge CLI.
package main

import (
	"context"
	"os"

	"github.com/mrz1836/mwcbridge/internal/cli"
)

func main() {
	err := cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	os.Exit(cli.ExitCode(err))
}
