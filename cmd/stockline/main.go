package main

import (
	"fmt"
	"os"

	"github.com/roach88/stockline/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "stockline:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
