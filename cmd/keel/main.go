package main

import (
	"fmt"
	"os"

	"github.com/keelbuild/keel/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "keel:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
