// Command valetsync drives valet sessions against the coordination store.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/valetsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
