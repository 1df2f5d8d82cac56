// Command rolodex manages an aggregated contacts database.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/rolodex/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Command failures were already reported through the output
		// formatter; flag and argument errors from cobra were not.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
