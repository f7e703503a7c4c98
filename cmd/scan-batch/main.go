// Command scan-batch writes HTCondor workflows for batches of omega scans.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/scanbatch/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// ExitErrors have already been rendered by the command.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
