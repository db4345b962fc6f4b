// Command procflow runs process instances and queries their audit log.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/procflow/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
