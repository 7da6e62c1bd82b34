// Command vtkindex maintains the property-set search index.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/vtkindex/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "vtkindex:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
