// Command companion is the terminal client of the campus companion.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sakif/campus-companion/internal/cli"
)

func main() {
	root, release := cli.NewRootCommand(cli.Open)
	err := root.ExecuteContext(context.Background())
	release()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", cli.Describe(err))
		os.Exit(1)
	}
}
