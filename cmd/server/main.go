// Command server is the aegis-v3 decision core process: a long-running
// daemon that evaluates the staged pipeline on schedule and exposes a
// read-only status surface, plus operator subcommands to start, stop,
// inspect, and initialize it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "server",
		Short: "aegis-v3 decision core",
	}
	root.AddCommand(newStartCmd())
	root.AddCommand(newStopCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newInitCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
