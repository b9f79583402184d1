package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "pointledger",
		Short:   "Point credit ledger for metered assistant usage",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newSchedulerCmd(),
		newSweepCmd(),
		newMigrateCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
