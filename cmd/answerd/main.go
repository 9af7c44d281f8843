package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "answerd",
		Short: "Question answering service for the tutorial site",
	}

	root.AddCommand(serveCMD(), migrateCMD(), backfillCMD(), versionCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
