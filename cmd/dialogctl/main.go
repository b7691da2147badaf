package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dialogctl",
	Short: "dialogctl - flow tooling for the convo dialog engine",
	Long: `dialogctl validates flow directories, simulates conversations against
them and pushes them to the flow store used by the server.

Flow directories hold *.flow.json, *.flow.yaml or *.flow.yml files. The flow
name is the file path relative to the directory.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(pushCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
