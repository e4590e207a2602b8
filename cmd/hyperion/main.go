// hyperion: voice and text assistant server.
//
// Usage:
//
//	hyperion [serve] [--port 9999] [--name Hyperion] [--model gpt-4o-mini]
//	hyperion version
//
// Settings come from the environment (and an optional .env file); flags
// override them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "hyperion",
	Short:         "Voice and text assistant server",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "hyperion", version)
	},
}

func init() {
	addServeFlags(rootCmd)
	addServeFlags(serveCmd)
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}
