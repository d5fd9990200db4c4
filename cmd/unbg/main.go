package main

import (
	"fmt"
	"os"

	"github.com/ardanlabs/unbg/cmd/unbg/config"
	"github.com/ardanlabs/unbg/cmd/unbg/models"
	"github.com/ardanlabs/unbg/cmd/unbg/run"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "unbg",
	Short:   "Local background removal models",
	Long:    "Install, verify and run the RMBG background removal models locally, picking the fastest hardware path the machine offers.",
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	config.AddLogFlags(rootCmd)

	rootCmd.AddCommand(models.Cmd)
	rootCmd.AddCommand(run.Cmd)
}
