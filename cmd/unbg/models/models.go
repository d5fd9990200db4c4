// Package models provides the models sub-command.
package models

import (
	"github.com/ardanlabs/unbg/cmd/unbg/models/install"
	"github.com/ardanlabs/unbg/cmd/unbg/models/list"
	"github.com/ardanlabs/unbg/cmd/unbg/models/update"
	"github.com/ardanlabs/unbg/cmd/unbg/models/verify"
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "models",
	Short: "Manage models",
	Long:  `Manage models - install, update, verify and list the installed models`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	Cmd.AddCommand(install.Cmd)
	Cmd.AddCommand(update.Cmd)
	Cmd.AddCommand(verify.Cmd)
	Cmd.AddCommand(list.Cmd)
}
