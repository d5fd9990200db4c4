// Package verify provides the models verify command code.
package verify

import (
	"fmt"
	"os"

	"github.com/ardanlabs/unbg/cmd/unbg/config"
	"github.com/ardanlabs/unbg/sdk/tools/installer"
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the installed models against the lockfile",
	Long: `Verify the installed models against the lockfile, checking the size and sha256 of every file

Environment Variables:
      UNBG_MODELS  (default: $HOME/.unbg/models)  The path to the models directory`,
	Run: main,
}

func init() {
	Cmd.Flags().String("root", "", "The path to the models directory")
	config.AddFormatFlag(Cmd)
}

func main(cmd *cobra.Command, args []string) {
	if err := run(cmd); err != nil {
		fmt.Println("ERROR:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command) error {
	v, err := config.Load(cmd)
	if err != nil {
		return err
	}

	lock, err := installer.Verify(v.GetString("root"))
	if err != nil {
		return err
	}

	return config.Print(os.Stdout, v.GetString("format"), lock)
}
