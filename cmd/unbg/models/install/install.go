// Package install provides the models install command code.
package install

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/ardanlabs/unbg/cmd/unbg/config"
	"github.com/ardanlabs/unbg/sdk/tools/defaults"
	"github.com/ardanlabs/unbg/sdk/tools/installer"
	"github.com/ardanlabs/unbg/sdk/tools/models"
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "install",
	Short: "Install models",
	Long: `Install models, downloading any revision that is not on disk yet

Environment Variables:
      UNBG_MODELS        (default: $HOME/.unbg/models)       The path to the models directory
      UNBG_HUB_ENDPOINT  (default: https://huggingface.co)   The artifact source
      HF_TOKEN                                               Credential for gated models`,
	Run: main,
}

func init() {
	Cmd.Flags().Bool("all", false, "Install every known model")
	Cmd.Flags().StringSlice("model", nil, "Model to install: rmbg-1.4 (fast), rmbg-2.0 (quality), all")
	Cmd.Flags().String("root", "", "The path to the models directory")
	Cmd.Flags().String("token-env", defaults.TokenEnv(""), "Environment variable holding the credential")
	Cmd.Flags().String("revision-rmbg14", models.DefaultRevision, "Revision to install for rmbg-1.4")
	Cmd.Flags().String("revision-rmbg20", models.DefaultRevision, "Revision to install for rmbg-2.0")
	Cmd.Flags().Bool("verify-only", false, "Hash existing files without writing the lockfile")
	Cmd.Flags().String("variant", "fp16", "Weights precision: fp16, fp32, quantized, auto")
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

	log, err := config.NewLogger(v)
	if err != nil {
		return err
	}
	defer log.Sync()

	variant, err := models.ParseVariant(v.GetString("variant"))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ins := installer.New(installer.Config{
		Log:      log.Info,
		Endpoint: defaults.HubEndpoint(""),
	})

	report, err := ins.Install(ctx, installer.Request{
		Root:     v.GetString("root"),
		All:      v.GetBool("all"),
		Models:   v.GetStringSlice("model"),
		TokenEnv: v.GetString("token-env"),
		Revisions: map[models.Model]string{
			models.RMBG14: v.GetString("revision-rmbg14"),
			models.RMBG20: v.GetString("revision-rmbg20"),
		},
		VerifyOnly: v.GetBool("verify-only"),
		Variant:    variant,
	})

	if err != nil {
		return err
	}

	return config.Print(os.Stdout, v.GetString("format"), report)
}
