// Package update provides the models update command code.
package update

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
	Use:   "update",
	Short: "Update models to the default revision",
	Long: `Update models to the default revision, every known model when none is named

Environment Variables:
      UNBG_MODELS        (default: $HOME/.unbg/models)       The path to the models directory
      UNBG_HUB_ENDPOINT  (default: https://huggingface.co)   The artifact source
      HF_TOKEN                                               Credential for gated models`,
	Run: main,
}

func init() {
	Cmd.Flags().StringSlice("model", nil, "Model to update: rmbg-1.4 (fast), rmbg-2.0 (quality), all")
	Cmd.Flags().String("root", "", "The path to the models directory")
	Cmd.Flags().String("token-env", defaults.TokenEnv(""), "Environment variable holding the credential")
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

	names := v.GetStringSlice("model")

	report, err := ins.Install(ctx, installer.Request{
		Root:     v.GetString("root"),
		All:      len(names) == 0,
		Models:   names,
		TokenEnv: v.GetString("token-env"),
		Variant:  variant,
	})

	if err != nil {
		return err
	}

	return config.Print(os.Stdout, v.GetString("format"), report)
}
