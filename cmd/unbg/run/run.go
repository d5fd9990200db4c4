// Package run provides the run command code.
package run

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/ardanlabs/unbg/cmd/unbg/config"
	"github.com/ardanlabs/unbg/foundation/logger"
	"github.com/ardanlabs/unbg/sdk/tools/defaults"
	"github.com/ardanlabs/unbg/sdk/tools/installer"
	"github.com/ardanlabs/unbg/sdk/tools/libs"
	"github.com/ardanlabs/unbg/sdk/unbg"
	"github.com/ardanlabs/unbg/sdk/unbg/imaging"
	"github.com/ardanlabs/unbg/sdk/unbg/ort"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Cmd = &cobra.Command{
	Use:   "run <IMAGE>",
	Short: "Remove the background from an image",
	Long: `Remove the background from an image, installing the required model first when missing

Environment Variables:
      UNBG_MODELS             (default: $HOME/.unbg/models)  The path to the models directory
      ORT_DYLIB_PATH          (default: system search path)  The onnxruntime shared library
      UNBG_ALLOW_PLACEHOLDER  (default: false)               Return a brightness mask when no model can run
      HF_TOKEN                                               Credential for gated models`,
	Args: cobra.ExactArgs(1),
	Run:  main,
}

func init() {
	Cmd.Flags().StringP("cutout", "o", "", "Cutout output path, must be a .png (default: <image>_cutout.png)")
	Cmd.Flags().StringP("mask", "m", "", "Mask output path")
	Cmd.Flags().StringP("model", "M", "fast", "Model: auto, rmbg-1.4 (fast), rmbg-2.0 (quality)")
	Cmd.Flags().StringP("variant", "v", "fp16", "Weights precision: fp16, fp32, quantized, auto")
	Cmd.Flags().StringP("execution", "e", "gpu", "Execution mode: auto, gpu, cpu")
	Cmd.Flags().StringP("gpu", "g", "auto", "Gpu backend: auto, directml, cuda, coreml, metal")
	Cmd.Flags().BoolP("benchmark", "b", false, "Benchmark every execution path in auto mode")
	Cmd.Flags().IntP("max-pixels", "p", unbg.DefaultPolicy().MaxInferencePixels, "Largest image rmbg-2.0 is picked for in auto mode")
	Cmd.Flags().BoolP("allow-rmbg20", "a", true, "Allow rmbg-2.0 to run")
	Cmd.Flags().Bool("inference-only", false, "Run the model without writing any output")
	Cmd.Flags().StringP("root", "d", "", "The path to the models directory")
	Cmd.Flags().String("token-env", defaults.TokenEnv(""), "Environment variable holding the credential")
	Cmd.Flags().Int("max-sessions", 0, "Bound on warm sessions, 0 for no bound")
	config.AddFormatFlag(Cmd)
}

func main(cmd *cobra.Command, args []string) {
	if err := run(cmd, args); err != nil {
		fmt.Println("ERROR:", err)
		os.Exit(1)
	}
}

// output is what the command prints for an image.
type output struct {
	Input        string `json:"input" yaml:"input"`
	unbg.Result  `yaml:",inline"`
	OutputMask   string `json:"outputMask,omitempty" yaml:"outputMask,omitempty"`
	OutputCutout string `json:"outputCutout,omitempty" yaml:"outputCutout,omitempty"`
}

func run(cmd *cobra.Command, args []string) error {
	v, err := config.Load(cmd)
	if err != nil {
		return err
	}

	log, err := config.NewLogger(v)
	if err != nil {
		return err
	}
	defer log.Sync()

	input := args[0]

	outs, err := resolveOutputs(input, v.GetString("cutout"), v.GetString("mask"), v.GetBool("inference-only"))
	if err != nil {
		return err
	}

	rc := unbg.ResolveRuntimeConfig(unbg.RuntimeConfig{
		Model:     v.GetString("model"),
		Variant:   v.GetString("variant"),
		Execution: v.GetString("execution"),
		GPU:       v.GetString("gpu"),
		Benchmark: v.GetBool("benchmark"),
		Root:      v.GetString("root"),
	})

	req, err := rc.Request()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := ensureModel(ctx, log, v, req); err != nil {
		return err
	}

	source, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("run: reading input: %w", err)
	}

	img, err := imaging.Decode(source)
	if err != nil {
		return fmt.Errorf("run: decoding input %s: %w", input, err)
	}

	req.ImageBytes = source
	req.ImagePath = input
	req.Width = img.Bounds().Dx()
	req.Height = img.Bounds().Dy()
	req.EmitMask = !v.GetBool("inference-only")

	policy := unbg.DefaultPolicy()
	policy.MaxInferencePixels = v.GetInt("max-pixels")
	policy.AllowRMBG20 = v.GetBool("allow-rmbg20")

	libPath := libs.New().Find(ctx, log.Info)

	engine := ort.New(ort.Config{Log: log.Debug, LibraryPath: libPath})
	defer engine.Shutdown()

	backend, err := unbg.New(unbg.Config{
		Log:         log.Info,
		Engine:      engine,
		MaxSessions: v.GetInt("max-sessions"),
		LibraryPath: libPath,
	})

	if err != nil {
		return err
	}
	defer backend.Close()

	res, err := backend.Run(ctx, req, policy)
	if err != nil {
		return err
	}

	if err := writeOutputs(outs, img, res.MaskPNG); err != nil {
		return err
	}

	out := output{
		Input:        input,
		Result:       res,
		OutputMask:   outs.mask,
		OutputCutout: outs.cutout,
	}

	return config.Print(os.Stdout, v.GetString("format"), out)
}

// ensureModel installs the default revision of the model the request needs
// when it is missing. Auto requests need rmbg-1.4.
func ensureModel(ctx context.Context, log *logger.Logger, v *viper.Viper, req unbg.Request) error {
	m, ok := req.Model.Model()
	if !ok {
		m, _ = unbg.ModelRMBG14.Model()
	}

	ins := installer.New(installer.Config{
		Log:      log.Info,
		Endpoint: defaults.HubEndpoint(""),
	})

	if _, err := ins.Ensure(ctx, req.Root, v.GetString("token-env"), req.Variant, m); err != nil {
		return err
	}

	return nil
}

// =============================================================================

type outputs struct {
	cutout string
	mask   string
}

// resolveOutputs works out where the cutout and the mask are written. The
// cutout defaults to <stem>_cutout.png next to the input unless only a mask
// was asked for. Nothing is written in inference only mode.
func resolveOutputs(input string, cutout string, mask string, inferenceOnly bool) (outputs, error) {
	if inferenceOnly {
		return outputs{}, nil
	}

	switch {
	case cutout != "":
		if !strings.EqualFold(filepath.Ext(cutout), ".png") {
			return outputs{}, fmt.Errorf("resolve-outputs: output cutout must be a .png file (received: '%s')", cutout)
		}

	case mask == "":
		base := filepath.Base(input)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		if stem == "" || base == "." || base == string(filepath.Separator) {
			return outputs{}, fmt.Errorf("resolve-outputs: input file must include a valid file name")
		}

		cutout = filepath.Join(filepath.Dir(input), stem+"_cutout.png")
	}

	return outputs{cutout: cutout, mask: mask}, nil
}

func writeOutputs(outs outputs, img image.Image, maskPNG []byte) error {
	if outs.mask != "" {
		if err := os.MkdirAll(filepath.Dir(outs.mask), 0755); err != nil {
			return fmt.Errorf("write-outputs: %w", err)
		}

		if err := os.WriteFile(outs.mask, maskPNG, 0644); err != nil {
			return fmt.Errorf("write-outputs: %w", err)
		}
	}

	if outs.cutout == "" {
		return nil
	}

	mask, err := png.Decode(bytes.NewReader(maskPNG))
	if err != nil {
		return fmt.Errorf("write-outputs: decoding mask: %w", err)
	}

	if mask.Bounds().Size() != img.Bounds().Size() {
		return fmt.Errorf("write-outputs: mask dimensions do not match source dimensions")
	}

	data, err := imaging.EncodePNG(imaging.Cutout(img, mask))
	if err != nil {
		return fmt.Errorf("write-outputs: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outs.cutout), 0755); err != nil {
		return fmt.Errorf("write-outputs: %w", err)
	}

	if err := os.WriteFile(outs.cutout, data, 0644); err != nil {
		return fmt.Errorf("write-outputs: %w", err)
	}

	return nil
}
