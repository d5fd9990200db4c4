package unbg

import (
	"math"
	"strings"

	"github.com/ardanlabs/unbg/sdk/errs"
	"github.com/ardanlabs/unbg/sdk/tools/models"
)

// Policy bounds which model may run for a request.
type Policy struct {
	MaxInferencePixels int
	MaxLatencyMs       int
	AllowRMBG20        bool
}

// DefaultPolicy returns the policy used when the caller supplies none.
func DefaultPolicy() Policy {
	return Policy{
		MaxInferencePixels: 2_000_000,
		MaxLatencyMs:       1_500,
		AllowRMBG20:        true,
	}
}

// ResolveModel picks the concrete model for the request. Auto selects
// rmbg-2.0 when the policy allows it and the image fits the pixel budget,
// otherwise rmbg-1.4.
func ResolveModel(req Request, policy Policy) (ModelKind, error) {
	pixels := int64(req.Width) * int64(req.Height)

	switch req.Model {
	case ModelRMBG20:
		if !policy.AllowRMBG20 {
			return 0, errs.Newf(errs.Configuration, "resolve-model: rmbg-2.0 is disabled by runtime policy")
		}
		return ModelRMBG20, nil

	case ModelRMBG14:
		return ModelRMBG14, nil
	}

	if policy.AllowRMBG20 && pixels <= int64(policy.MaxInferencePixels) {
		return ModelRMBG20, nil
	}

	return ModelRMBG14, nil
}

// ClampToMaxPixels scales the size down, keeping the aspect ratio, until it
// fits within maxPixels. Sizes that already fit are returned unchanged.
func ClampToMaxPixels(width int, height int, maxPixels int) (int, int) {
	if width <= 0 || height <= 0 || int64(width)*int64(height) <= int64(maxPixels) {
		return width, height
	}

	aspect := float64(width) / float64(height)
	newHeight := int(math.Max(math.Sqrt(float64(maxPixels)/aspect), 1))
	newWidth := int(math.Max(float64(newHeight)*aspect, 1))

	return newWidth, newHeight
}

// =============================================================================

// RuntimeConfig carries the string form of the request options as adapters
// receive them.
type RuntimeConfig struct {
	Model     string
	Variant   string
	Execution string
	GPU       string
	Benchmark bool
	Root      string
}

// DefaultRuntimeConfig returns the defaults applied to empty fields.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Model:     "auto",
		Variant:   "fp16",
		Execution: "auto",
		GPU:       "auto",
		Benchmark: true,
	}
}

// ResolveRuntimeConfig fills the empty string fields from the defaults.
// Benchmark and Root are taken as given.
func ResolveRuntimeConfig(overrides RuntimeConfig) RuntimeConfig {
	cfg := DefaultRuntimeConfig()

	if strings.TrimSpace(overrides.Model) != "" {
		cfg.Model = overrides.Model
	}

	if strings.TrimSpace(overrides.Variant) != "" {
		cfg.Variant = overrides.Variant
	}

	if strings.TrimSpace(overrides.Execution) != "" {
		cfg.Execution = overrides.Execution
	}

	if strings.TrimSpace(overrides.GPU) != "" {
		cfg.GPU = overrides.GPU
	}

	cfg.Benchmark = overrides.Benchmark
	cfg.Root = overrides.Root

	return cfg
}

// Request parses the configuration into a request without image data.
func (cfg RuntimeConfig) Request() (Request, error) {
	kind, err := ParseModelKind(cfg.Model)
	if err != nil {
		return Request{}, err
	}

	variant, err := models.ParseVariant(cfg.Variant)
	if err != nil {
		return Request{}, err
	}

	mode, err := ParseExecutionMode(cfg.Execution)
	if err != nil {
		return Request{}, err
	}

	gpu, err := ParseGPUPreference(cfg.GPU)
	if err != nil {
		return Request{}, err
	}

	req := Request{
		Model:     kind,
		Variant:   variant,
		Mode:      mode,
		GPU:       gpu,
		Benchmark: cfg.Benchmark,
		EmitMask:  true,
		Root:      cfg.Root,
	}

	return req, nil
}
