// Package unbg selects the hardware execution path for the background
// removal models, keeps sessions warm across calls and remembers the
// winning path for later runs.
package unbg

import (
	"context"
	"fmt"
	"strings"

	"github.com/ardanlabs/unbg/sdk/errs"
	"github.com/ardanlabs/unbg/sdk/tools/models"
)

// Logger represents a logger for capturing events.
type Logger func(ctx context.Context, msg string, args ...any)

// DiscardLogger drops every event.
func DiscardLogger(ctx context.Context, msg string, args ...any) {}

// FmtLogger writes events to stdout.
func FmtLogger(ctx context.Context, msg string, args ...any) {
	var b strings.Builder
	b.WriteString(msg)

	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v[%v]", args[i], args[i+1])
	}

	fmt.Println(b.String())
}

// =============================================================================

// ModelKind represents the model a caller asks for.
type ModelKind int

// Set of model kinds.
const (
	ModelAuto ModelKind = iota
	ModelRMBG14
	ModelRMBG20
)

// ParseModelKind converts a name into a model kind.
func ParseModelKind(name string) (ModelKind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" || n == "auto" {
		return ModelAuto, nil
	}

	m, err := models.Parse(n)
	if err != nil {
		return 0, err
	}

	return KindOf(m), nil
}

// KindOf returns the kind for a known model.
func KindOf(m models.Model) ModelKind {
	switch m {
	case models.RMBG20:
		return ModelRMBG20
	default:
		return ModelRMBG14
	}
}

// Model returns the registry model for a concrete kind.
func (k ModelKind) Model() (models.Model, bool) {
	switch k {
	case ModelRMBG14:
		return models.RMBG14, true
	case ModelRMBG20:
		return models.RMBG20, true
	}

	return 0, false
}

// String implements the fmt.Stringer interface.
func (k ModelKind) String() string {
	if m, ok := k.Model(); ok {
		return m.String()
	}

	return "auto"
}

// MarshalText implements the encoding.TextMarshaler interface.
func (k ModelKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// =============================================================================

// ExecutionMode represents how the caller wants hardware chosen.
type ExecutionMode int

// Set of execution modes.
const (
	ModeAuto ExecutionMode = iota
	ModeGPU
	ModeCPU
)

var modeNames = map[ExecutionMode]string{
	ModeAuto: "auto",
	ModeGPU:  "gpu",
	ModeCPU:  "cpu",
}

// ParseExecutionMode converts a name into an execution mode.
func ParseExecutionMode(name string) (ExecutionMode, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return ModeAuto, nil
	}

	for mode, s := range modeNames {
		if s == n {
			return mode, nil
		}
	}

	return 0, errs.Newf(errs.Configuration, "parse-execution-mode: unknown execution mode %q", name)
}

// String implements the fmt.Stringer interface.
func (m ExecutionMode) String() string {
	return modeNames[m]
}

// =============================================================================

// GPUPreference represents the accelerator family the caller prefers.
type GPUPreference int

// Set of gpu preferences.
const (
	GPUAuto GPUPreference = iota
	GPUDirectML
	GPUCUDA
	GPUCoreML
	GPUMetal
)

var gpuNames = map[GPUPreference]string{
	GPUAuto:     "auto",
	GPUDirectML: "directml",
	GPUCUDA:     "cuda",
	GPUCoreML:   "coreml",
	GPUMetal:    "metal",
}

// ParseGPUPreference converts a name into a gpu preference.
func ParseGPUPreference(name string) (GPUPreference, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return GPUAuto, nil
	}

	for pref, s := range gpuNames {
		if s == n {
			return pref, nil
		}
	}

	return 0, errs.Newf(errs.Configuration, "parse-gpu-preference: unknown gpu backend %q", name)
}

// String implements the fmt.Stringer interface.
func (g GPUPreference) String() string {
	return gpuNames[g]
}

// =============================================================================

// Request describes one inference call.
type Request struct {
	Model      ModelKind
	Variant    models.Variant
	Mode       ExecutionMode
	GPU        GPUPreference
	Benchmark  bool
	EmitMask   bool
	ImageBytes []byte
	ImagePath  string
	Root       string
	Width      int
	Height     int
}

// Result describes the outcome of an inference call.
//
// HardwareFallback is set when an execution path failed before the one that
// produced the mask. PlaceholderUsed is set when no model ran and the mask
// is the brightness threshold fallback.
type Result struct {
	ModelUsed        ModelKind `json:"modelUsed" yaml:"modelUsed"`
	MaskPNG          []byte    `json:"-" yaml:"-"`
	Width            int       `json:"width" yaml:"width"`
	Height           int       `json:"height" yaml:"height"`
	ExecutionPath    string    `json:"providerSelected" yaml:"providerSelected"`
	Backend          string    `json:"backendSelected,omitempty" yaml:"backendSelected,omitempty"`
	HardwareFallback bool      `json:"fallbackUsed" yaml:"fallbackUsed"`
	PlaceholderUsed  bool      `json:"placeholderUsed" yaml:"placeholderUsed"`
}
