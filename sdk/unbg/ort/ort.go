// Package ort implements the inference engine on top of the onnxruntime
// shared library.
package ort

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardanlabs/unbg/sdk/errs"
	"github.com/ardanlabs/unbg/sdk/tools/defaults"
	"github.com/ardanlabs/unbg/sdk/unbg"
	onnx "github.com/yalue/onnxruntime_go"
)

// Config represents the settings for the engine.
//
// LibraryPath: Location of the onnxruntime shared library. Defaults to
// ORT_DYLIB_PATH and then the library loader's search path.
type Config struct {
	Log         unbg.Logger
	LibraryPath string
}

// Engine loads onnx models into onnxruntime sessions.
type Engine struct {
	log     unbg.Logger
	libPath string
	mu      sync.Mutex
	ready   bool
}

// New constructs an engine. The shared library is loaded on the first Load.
func New(cfg Config) *Engine {
	if cfg.Log == nil {
		cfg.Log = unbg.DiscardLogger
	}

	return &Engine{
		log:     cfg.Log,
		libPath: defaults.LibraryPath(cfg.LibraryPath),
	}
}

// Load creates a session for the model file on the execution path.
func (e *Engine) Load(modelFile string, p unbg.Provider) (unbg.Session, error) {
	if err := e.init(); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnx.GetInputOutputInfo(modelFile)
	if err != nil {
		return nil, errs.New(errs.Execution, fmt.Errorf("load: unable to read model io: %w", err))
	}

	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errs.Newf(errs.Execution, "load: model %s has no inputs or outputs", modelFile)
	}

	opts, err := onnx.NewSessionOptions()
	if err != nil {
		return nil, errs.New(errs.Execution, fmt.Errorf("load: session options: %w", err))
	}
	defer opts.Destroy()

	if err := appendProvider(opts, p); err != nil {
		return nil, errs.New(errs.Execution, fmt.Errorf("load: %s provider: %w", p, err))
	}

	sess, err := onnx.NewDynamicAdvancedSession(modelFile, []string{inputs[0].Name}, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, errs.New(errs.Execution, fmt.Errorf("load: create %s session: %w", p, err))
	}

	e.log(context.Background(), "ort-load", "provider", p, "model-file", modelFile, "input", inputs[0].DataType, "output", outputs[0].DataType)

	s := session{
		sess:   sess,
		input:  inputs[0],
		output: outputs[0],
	}

	return &s, nil
}

// Shutdown releases the onnxruntime environment.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ready {
		return nil
	}

	e.ready = false

	if err := onnx.DestroyEnvironment(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}

func (e *Engine) init() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ready || onnx.IsInitialized() {
		e.ready = true
		return nil
	}

	if e.libPath != "" {
		onnx.SetSharedLibraryPath(e.libPath)
	}

	if err := onnx.InitializeEnvironment(); err != nil {
		return errs.New(errs.Execution, fmt.Errorf("init: unable to load onnxruntime %q: %w", e.libPath, err))
	}

	e.ready = true

	return nil
}

func appendProvider(opts *onnx.SessionOptions, p unbg.Provider) error {
	switch p {
	case unbg.CUDA:
		cuda, err := onnx.NewCUDAProviderOptions()
		if err != nil {
			return err
		}
		defer cuda.Destroy()

		return opts.AppendExecutionProviderCUDA(cuda)

	case unbg.DirectML:
		return opts.AppendExecutionProviderDirectML(0)

	case unbg.CoreML:
		return opts.AppendExecutionProviderCoreML(0)
	}

	return nil
}

// =============================================================================

type session struct {
	sess   *onnx.DynamicAdvancedSession
	input  onnx.InputOutputInfo
	output onnx.InputOutputInfo
}

// Run converts the input to the element type the model expects and returns
// the first output as float32.
func (s *session) Run(ctx context.Context, input unbg.Tensor) (unbg.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return unbg.Tensor{}, err
	}

	in, err := newInput(s.input.DataType, input)
	if err != nil {
		return unbg.Tensor{}, errs.New(errs.Execution, fmt.Errorf("run: input tensor: %w", err))
	}
	defer in.Destroy()

	outputs := []onnx.Value{nil}

	if out, ok := newOutput(s.output); ok {
		outputs[0] = out
	}

	if err := s.sess.Run([]onnx.Value{in}, outputs); err != nil {
		destroy(outputs)
		return unbg.Tensor{}, errs.New(errs.Execution, fmt.Errorf("run: %w", err))
	}
	defer destroy(outputs)

	return readOutput(outputs[0])
}

func (s *session) Close() error {
	return s.sess.Destroy()
}

func newInput(dt onnx.TensorElementDataType, t unbg.Tensor) (onnx.Value, error) {
	shape := onnx.NewShape(t.Shape...)

	if dt == onnx.TensorElementDataTypeFloat16 {
		return onnx.NewCustomDataTensor(shape, encodeFloat16(t.Data), dt)
	}

	return onnx.NewTensor(shape, t.Data)
}

// newOutput preallocates half precision outputs with a static shape.
// Everything else is allocated by the runtime.
func newOutput(info onnx.InputOutputInfo) (onnx.Value, bool) {
	if info.DataType != onnx.TensorElementDataTypeFloat16 {
		return nil, false
	}

	count := info.Dimensions.FlattenedSize()
	if count <= 0 {
		return nil, false
	}

	for _, d := range info.Dimensions {
		if d <= 0 {
			return nil, false
		}
	}

	out, err := onnx.NewCustomDataTensor(info.Dimensions.Clone(), make([]byte, 2*count), info.DataType)
	if err != nil {
		return nil, false
	}

	return out, true
}

func readOutput(v onnx.Value) (unbg.Tensor, error) {
	switch t := v.(type) {
	case *onnx.Tensor[float32]:
		out := unbg.Tensor{
			Shape: []int64(t.GetShape().Clone()),
			Data:  append([]float32(nil), t.GetData()...),
		}
		return out, nil

	// Custom data outputs are only created for half precision.
	case *onnx.CustomDataTensor:
		out := unbg.Tensor{
			Shape: []int64(t.GetShape().Clone()),
			Data:  decodeFloat16(t.GetData()),
		}
		return out, nil
	}

	return unbg.Tensor{}, errs.Newf(errs.Execution, "read-output: unsupported output value %T", v)
}

func destroy(values []onnx.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}
