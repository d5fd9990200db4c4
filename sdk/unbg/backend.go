package unbg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/ardanlabs/unbg/sdk/errs"
	"github.com/ardanlabs/unbg/sdk/tools/defaults"
	"github.com/ardanlabs/unbg/sdk/tools/models"
	"github.com/ardanlabs/unbg/sdk/unbg/imaging"
	"github.com/hashicorp/go-multierror"
)

// Config represents the settings for the execution backend.
//
// Engine: Loads a model file on an execution path. Required.
//
// MaxSessions: Bounds the number of warm sessions. Zero keeps every session
// until Close.
//
// LibraryPath: Location of the onnxruntime library. Defaults to
// ORT_DYLIB_PATH. The value is part of every cache key.
//
// AllowPlaceholder: Returns a brightness threshold mask when no model can
// run. Also enabled by setting UNBG_ALLOW_PLACEHOLDER.
//
// GOOS: Operating system family used to build the gpu candidates. Defaults
// to runtime.GOOS.
//
// OS/Arch: Platform names recorded in the provider cache key. Default to the
// normalised runtime platform.
//
// CUDAProbe: Reports whether the cuda driver is installed. Defaults to
// CUDAAvailable.
type Config struct {
	Log              Logger
	Engine           Engine
	MaxSessions      int
	LibraryPath      string
	AllowPlaceholder bool
	GOOS             string
	OS               string
	Arch             string
	CUDAProbe        func() bool
}

func validateConfig(cfg Config) (Config, error) {
	if cfg.Engine == nil {
		return Config{}, errs.Newf(errs.Configuration, "validate-config: engine is required")
	}

	if cfg.Log == nil {
		cfg.Log = DiscardLogger
	}

	cfg.LibraryPath = defaults.LibraryPath(cfg.LibraryPath)
	cfg.AllowPlaceholder = cfg.AllowPlaceholder || defaults.AllowPlaceholder()

	if cfg.GOOS == "" {
		cfg.GOOS = runtime.GOOS
	}

	opSys, arch := defaults.Platform()
	if cfg.OS == "" {
		cfg.OS = opSys
	}

	if cfg.Arch == "" {
		cfg.Arch = arch
	}

	if cfg.CUDAProbe == nil {
		cfg.CUDAProbe = CUDAAvailable
	}

	return cfg, nil
}

// Backend runs the segmentation models on the best execution path it can
// find and remembers the winner.
type Backend struct {
	log              Logger
	sessions         *Sessions
	providers        *ProviderCache
	libPath          string
	allowPlaceholder bool
	goos             string
	os               string
	arch             string
	cudaProbe        func() bool
}

// New constructs a backend for use.
func New(cfg Config) (*Backend, error) {
	cfg, err := validateConfig(cfg)
	if err != nil {
		return nil, err
	}

	sessions, err := NewSessions(cfg.Log, cfg.Engine, cfg.MaxSessions)
	if err != nil {
		return nil, err
	}

	b := Backend{
		log:              cfg.Log,
		sessions:         sessions,
		providers:        NewProviderCache(),
		libPath:          cfg.LibraryPath,
		allowPlaceholder: cfg.AllowPlaceholder,
		goos:             cfg.GOOS,
		os:               cfg.OS,
		arch:             cfg.Arch,
		cudaProbe:        cfg.CUDAProbe,
	}

	return &b, nil
}

// Close releases the warm sessions.
func (b *Backend) Close() {
	if err := b.sessions.Shutdown(context.Background()); err != nil {
		b.log(context.Background(), "close", "ERROR", err)
	}
}

// Sessions returns the number of warm sessions.
func (b *Backend) Sessions() int {
	return b.sessions.Len()
}

// Run resolves the model for the request against the policy and performs
// the inference.
func (b *Backend) Run(ctx context.Context, req Request, policy Policy) (Result, error) {
	if len(req.ImageBytes) == 0 && req.ImagePath == "" {
		return Result{}, errs.Newf(errs.Configuration, "run: missing input image")
	}

	start := time.Now()

	b.log(ctx, "inference-start", "model", req.Model, "mode", req.Mode, "gpu", req.GPU, "benchmark", req.Benchmark)

	model, err := ResolveModel(req, policy)
	if err != nil {
		return Result{}, err
	}

	res, err := b.Infer(ctx, req, model)
	if err != nil {
		b.log(ctx, "inference-error", "model", model, "duration", time.Since(start), "ERROR", err)
		return Result{}, err
	}

	backend := res.Backend
	if backend == "" {
		backend = "none"
	}

	b.log(ctx, "inference-success", "model", res.ModelUsed, "duration", time.Since(start), "provider", res.ExecutionPath, "backend", backend, "fallback", res.HardwareFallback, "placeholder", res.PlaceholderUsed)

	return res, nil
}

// Infer runs the concrete model on the request image. Explicit execution
// modes try the candidates in order. Auto mode either benchmarks every
// candidate or reuses the cached winner, depending on the benchmark flag.
func (b *Backend) Infer(ctx context.Context, req Request, model ModelKind) (Result, error) {
	if _, ok := model.Model(); !ok {
		return Result{}, errs.Newf(errs.Configuration, "infer: model %s can't be run directly", model)
	}

	img, err := loadImage(req)
	if err != nil {
		if !b.allowPlaceholder {
			return Result{}, err
		}

		b.log(ctx, "infer", "status", "placeholder", "reason", err)
		return b.placeholder(model, imaging.Blank(max(req.Width, 1), max(req.Height, 1)))
	}

	paths := models.NewPaths(req.Root)

	modelFile, err := weightsFile(paths, model, req.Variant)
	if err != nil {
		if !b.allowPlaceholder {
			return Result{}, err
		}

		b.log(ctx, "infer", "status", "placeholder", "reason", err)
		return b.placeholder(model, img)
	}

	candidates := Candidates(req.Mode, req.GPU, b.goos, b.cudaProbe)
	if len(candidates) == 0 {
		return Result{}, errs.Newf(errs.Exhaustion, "infer: no execution providers available")
	}

	input := Tensor{
		Shape: []int64{1, 3, imaging.InputSize, imaging.InputSize},
		Data:  imaging.Tensor(img, imaging.InputSize),
	}

	run := func(p Provider) (Result, time.Duration, error) {
		return b.attempt(ctx, img, input, modelFile, p, model, req.EmitMask)
	}

	cacheFile := paths.ProviderCache()
	cacheKey := ProviderCacheKey(model, req.Variant, b.os, b.arch, b.libPath)

	var res Result
	switch {
	case req.Mode != ModeAuto:
		res, err = b.sequential(ctx, run, candidates)

	case req.Benchmark:
		res, err = b.benchmark(ctx, run, candidates, cacheFile, cacheKey)

	default:
		res, err = b.cachedFirst(ctx, run, candidates, cacheFile, cacheKey)
	}

	if err != nil {
		if !b.allowPlaceholder {
			return Result{}, err
		}

		b.log(ctx, "infer", "status", "placeholder", "reason", err)
		return b.placeholder(model, img)
	}

	return res, nil
}

// =============================================================================

type runFunc func(p Provider) (Result, time.Duration, error)

func (b *Backend) sequential(ctx context.Context, run runFunc, candidates []Provider) (Result, error) {
	var fail failures

	for i, p := range candidates {
		res, _, err := run(p)
		if err != nil {
			b.log(ctx, "sequential", "provider", p, "ERROR", err)
			fail.add(p, err)
			continue
		}

		res.HardwareFallback = i > 0
		return res, nil
	}

	return Result{}, fail.err("all providers failed")
}

func (b *Backend) cachedFirst(ctx context.Context, run runFunc, candidates []Provider, cacheFile string, cacheKey string) (Result, error) {
	var fail failures

	cached, hasCached := b.providers.Lookup(cacheFile, cacheKey)
	hasCached = hasCached && slices.Contains(candidates, cached)

	if hasCached {
		res, _, err := run(cached)
		if err == nil {
			return res, nil
		}

		b.log(ctx, "cached-first", "provider", cached, "status", "cached provider failed", "ERROR", err)
		fail.add(cached, err)
	}

	for _, p := range candidates {
		if hasCached && p == cached {
			continue
		}

		res, _, err := run(p)
		if err != nil {
			b.log(ctx, "cached-first", "provider", p, "ERROR", err)
			fail.add(p, err)
			continue
		}

		res.HardwareFallback = fail.len() > 0
		b.remember(ctx, cacheFile, cacheKey, p)

		return res, nil
	}

	return Result{}, fail.err("all providers failed")
}

func (b *Backend) benchmark(ctx context.Context, run runFunc, candidates []Provider, cacheFile string, cacheKey string) (Result, error) {
	var fail failures

	cached, hasCached := b.providers.Lookup(cacheFile, cacheKey)
	hasCached = hasCached && slices.Contains(candidates, cached)

	if hasCached {
		res, _, err := run(cached)
		if err == nil {
			return res, nil
		}

		b.log(ctx, "benchmark", "provider", cached, "status", "cached provider failed", "ERROR", err)
		fail.add(cached, err)
	}

	var (
		best     Result
		bestP    Provider
		bestTime time.Duration
		found    bool
	)

	for _, p := range candidates {
		// A cached provider that just failed is not timed again.
		if hasCached && p == cached {
			continue
		}

		res, elapsed, err := run(p)
		if err != nil {
			b.log(ctx, "benchmark", "provider", p, "ERROR", err)
			fail.add(p, err)
			continue
		}

		b.log(ctx, "benchmark", "provider", p, "elapsed", elapsed)

		if !found || elapsed < bestTime {
			best, bestP, bestTime, found = res, p, elapsed, true
		}
	}

	if !found {
		return Result{}, fail.err("auto provider benchmark failed")
	}

	b.remember(ctx, cacheFile, cacheKey, bestP)

	return best, nil
}

func (b *Backend) remember(ctx context.Context, cacheFile string, cacheKey string, p Provider) {
	if err := b.providers.Store(cacheFile, cacheKey, p); err != nil {
		b.log(ctx, "provider-cache", "key", cacheKey, "ERROR", err)
	}
}

// attempt runs the model once on the execution path. The elapsed time
// covers the model run and the mask post processing.
func (b *Backend) attempt(ctx context.Context, img image.Image, input Tensor, modelFile string, p Provider, model ModelKind, emitMask bool) (Result, time.Duration, error) {
	start := time.Now()

	out, err := b.sessions.Run(ctx, SessionKey(modelFile, p, b.libPath), modelFile, p, input)
	if err != nil {
		return Result{}, 0, err
	}

	bounds := img.Bounds()

	mask, err := imaging.Mask(out.Shape, out.Data, bounds.Dx(), bounds.Dy())
	if err != nil {
		return Result{}, 0, err
	}

	var maskPNG []byte
	if emitMask {
		if maskPNG, err = imaging.EncodePNG(mask); err != nil {
			return Result{}, 0, err
		}
	}

	res := Result{
		ModelUsed:     model,
		MaskPNG:       maskPNG,
		Width:         bounds.Dx(),
		Height:        bounds.Dy(),
		ExecutionPath: p.ExecutionPath(),
		Backend:       p.Backend(),
	}

	return res, time.Since(start), nil
}

func (b *Backend) placeholder(model ModelKind, img image.Image) (Result, error) {
	maskPNG, err := imaging.EncodePNG(imaging.Placeholder(img))
	if err != nil {
		return Result{}, fmt.Errorf("placeholder: %w", err)
	}

	bounds := img.Bounds()

	res := Result{
		ModelUsed:       model,
		MaskPNG:         maskPNG,
		Width:           bounds.Dx(),
		Height:          bounds.Dy(),
		ExecutionPath:   CPU.ExecutionPath(),
		PlaceholderUsed: true,
	}

	return res, nil
}

// =============================================================================

// failures collects the per provider errors of one call.
type failures struct {
	merr *multierror.Error
}

func (f *failures) add(p Provider, err error) {
	f.merr = multierror.Append(f.merr, fmt.Errorf("%s: %w", p, errs.New(errs.Execution, err)))
}

func (f *failures) len() int {
	if f.merr == nil {
		return 0
	}

	return len(f.merr.Errors)
}

func (f *failures) err(msg string) error {
	if f.merr == nil {
		return errs.Newf(errs.Exhaustion, "%s", msg)
	}

	f.merr.ErrorFormat = joinErrors

	return errs.New(errs.Exhaustion, fmt.Errorf("%s: %w", msg, f.merr))
}

func joinErrors(list []error) string {
	parts := make([]string, len(list))
	for i, err := range list {
		parts[i] = err.Error()
	}

	return strings.Join(parts, " | ")
}

// =============================================================================

func loadImage(req Request) (image.Image, error) {
	if len(req.ImageBytes) > 0 {
		img, err := imaging.Decode(req.ImageBytes)
		if err != nil {
			return nil, errs.New(errs.Configuration, fmt.Errorf("load-image: %w", err))
		}
		return img, nil
	}

	img, err := imaging.DecodeFile(req.ImagePath)
	if err != nil {
		return nil, errs.New(errs.Configuration, fmt.Errorf("load-image: %w", err))
	}

	return img, nil
}

// weightsFile finds the weights file to run for the model. The revision is
// taken from the lockfile and the file is picked from what's on disk.
func weightsFile(paths models.Paths, model ModelKind, variant models.Variant) (string, error) {
	m, _ := model.Model()

	lock, err := models.ReadLock(paths.LockFile())
	if err != nil {
		return "", errs.New(errs.Integrity, fmt.Errorf("weights-file: %w", err))
	}

	lm, exists := lock.Find(m.SourceID())
	if !exists {
		return "", errs.Newf(errs.Integrity, "weights-file: model not found in lockfile: %s", m.SourceID())
	}

	revDir := paths.RevisionDir(m, lm.Revision)

	var files []string
	err = filepath.WalkDir(revDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !models.IsWeightsFile(path) {
			return nil
		}

		rel, err := filepath.Rel(revDir, path)
		if err != nil {
			return err
		}

		files = append(files, filepath.ToSlash(rel))

		return nil
	})

	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", errs.New(errs.Integrity, fmt.Errorf("weights-file: %w", err))
	}

	rel, found := models.PreferredWeights(files, variant)
	if !found {
		return "", errs.Newf(errs.Integrity, "weights-file: no .onnx file found for %s revision %s in %s", lm.ModelID, lm.Revision, revDir)
	}

	return filepath.Join(revDir, filepath.FromSlash(rel)), nil
}
