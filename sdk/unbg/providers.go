package unbg

import (
	"os"
	"path/filepath"
	"runtime"
	"slices"
)

// Provider represents a hardware execution path.
type Provider int

// Set of providers.
const (
	CPU Provider = iota
	DirectML
	CUDA
	CoreML
)

var providerLabels = map[Provider]string{
	CPU:      "cpu",
	DirectML: "directml",
	CUDA:     "cuda",
	CoreML:   "coreml",
}

// ParseProvider converts a label into a provider.
func ParseProvider(label string) (Provider, bool) {
	for p, s := range providerLabels {
		if s == label {
			return p, true
		}
	}

	return 0, false
}

// String implements the fmt.Stringer interface.
func (p Provider) String() string {
	return providerLabels[p]
}

// ExecutionPath returns "cpu" or "gpu".
func (p Provider) ExecutionPath() string {
	if p == CPU {
		return "cpu"
	}

	return "gpu"
}

// Backend returns the accelerator label, empty for the cpu.
func (p Provider) Backend() string {
	if p == CPU {
		return ""
	}

	return p.String()
}

// Candidates returns the ordered execution paths to try. The cpu is always
// last. With an auto preference, cuda is offered on windows and linux when
// the probe finds the driver, directml always on windows and coreml on
// darwin and ios.
func Candidates(mode ExecutionMode, pref GPUPreference, goos string, cudaProbe func() bool) []Provider {
	if mode == ModeCPU {
		return []Provider{CPU}
	}

	var list []Provider

	switch pref {
	case GPUDirectML:
		list = append(list, DirectML)

	case GPUCUDA:
		list = append(list, CUDA)

	case GPUCoreML, GPUMetal:
		list = append(list, CoreML)

	case GPUAuto:
		switch goos {
		case "windows":
			if cudaProbe != nil && cudaProbe() {
				list = append(list, CUDA)
			}
			list = append(list, DirectML)

		case "linux":
			if cudaProbe != nil && cudaProbe() {
				list = append(list, CUDA)
			}

		case "darwin", "ios":
			list = append(list, CoreML)
		}
	}

	list = append(list, CPU)

	return dedup(list)
}

func dedup(list []Provider) []Provider {
	out := make([]Provider, 0, len(list))
	for _, p := range list {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}

	return out
}

// =============================================================================

var cudaLibs = []string{
	"/usr/lib/x86_64-linux-gnu/libcuda.so.1",
	"/usr/lib64/libcuda.so.1",
	"/usr/lib/wsl/lib/libcuda.so.1",
}

// CUDAAvailable probes the well known driver locations for the current
// operating system.
func CUDAAvailable() bool {
	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("WINDIR"); dir != "" && exists(filepath.Join(dir, "System32", "nvcuda.dll")) {
			return true
		}

		for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
			if exists(filepath.Join(dir, "nvcuda.dll")) {
				return true
			}
		}

	case "linux":
		return slices.ContainsFunc(cudaLibs, exists)
	}

	return false
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
