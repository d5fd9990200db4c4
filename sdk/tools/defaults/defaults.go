// Package defaults provides default values for the sdk and cli tooling.
package defaults

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/hybridgroup/yzma/pkg/download"
	"github.com/mitchellh/go-homedir"
)

var (
	basePath    = ".unbg"
	modelsPath  = "models"
	tokenEnv    = "HF_TOKEN"
	hubEndpoint = "https://huggingface.co"
)

// Set of environment variables the tooling consumes.
const (
	EnvModels           = "UNBG_MODELS"
	EnvArch             = "UNBG_ARCH"
	EnvOS               = "UNBG_OS"
	EnvHubEndpoint      = "UNBG_HUB_ENDPOINT"
	EnvAllowPlaceholder = "UNBG_ALLOW_PLACEHOLDER"
	EnvLibraryPath      = "ORT_DYLIB_PATH"
)

// BaseDir is the default base folder location for unbg files.
func BaseDir(override string) string {
	if override != "" {
		return expand(override)
	}

	homeDir, err := homedir.Dir()
	if err != nil {
		return fmt.Sprintf("./%s", basePath)
	}

	return filepath.Join(homeDir, basePath)
}

// ModelsDir is the default location of the model root. The override takes
// precedence, then the UNBG_MODELS env var, then $HOME/.unbg/models.
func ModelsDir(override string) string {
	if override != "" {
		return expand(override)
	}

	if v := os.Getenv(EnvModels); v != "" {
		return expand(v)
	}

	return filepath.Join(BaseDir(""), modelsPath)
}

// TokenEnv returns the name of the env var holding the hub credential.
func TokenEnv(override string) string {
	if override != "" {
		return override
	}

	return tokenEnv
}

// HubEndpoint returns the base url for the artifact source, checking the
// UNBG_HUB_ENDPOINT env var when there is no override.
func HubEndpoint(override string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}

	if v := os.Getenv(EnvHubEndpoint); v != "" {
		return strings.TrimRight(v, "/")
	}

	return hubEndpoint
}

// LibraryPath returns the location of the onnxruntime shared library as
// configured by ORT_DYLIB_PATH. An empty string means the system default.
func LibraryPath(override string) string {
	if override != "" {
		return override
	}

	return os.Getenv(EnvLibraryPath)
}

// AllowPlaceholder reports whether the degraded placeholder mask has been
// opted into through UNBG_ALLOW_PLACEHOLDER.
func AllowPlaceholder() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvAllowPlaceholder))) {
	case "1", "true", "yes":
		return true
	}

	return false
}

// Arch will check the UNBG_ARCH var first and check it's value against the
// proper set of architectures. If that variable is not set, then
// runtime.GOARCH is used.
func Arch(override string) (download.Arch, error) {
	if override != "" {
		return download.ParseArch(override)
	}

	if v := os.Getenv(EnvArch); v != "" {
		return download.ParseArch(v)
	}

	return download.ParseArch(runtime.GOARCH)
}

// OS will check the UNBG_OS var first and check it's value against the proper
// set of operating systems. If that variable is not set, then runtime.GOOS
// is used.
func OS(override string) (download.OS, error) {
	if override != "" {
		return download.ParseOS(override)
	}

	if v := os.Getenv(EnvOS); v != "" {
		return download.ParseOS(v)
	}

	return download.ParseOS(runtime.GOOS)
}

// Platform returns the normalised operating system and architecture names.
// Platforms the parser does not know keep their raw runtime names.
func Platform() (string, string) {
	opSys := runtime.GOOS
	if v, err := OS(""); err == nil {
		opSys = v.String()
	}

	arch := runtime.GOARCH
	if v, err := Arch(""); err == nil {
		arch = v.String()
	}

	return opSys, arch
}

// =============================================================================

func expand(path string) string {
	p, err := homedir.Expand(path)
	if err != nil {
		return path
	}

	return p
}
