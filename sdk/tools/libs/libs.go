// Package libs locates the onnxruntime shared library.
package libs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ardanlabs/unbg/sdk/tools/defaults"
)

const localFolder = "libraries"

// Logger represents a logger for capturing events.
type Logger func(ctx context.Context, msg string, args ...any)

// Libs manages the library lookup.
type Libs struct {
	path    string
	opSys   string
	exeDir  string
	envPath string
	python  bool
}

// New uses defaults based on the system we are running on.
func New() *Libs {
	exeDir := ""
	if exe, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exe)
	}

	return NewWithSettings("", runtime.GOOS, exeDir, os.Getenv("PATH"), true)
}

// NewWithSettings constructs the lookup from raw values.
// basePath: represents the base path, the libraries folder lives below it.
// opSys   : represents the operating system family.
// exeDir  : represents the folder of the running executable.
// envPath : represents the PATH list to search.
// python  : true to ask a python onnxruntime install for its library.
func NewWithSettings(basePath string, opSys string, exeDir string, envPath string, python bool) *Libs {
	return &Libs{
		path:    filepath.Join(defaults.BaseDir(basePath), localFolder),
		opSys:   opSys,
		exeDir:  exeDir,
		envPath: envPath,
		python:  python,
	}
}

// LibsPath returns the location of the libraries folder.
func (lib *Libs) LibsPath() string {
	return lib.path
}

// LibraryName returns the file name of the shared library on the operating
// system.
func (lib *Libs) LibraryName() string {
	switch lib.opSys {
	case "windows":
		return "onnxruntime.dll"
	case "darwin", "ios":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// Find returns the location of the shared library. ORT_DYLIB_PATH wins,
// then the executable's folder, the libraries folder, a python onnxruntime
// install and finally PATH. An empty string leaves the choice to the
// system loader.
func (lib *Libs) Find(ctx context.Context, log Logger) string {
	if p := defaults.LibraryPath(""); p != "" {
		return p
	}

	name := lib.LibraryName()

	for _, dir := range []string{lib.exeDir, lib.path} {
		if dir == "" {
			continue
		}

		if p := filepath.Join(dir, name); exists(p) {
			log(ctx, "find-library", "status", "found", "path", p)
			return p
		}
	}

	if lib.python {
		if p := pythonLibrary(ctx, name); p != "" {
			log(ctx, "find-library", "status", "found in python install", "path", p)
			return p
		}
	}

	for _, dir := range filepath.SplitList(lib.envPath) {
		if lib.opSys == "windows" && strings.Contains(strings.ToLower(dir), `windows\system32`) {
			continue
		}

		if p := filepath.Join(dir, name); exists(p) {
			log(ctx, "find-library", "status", "found on PATH", "path", p)
			return p
		}
	}

	log(ctx, "find-library", "status", "not found, using the system loader", "name", name)

	return ""
}

// =============================================================================

func pythonLibrary(ctx context.Context, name string) string {
	probe := "import pathlib, onnxruntime; p = pathlib.Path(onnxruntime.__file__).resolve().parent / 'capi' / '" + name + "'; print(p if p.exists() else '')"

	for _, bin := range []string{"python", "python3", "py"} {
		if _, err := exec.LookPath(bin); err != nil {
			continue
		}

		out, err := exec.CommandContext(ctx, bin, "-c", probe).Output()
		if err != nil {
			continue
		}

		if p := strings.TrimSpace(string(out)); p != "" && exists(p) {
			return p
		}
	}

	return ""
}

func exists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
