package libs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ardanlabs/unbg/sdk/tools/libs"
)

func discard(ctx context.Context, msg string, args ...any) {}

func touch(t *testing.T, path string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func Test_Find(t *testing.T) {
	t.Setenv("ORT_DYLIB_PATH", "")

	base := t.TempDir()
	exeDir := t.TempDir()
	pathDir := t.TempDir()

	lib := libs.NewWithSettings(base, "linux", exeDir, pathDir, false)

	if got := lib.Find(context.Background(), discard); got != "" {
		t.Fatalf("expected no library, got: %s", got)
	}

	onPath := filepath.Join(pathDir, "libonnxruntime.so")
	touch(t, onPath)

	if got := lib.Find(context.Background(), discard); got != onPath {
		t.Fatalf("expected %s, got: %s", onPath, got)
	}

	local := filepath.Join(lib.LibsPath(), "libonnxruntime.so")
	touch(t, local)

	if got := lib.Find(context.Background(), discard); got != local {
		t.Fatalf("expected the libraries folder to win over PATH, got: %s", got)
	}

	nextToExe := filepath.Join(exeDir, "libonnxruntime.so")
	touch(t, nextToExe)

	if got := lib.Find(context.Background(), discard); got != nextToExe {
		t.Fatalf("expected the executable folder to win, got: %s", got)
	}

	t.Setenv("ORT_DYLIB_PATH", "/opt/ort/libonnxruntime.so")

	if got := lib.Find(context.Background(), discard); got != "/opt/ort/libonnxruntime.so" {
		t.Fatalf("expected ORT_DYLIB_PATH to win, got: %s", got)
	}
}

func Test_LibraryName(t *testing.T) {
	tt := map[string]string{
		"windows": "onnxruntime.dll",
		"darwin":  "libonnxruntime.dylib",
		"linux":   "libonnxruntime.so",
	}

	for opSys, want := range tt {
		if got := libs.NewWithSettings(t.TempDir(), opSys, "", "", false).LibraryName(); got != want {
			t.Fatalf("expected %s for %s, got: %s", want, opSys, got)
		}
	}
}
