package installer_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ardanlabs/unbg/sdk/errs"
	"github.com/ardanlabs/unbg/sdk/tools/downloader"
	"github.com/ardanlabs/unbg/sdk/tools/installer"
	"github.com/ardanlabs/unbg/sdk/tools/models"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const tokenEnv = "UNBG_TEST_TOKEN"

// hubServer fakes the artifact source for both known models.
type hubServer struct {
	*httptest.Server
	files map[string]map[string][]byte

	mu       sync.Mutex
	requests []string
	ranges   []string
}

func newHubServer(t *testing.T) *hubServer {
	weights := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 8192)

	hs := hubServer{
		files: map[string]map[string][]byte{
			"briaai/RMBG-1.4": {
				"README.md":                 []byte("readme"),
				"config.json":               []byte(`{"model":"rmbg-1.4"}`),
				"onnx/model.onnx":           bytes.Repeat([]byte{0x09}, 1024),
				"onnx/model_fp16.onnx":      weights,
				"onnx/model_quantized.onnx": []byte("quantized"),
				"preprocessor_config.json":  []byte(`{"size":1024}`),
			},
			"briaai/RMBG-2.0": {
				"config.json":          []byte(`{"model":"rmbg-2.0"}`),
				"onnx/model.onnx":      []byte("full weights rmbg-2.0"),
				"onnx/model_fp16.onnx": []byte("half weights rmbg-2.0"),
			},
		},
	}

	hs.Server = httptest.NewServer(http.HandlerFunc(hs.handle))
	t.Cleanup(hs.Close)

	return &hs
}

func (hs *hubServer) handle(w http.ResponseWriter, r *http.Request) {
	hs.mu.Lock()
	hs.requests = append(hs.requests, r.URL.Path)
	if v := r.Header.Get("Range"); v != "" {
		hs.ranges = append(hs.ranges, v)
	}
	hs.mu.Unlock()

	for id, files := range hs.files {
		if strings.HasSuffix(id, "2.0") && r.Header.Get("Authorization") == "" {
			if strings.Contains(r.URL.Path, id) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}

		if r.URL.Path == "/api/models/"+id+"/tree/main" {
			type entry struct {
				Type string `json:"type"`
				Path string `json:"path"`
			}

			list := []entry{{Type: "directory", Path: "onnx"}}
			for p := range files {
				list = append(list, entry{Type: "file", Path: p})
			}

			json.NewEncoder(w).Encode(list)
			return
		}

		prefix := "/" + id + "/resolve/main/"
		if rel, ok := strings.CutPrefix(r.URL.Path, prefix); ok {
			data, exists := files[rel]
			if !exists {
				http.NotFound(w, r)
				return
			}

			http.ServeContent(w, r, rel, time.Time{}, bytes.NewReader(data))
			return
		}
	}

	http.NotFound(w, r)
}

func (hs *hubServer) requestCount() int {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return len(hs.requests)
}

func (hs *hubServer) rangeRequests() []string {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return append([]string(nil), hs.ranges...)
}

func (hs *hubServer) installer() *installer.Installer {
	return installer.New(installer.Config{
		Endpoint:   hs.URL,
		HTTPClient: hs.Client(),
	})
}

func sum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// =============================================================================

func Test_GatedCredential(t *testing.T) {
	hs := newHubServer(t)
	ins := hs.installer()

	t.Run("non gated model without credential", func(t *testing.T) {
		t.Setenv(tokenEnv, "")

		report, err := ins.Install(context.Background(), installer.Request{
			Root:     t.TempDir(),
			Models:   []string{"rmbg-1.4"},
			TokenEnv: tokenEnv,
			Variant:  models.VariantFP16,
		})

		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}

		if diff := cmp.Diff([]string{"briaai/RMBG-1.4"}, report.Installed); diff != "" {
			t.Fatalf("installed mismatch (-exp +got):\n%s", diff)
		}
	})

	t.Run("gated model without credential", func(t *testing.T) {
		t.Setenv(tokenEnv, "   ")

		before := hs.requestCount()

		_, err := ins.Install(context.Background(), installer.Request{
			Root:     t.TempDir(),
			All:      true,
			TokenEnv: tokenEnv,
		})

		if !errs.IsKind(err, errs.Configuration) {
			t.Fatalf("expected a configuration error, got: %v", err)
		}

		if !strings.Contains(err.Error(), "briaai/RMBG-2.0") {
			t.Fatalf("expected the error to name the gated model, got: %v", err)
		}

		if after := hs.requestCount(); after != before {
			t.Fatalf("expected no network activity, got %d requests", after-before)
		}
	})
}

func Test_InstallAllAndVerify(t *testing.T) {
	hs := newHubServer(t)
	ins := hs.installer()
	root := t.TempDir()

	t.Setenv(tokenEnv, "secret")

	req := installer.Request{
		Root:     root,
		All:      true,
		TokenEnv: tokenEnv,
		Variant:  models.VariantFP16,
	}

	report, err := ins.Install(context.Background(), req)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	exp := installer.Report{
		Root:            root,
		Installed:       []string{"briaai/RMBG-1.4", "briaai/RMBG-2.0"},
		Skipped:         []string{},
		LockfileWritten: true,
	}

	if diff := cmp.Diff(exp, report); diff != "" {
		t.Fatalf("report mismatch (-exp +got):\n%s", diff)
	}

	lock, err := installer.Verify(root)
	if err != nil {
		t.Fatalf("expected verify to pass, got: %v", err)
	}

	lm, ok := lock.Find("briaai/RMBG-1.4")
	if !ok {
		t.Fatal("expected an rmbg-1.4 lock entry")
	}

	expFiles := []models.LockFileEntry{
		{Path: "config.json", Size: int64(len(hs.files["briaai/RMBG-1.4"]["config.json"])), SHA256: sum(hs.files["briaai/RMBG-1.4"]["config.json"])},
		{Path: "onnx/model_fp16.onnx", Size: int64(len(hs.files["briaai/RMBG-1.4"]["onnx/model_fp16.onnx"])), SHA256: sum(hs.files["briaai/RMBG-1.4"]["onnx/model_fp16.onnx"])},
		{Path: "preprocessor_config.json", Size: int64(len(hs.files["briaai/RMBG-1.4"]["preprocessor_config.json"])), SHA256: sum(hs.files["briaai/RMBG-1.4"]["preprocessor_config.json"])},
	}

	if diff := cmp.Diff(expFiles, lm.Files); diff != "" {
		t.Fatalf("files mismatch (-exp +got):\n%s", diff)
	}

	t.Run("no staging leftovers", func(t *testing.T) {
		paths := models.NewPaths(root)

		entries, err := os.ReadDir(paths.ModelDir(models.RMBG14))
		if err != nil {
			t.Fatal(err)
		}

		if len(entries) != 1 || entries[0].Name() != "main" {
			t.Fatalf("expected only the revision dir, got: %v", entries)
		}

		if _, err := os.Stat(paths.DownloadDir(models.RMBG14, "main")); !os.IsNotExist(err) {
			t.Fatalf("expected the scratch area to be cleaned, got: %v", err)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		before, err := models.ReadLock(models.NewPaths(root).LockFile())
		if err != nil {
			t.Fatal(err)
		}

		requests := hs.requestCount()

		report, err := ins.Install(context.Background(), req)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}

		exp := installer.Report{
			Root:            root,
			Installed:       []string{},
			Skipped:         []string{"briaai/RMBG-1.4", "briaai/RMBG-2.0"},
			LockfileWritten: true,
		}

		if diff := cmp.Diff(exp, report); diff != "" {
			t.Fatalf("report mismatch (-exp +got):\n%s", diff)
		}

		if got := hs.requestCount(); got != requests {
			t.Fatalf("expected no network activity, got %d requests", got-requests)
		}

		after, err := models.ReadLock(models.NewPaths(root).LockFile())
		if err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff(before, after, cmpopts.IgnoreFields(models.Lock{}, "GeneratedAt")); diff != "" {
			t.Fatalf("lock changed (-before +after):\n%s", diff)
		}

		lm, _ := after.Find("briaai/RMBG-1.4")

		var paths []string
		for _, f := range lm.Files {
			paths = append(paths, f.Path)
		}

		expPaths := []string{"config.json", "onnx/model_fp16.onnx", "preprocessor_config.json"}
		if diff := cmp.Diff(expPaths, paths); diff != "" {
			t.Fatalf("file order mismatch (-exp +got):\n%s", diff)
		}
	})

	t.Run("tampered file", func(t *testing.T) {
		path := filepath.Join(models.NewPaths(root).RevisionDir(models.RMBG14, "main"), "onnx", "model_fp16.onnx")

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}

		data[10] ^= 0xff
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatal(err)
		}

		_, err = installer.Verify(root)
		if !errs.IsKind(err, errs.Integrity) {
			t.Fatalf("expected an integrity error, got: %v", err)
		}

		if !strings.Contains(err.Error(), "onnx/model_fp16.onnx") || !strings.Contains(err.Error(), "briaai/RMBG-1.4@main") {
			t.Fatalf("expected the error to name the file, got: %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		path := filepath.Join(models.NewPaths(root).RevisionDir(models.RMBG20, "main"), "config.json")
		if err := os.Remove(path); err != nil {
			t.Fatal(err)
		}

		_, err := installer.Verify(root)
		if !errs.IsKind(err, errs.Integrity) {
			t.Fatalf("expected an integrity error, got: %v", err)
		}
	})
}

func Test_Resume(t *testing.T) {
	hs := newHubServer(t)
	ins := hs.installer()
	root := t.TempDir()

	full := hs.files["briaai/RMBG-1.4"]["onnx/model_fp16.onnx"]
	const k = 5000

	paths := models.NewPaths(root)
	part := filepath.Join(paths.DownloadDir(models.RMBG14, "main"), "onnx", "model_fp16.onnx") + downloader.PartSuffix

	if err := os.MkdirAll(filepath.Dir(part), 0755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(part, full[:k], 0644); err != nil {
		t.Fatal(err)
	}

	_, err := ins.Install(context.Background(), installer.Request{
		Root:    root,
		Models:  []string{"fast"},
		Variant: models.VariantFP16,
	})

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if diff := cmp.Diff([]string{"bytes=5000-"}, hs.rangeRequests()); diff != "" {
		t.Fatalf("range mismatch (-exp +got):\n%s", diff)
	}

	lock, err := installer.Verify(root)
	if err != nil {
		t.Fatalf("expected verify to pass, got: %v", err)
	}

	lm, _ := lock.Find("briaai/RMBG-1.4")
	for _, f := range lm.Files {
		if f.Path == "onnx/model_fp16.onnx" && f.SHA256 != sum(full) {
			t.Fatalf("expected the resumed hash to match a one shot download, got: %s", f.SHA256)
		}
	}
}

func Test_ProgressLogging(t *testing.T) {
	hs := newHubServer(t)

	type event struct {
		msg  string
		args []any
	}

	var (
		mu     sync.Mutex
		events []event
	)

	log := func(ctx context.Context, msg string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event{msg: msg, args: args})
	}

	ins := installer.New(installer.Config{
		Log:        log,
		Endpoint:   hs.URL,
		HTTPClient: hs.Client(),
	})

	_, err := ins.Install(context.Background(), installer.Request{
		Root:    t.TempDir(),
		Models:  []string{"fast"},
		Variant: models.VariantFP16,
	})

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	var completed int
	for _, e := range events {
		if strings.ContainsRune(e.msg, 0x1b) {
			t.Fatalf("expected plain log messages, got: %q", e.msg)
		}

		if e.msg != "download-progress" {
			continue
		}

		if len(e.args)%2 != 0 || e.args[0] != "file" {
			t.Fatalf("expected key/value args, got: %v", e.args)
		}

		if e.args[len(e.args)-1] == true {
			completed++
		}
	}

	if completed != 3 {
		t.Fatalf("expected a completion event per file, got: %d", completed)
	}
}

func Test_IncompleteRevision(t *testing.T) {
	hs := newHubServer(t)
	ins := hs.installer()
	root := t.TempDir()

	revDir := models.NewPaths(root).RevisionDir(models.RMBG14, "main")
	if err := os.MkdirAll(revDir, 0755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(revDir, "config.json"), []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}

	report, err := ins.Install(context.Background(), installer.Request{
		Root:    root,
		Models:  []string{"rmbg-1.4"},
		Variant: models.VariantQuantized,
	})

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if diff := cmp.Diff([]string{"briaai/RMBG-1.4"}, report.Installed); diff != "" {
		t.Fatalf("expected a fresh install (-exp +got):\n%s", diff)
	}

	data, err := os.ReadFile(filepath.Join(revDir, "config.json"))
	if err != nil {
		t.Fatal(err)
	}

	if string(data) == "stale" {
		t.Fatal("expected the incomplete revision to be replaced")
	}

	if _, err := os.Stat(filepath.Join(revDir, "onnx", "model_quantized.onnx")); err != nil {
		t.Fatalf("expected the quantized weights, got: %v", err)
	}
}

func Test_VerifyOnly(t *testing.T) {
	hs := newHubServer(t)
	ins := hs.installer()
	root := t.TempDir()

	report, err := ins.Install(context.Background(), installer.Request{
		Root:       root,
		Models:     []string{"rmbg-1.4"},
		VerifyOnly: true,
	})

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if report.LockfileWritten {
		t.Fatal("expected no lockfile write")
	}

	if _, err := os.Stat(models.NewPaths(root).LockFile()); !os.IsNotExist(err) {
		t.Fatalf("expected no lockfile, got: %v", err)
	}

	if _, err := installer.Verify(root); !errs.IsKind(err, errs.Integrity) {
		t.Fatalf("expected verify to fail without a lockfile, got: %v", err)
	}
}

func Test_Ensure(t *testing.T) {
	hs := newHubServer(t)
	ins := hs.installer()
	root := t.TempDir()

	if installer.Installed(root, models.RMBG14) {
		t.Fatal("expected nothing installed yet")
	}

	report, err := ins.Ensure(context.Background(), root, "", models.VariantAuto, models.RMBG14)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if len(report.Installed) != 1 {
		t.Fatalf("expected one install, got: %+v", report)
	}

	requests := hs.requestCount()

	if _, err := ins.Ensure(context.Background(), root, "", models.VariantAuto, models.RMBG14); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if got := hs.requestCount(); got != requests {
		t.Fatalf("expected no network activity, got %d requests", got-requests)
	}
}
