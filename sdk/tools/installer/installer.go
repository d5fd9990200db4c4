// Package installer fetches, verifies and records model revisions under a
// model root.
package installer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ardanlabs/unbg/sdk/errs"
	"github.com/ardanlabs/unbg/sdk/tools/defaults"
	"github.com/ardanlabs/unbg/sdk/tools/downloader"
	"github.com/ardanlabs/unbg/sdk/tools/hub"
	"github.com/ardanlabs/unbg/sdk/tools/models"
	"github.com/google/uuid"
)

// Logger represents a logger for capturing events.
type Logger func(ctx context.Context, msg string, args ...any)

// Config represents the settings for an installer.
//
// Log: Receives progress events. Leave nil to discard them.
//
// Endpoint: Base url of the artifact source. Leave empty for the default.
//
// HTTPClient: Client used for listing and downloads. Leave nil for a pooled
// client.
type Config struct {
	Log        Logger
	Endpoint   string
	HTTPClient *http.Client
}

// Request describes what to install.
type Request struct {
	Root       string
	All        bool
	Models     []string
	TokenEnv   string
	Revisions  map[models.Model]string
	VerifyOnly bool
	Variant    models.Variant
}

// Report describes the outcome of an install.
type Report struct {
	Root            string   `json:"root" yaml:"root"`
	Installed       []string `json:"installed" yaml:"installed"`
	Skipped         []string `json:"skipped" yaml:"skipped"`
	LockfileWritten bool     `json:"lockfileWritten" yaml:"lockfileWritten"`
}

// Installer manages model installs.
type Installer struct {
	log        Logger
	endpoint   string
	httpClient *http.Client
}

// New constructs an installer.
func New(cfg Config) *Installer {
	log := cfg.Log
	if log == nil {
		log = func(context.Context, string, ...any) {}
	}

	return &Installer{
		log:        log,
		endpoint:   cfg.Endpoint,
		httpClient: cfg.HTTPClient,
	}
}

// Install performs the complete workflow for the requested models: check
// credentials, reuse or download each revision, validate what is on disk
// and merge the results into the lockfile.
func (ins *Installer) Install(ctx context.Context, req Request) (Report, error) {
	targets := models.All()
	if !req.All {
		var err error
		if targets, err = models.ParseTargets(req.Models); err != nil {
			return Report{}, fmt.Errorf("install: %w", err)
		}
	}

	tokenEnv := defaults.TokenEnv(req.TokenEnv)
	token := strings.TrimSpace(os.Getenv(tokenEnv))

	for _, m := range targets {
		if m.Manifest().Gated && token == "" {
			return Report{}, errs.Newf(errs.Configuration, "install: missing %s for gated model %s", tokenEnv, m.SourceID())
		}
	}

	paths := models.NewPaths(req.Root)
	if err := paths.EnsureLayout(); err != nil {
		return Report{}, fmt.Errorf("install: %w", err)
	}

	opts := []hub.Option{hub.WithEndpoint(ins.endpoint), hub.WithToken(token)}
	if ins.httpClient != nil {
		opts = append(opts, hub.WithHTTPClient(ins.httpClient))
	}

	src := hub.New(opts...)

	report := Report{
		Root:      paths.Root,
		Installed: []string{},
		Skipped:   []string{},
	}

	lockModels := make([]models.LockModel, 0, len(targets))

	for _, m := range targets {
		revision := req.Revisions[m]
		if revision == "" {
			revision = m.Manifest().DefaultRevision
		}

		lm, skipped, err := ins.installModel(ctx, src, paths, m, revision, req.Variant)
		if err != nil {
			return Report{}, fmt.Errorf("install: %s@%s: %w", m.SourceID(), revision, err)
		}

		switch skipped {
		case true:
			report.Skipped = append(report.Skipped, m.SourceID())
		default:
			report.Installed = append(report.Installed, m.SourceID())
		}

		lockModels = append(lockModels, lm)
	}

	if req.VerifyOnly {
		return report, nil
	}

	if err := Validate(paths, lockModels); err != nil {
		return Report{}, fmt.Errorf("install: %w", err)
	}

	lock, err := models.ReadLockOrNew(paths.LockFile())
	if err != nil {
		return Report{}, fmt.Errorf("install: %w", err)
	}

	lock.Merge(lockModels)

	if err := models.WriteLock(paths.LockFile(), lock); err != nil {
		return Report{}, fmt.Errorf("install: %w", err)
	}

	report.LockfileWritten = true

	ins.log(ctx, "install", "status", "lockfile written", "path", paths.LockFile(), "installed", len(report.Installed), "skipped", len(report.Skipped))

	return report, nil
}

// =============================================================================

func (ins *Installer) installModel(ctx context.Context, src *hub.Client, paths models.Paths, m models.Model, revision string, variant models.Variant) (models.LockModel, bool, error) {
	revDir := paths.RevisionDir(m, revision)

	switch _, err := os.Stat(revDir); {
	case err == nil:
		if models.HasWeights(revDir) {
			ins.log(ctx, "install", "status", "already installed, rehashing", "model", m.SourceID(), "revision", revision)

			lm, err := models.LockFromDir(m, revision, revDir)
			if err != nil {
				return models.LockModel{}, false, err
			}

			return lm, true, nil
		}

		ins.log(ctx, "install", "status", "removing incomplete revision", "model", m.SourceID(), "revision", revision)

		if err := os.RemoveAll(revDir); err != nil {
			return models.LockModel{}, false, fmt.Errorf("unable to remove incomplete revision: %w", err)
		}

	case !errors.Is(err, fs.ErrNotExist):
		return models.LockModel{}, false, fmt.Errorf("unable to check revision dir: %w", err)
	}

	lm, err := ins.downloadRevision(ctx, src, paths, m, revision, variant)
	if err != nil {
		return models.LockModel{}, false, err
	}

	return lm, false, nil
}

func (ins *Installer) downloadRevision(ctx context.Context, src *hub.Client, paths models.Paths, m models.Model, revision string, variant models.Variant) (models.LockModel, error) {
	ins.log(ctx, "install", "status", "listing files", "model", m.SourceID(), "revision", revision, "variant", variant)

	remote, err := src.ListFiles(ctx, m.SourceID(), revision)
	if err != nil {
		return models.LockModel{}, err
	}

	files, err := models.SelectRemoteFiles(remote, variant)
	if err != nil {
		return models.LockModel{}, err
	}

	// Partial transfers live in the scratch area so a later run can resume
	// them. Completed files are staged next to the final location.
	scratch := paths.DownloadDir(m, revision)

	progress := func(src string, currentSize int64, totalSize int64, mibPerSec float64, complete bool) {
		ins.log(ctx, "download-progress", "file", src, "mib", currentSize>>20, "total_mib", totalSize>>20, "mibps", fmt.Sprintf("%.2f", mibPerSec), "complete", complete)
	}

	dl := downloader.New(src.HTTPClient(), src.Header())

	entries := make([]models.LockFileEntry, 0, len(files))

	for _, rel := range files {
		dest := filepath.Join(scratch, filepath.FromSlash(rel))

		res, err := dl.Download(ctx, src.FileURL(m.SourceID(), revision, rel), dest, progress, downloader.SizeIntervalMIB10)
		if err != nil {
			return models.LockModel{}, fmt.Errorf("file[%s]: %w", rel, err)
		}

		ins.log(ctx, "install", "status", "downloaded", "file", rel, "size", res.Size, "sha256", res.SHA256, "resumed", res.Resumed)

		entries = append(entries, models.LockFileEntry{
			Path:   rel,
			Size:   res.Size,
			SHA256: res.SHA256,
		})
	}

	models.SortFiles(entries)

	if err := stageRevision(paths.ModelDir(m), revision, scratch, files); err != nil {
		return models.LockModel{}, err
	}

	if err := os.RemoveAll(scratch); err != nil {
		ins.log(ctx, "install", "status", "unable to clean scratch area", "path", scratch, "ERROR", err)
	}

	lm := models.LockModel{
		ModelID:  m.SourceID(),
		Revision: revision,
		Source:   models.SourceLabel,
		Files:    entries,
	}

	return lm, nil
}

// stageRevision moves the completed files into a private directory next to
// the final revision directory and renames it into place. The final path
// never holds a partial revision.
func stageRevision(modelDir string, revision string, scratch string, files []string) error {
	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return fmt.Errorf("stage-revision: unable to create model dir: %w", err)
	}

	tempPath := filepath.Join(modelDir, fmt.Sprintf(".%s-%s.tmp", revision, uuid.NewString()))

	for _, rel := range files {
		from := filepath.Join(scratch, filepath.FromSlash(rel))
		to := filepath.Join(tempPath, filepath.FromSlash(rel))

		if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
			os.RemoveAll(tempPath)
			return fmt.Errorf("stage-revision: unable to create folder: %w", err)
		}

		if err := os.Rename(from, to); err != nil {
			os.RemoveAll(tempPath)
			return fmt.Errorf("stage-revision: unable to move %s: %w", rel, err)
		}
	}

	if err := os.Rename(tempPath, filepath.Join(modelDir, revision)); err != nil {
		os.RemoveAll(tempPath)
		return fmt.Errorf("stage-revision: unable to swap temp for revision: %w", err)
	}

	return nil
}
