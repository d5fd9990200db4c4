package models

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ardanlabs/unbg/sdk/tools/defaults"
)

const (
	manifestsFolder   = "manifests"
	modelsFolder      = "models"
	cacheFolder       = "cache"
	downloadsFolder   = "downloads"
	lockFileName      = "unbg-model-lock.json"
	providerCacheName = "provider-selection.json"
)

// Paths represents the layout of a model root on disk.
type Paths struct {
	Root      string
	Manifests string
	Models    string
	Downloads string
}

// NewPaths derives the layout from a root directory. An empty root uses
// the default models directory.
func NewPaths(root string) Paths {
	root = defaults.ModelsDir(root)

	return Paths{
		Root:      root,
		Manifests: filepath.Join(root, manifestsFolder),
		Models:    filepath.Join(root, modelsFolder),
		Downloads: filepath.Join(root, cacheFolder, downloadsFolder),
	}
}

// ModelDir returns the directory holding every revision of the model.
func (p Paths) ModelDir(m Model) string {
	return filepath.Join(p.Models, m.CacheKey())
}

// RevisionDir returns the final install location for a model revision.
func (p Paths) RevisionDir(m Model, revision string) string {
	return filepath.Join(p.ModelDir(m), revision)
}

// DownloadDir returns the scratch location for partial transfers of a
// model revision.
func (p Paths) DownloadDir(m Model, revision string) string {
	return filepath.Join(p.Downloads, m.CacheKey(), revision)
}

// LockFile returns the location of the lockfile.
func (p Paths) LockFile() string {
	return filepath.Join(p.Manifests, lockFileName)
}

// ProviderCache returns the location of the persisted provider choices.
func (p Paths) ProviderCache() string {
	return filepath.Join(p.Root, cacheFolder, providerCacheName)
}

// EnsureLayout creates the directories of the layout.
func (p Paths) EnsureLayout() error {
	for _, dir := range []string{p.Manifests, p.Models, p.Downloads} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("ensure-layout: unable to create %q: %w", dir, err)
		}
	}

	return nil
}
