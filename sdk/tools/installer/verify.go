package installer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ardanlabs/unbg/sdk/errs"
	"github.com/ardanlabs/unbg/sdk/tools/models"
)

// Validate checks the lock entries produced by an install before they are
// written: every entry tracks files, its revision holds a weights file and
// every tracked file exists.
func Validate(paths models.Paths, lockModels []models.LockModel) error {
	for _, lm := range lockModels {
		if len(lm.Files) == 0 {
			return errs.Newf(errs.Integrity, "validate: model %s has no tracked files", lm.ModelID)
		}

		m, ok := models.FromID(lm.ModelID)
		if !ok {
			return errs.Newf(errs.Integrity, "validate: unknown model id in lock entries: %s", lm.ModelID)
		}

		revDir := paths.RevisionDir(m, lm.Revision)

		if !models.HasWeights(revDir) {
			return errs.Newf(errs.Integrity, "validate: revision %s for %s has no %s file", lm.Revision, lm.ModelID, models.WeightsExt)
		}

		for _, f := range lm.Files {
			full := filepath.Join(revDir, filepath.FromSlash(f.Path))
			if _, err := os.Stat(full); err != nil {
				return errs.Newf(errs.Integrity, "validate: missing file before lock write: %s", full)
			}
		}
	}

	return nil
}

// Verify reads the lockfile under the root and checks every recorded file
// for existence, size and content hash. The first mismatch is returned.
func Verify(root string) (models.Lock, error) {
	paths := models.NewPaths(root)

	lock, err := models.ReadLock(paths.LockFile())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.Lock{}, errs.New(errs.Integrity, fmt.Errorf("verify: %w", err))
		}

		return models.Lock{}, fmt.Errorf("verify: %w", err)
	}

	for _, lm := range lock.Models {
		m, ok := models.FromID(lm.ModelID)
		if !ok {
			return models.Lock{}, errs.Newf(errs.Integrity, "verify: unknown model id in lockfile: %s", lm.ModelID)
		}

		revDir := paths.RevisionDir(m, lm.Revision)

		for _, f := range lm.Files {
			full := filepath.Join(revDir, filepath.FromSlash(f.Path))

			fi, err := os.Stat(full)
			if err != nil {
				return models.Lock{}, errs.Newf(errs.Integrity, "verify: missing file for %s@%s: %s", lm.ModelID, lm.Revision, f.Path)
			}

			if fi.Size() != f.Size {
				return models.Lock{}, errs.Newf(errs.Integrity, "verify: size mismatch for %s@%s %s: expected %d, got %d", lm.ModelID, lm.Revision, f.Path, f.Size, fi.Size())
			}

			sum, _, err := models.HashFile(full)
			if err != nil {
				return models.Lock{}, errs.New(errs.Integrity, fmt.Errorf("verify: %s@%s %s: %w", lm.ModelID, lm.Revision, f.Path, err))
			}

			if sum != f.SHA256 {
				return models.Lock{}, errs.Newf(errs.Integrity, "verify: checksum mismatch for %s@%s %s: expected %s, got %s", lm.ModelID, lm.Revision, f.Path, f.SHA256, sum)
			}
		}
	}

	return lock, nil
}
