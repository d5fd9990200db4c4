package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// HashFile returns the hex encoded sha256 and the size of the file.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("hash-file: unable to open %q: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()

	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash-file: unable to read %q: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// LockFromDir builds a lock entry for a model revision by hashing every
// file currently in the directory. Paths are relative, slash separated and
// sorted.
func LockFromDir(m Model, revision string, dir string) (LockModel, error) {
	var files []LockFileEntry

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		sum, size, err := HashFile(path)
		if err != nil {
			return err
		}

		files = append(files, LockFileEntry{
			Path:   filepath.ToSlash(rel),
			Size:   size,
			SHA256: sum,
		})

		return nil
	})

	if err != nil {
		return LockModel{}, fmt.Errorf("lock-from-dir: %s@%s: %w", m, revision, err)
	}

	SortFiles(files)

	lm := LockModel{
		ModelID:  m.SourceID(),
		Revision: revision,
		Source:   SourceLabel,
		Files:    files,
	}

	return lm, nil
}

// HasWeights reports whether the directory tree contains a weights file.
func HasWeights(dir string) bool {
	var found bool

	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || found {
			return nil
		}

		if !d.IsDir() && IsWeightsFile(path) {
			found = true
			return fs.SkipAll
		}

		return nil
	})

	return found
}
