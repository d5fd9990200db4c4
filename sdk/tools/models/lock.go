package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// SchemaVersion is the version of the lockfile document.
const SchemaVersion = 1

// LockFileEntry represents one verified file of an installed revision.
type LockFileEntry struct {
	Path   string `json:"path" yaml:"path"`
	Size   int64  `json:"size" yaml:"size"`
	SHA256 string `json:"sha256" yaml:"sha256"`
}

// LockModel represents an installed model revision and its files.
type LockModel struct {
	ModelID  string          `json:"modelId" yaml:"modelId"`
	Revision string          `json:"revision" yaml:"revision"`
	Source   string          `json:"source" yaml:"source"`
	Files    []LockFileEntry `json:"files" yaml:"files"`
}

// Lock represents the lockfile document.
type Lock struct {
	SchemaVersion int         `json:"schemaVersion" yaml:"schemaVersion"`
	GeneratedAt   string      `json:"generatedAt" yaml:"generatedAt"`
	Models        []LockModel `json:"models" yaml:"models"`
}

// NewLock constructs an empty lock stamped with the current time.
func NewLock() Lock {
	return Lock{
		SchemaVersion: SchemaVersion,
		GeneratedAt:   timestamp(),
		Models:        []LockModel{},
	}
}

// ReadLock reads the lockfile at the specified path. A missing file returns
// an error matching fs.ErrNotExist.
func ReadLock(path string) (Lock, error) {
	d, err := os.ReadFile(path)
	if err != nil {
		return Lock{}, fmt.Errorf("read-lock: unable to read lockfile: %w", err)
	}

	var lock Lock
	if err := json.Unmarshal(d, &lock); err != nil {
		return Lock{}, fmt.Errorf("read-lock: unable to parse lockfile %q: %w", path, err)
	}

	return lock, nil
}

// ReadLockOrNew reads the lockfile, returning a fresh lock when the file
// does not exist yet.
func ReadLockOrNew(path string) (Lock, error) {
	lock, err := ReadLock(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewLock(), nil
		}

		return Lock{}, err
	}

	return lock, nil
}

// WriteLock replaces the lockfile with the specified document.
func WriteLock(path string, lock Lock) error {
	d, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("write-lock: unable to marshal lockfile: %w", err)
	}

	if err := WriteFileAtomic(path, d); err != nil {
		return fmt.Errorf("write-lock: %w", err)
	}

	return nil
}

// Merge replaces the entries for every model id present in the incoming set,
// keeps the rest, and stamps the lock with the current time. Files are
// stored in path order.
func (l *Lock) Merge(incoming []LockModel) {
	replaced := make(map[string]LockModel, len(incoming))
	for _, lm := range incoming {
		lm.Files = slices.Clone(lm.Files)
		SortFiles(lm.Files)
		replaced[lm.ModelID] = lm
	}

	merged := make([]LockModel, 0, len(l.Models)+len(incoming))
	for _, lm := range l.Models {
		if _, exists := replaced[lm.ModelID]; exists {
			continue
		}

		merged = append(merged, lm)
	}

	for _, lm := range replaced {
		merged = append(merged, lm)
	}

	slices.SortFunc(merged, func(a, b LockModel) int {
		return strings.Compare(a.ModelID, b.ModelID)
	})

	l.SchemaVersion = SchemaVersion
	l.GeneratedAt = timestamp()
	l.Models = merged
}

// SortFiles orders the entries by path.
func SortFiles(files []LockFileEntry) {
	slices.SortFunc(files, func(a, b LockFileEntry) int {
		return strings.Compare(a.Path, b.Path)
	})
}

// Find returns the entry recorded for the model id.
func (l Lock) Find(modelID string) (LockModel, bool) {
	for _, lm := range l.Models {
		if lm.ModelID == modelID {
			return lm, true
		}
	}

	return LockModel{}, false
}

// WeightsFiles returns the relative paths of the weights files recorded for
// the model.
func (lm LockModel) WeightsFiles() []string {
	var files []string
	for _, f := range lm.Files {
		if IsWeightsFile(f.Path) {
			files = append(files, f.Path)
		}
	}

	return files
}

// =============================================================================

// WriteFileAtomic writes the data to a temp file in the destination folder
// and renames it into place.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("write-file-atomic: unable to create %q: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("write-file-atomic: unable to create temp file: %w", err)
	}

	tmpName := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write-file-atomic: unable to write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write-file-atomic: unable to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write-file-atomic: unable to rename into %q: %w", path, err)
	}

	return nil
}

// timestamp returns the current time as unix seconds.
func timestamp() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}
