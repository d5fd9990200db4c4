// Package models provides support for the model artifact registry: the set
// of known models, the on-disk layout, the lockfile, and the weights variant
// rules shared by the installer and the execution backend.
package models

import (
	"fmt"
	"strings"

	"github.com/ardanlabs/unbg/sdk/errs"
)

// Set of registry constants.
const (
	DefaultRevision = "main"
	SourceLabel     = "huggingface"
	WeightsExt      = ".onnx"
)

// Model represents one of the known segmentation models.
type Model int

// Set of known models.
const (
	RMBG14 Model = iota + 1
	RMBG20
)

// Manifest describes where a model comes from and whether pulling it needs
// a credential.
type Manifest struct {
	Model           Model
	SourceID        string
	DefaultRevision string
	Gated           bool
}

var manifests = map[Model]Manifest{
	RMBG14: {Model: RMBG14, SourceID: "briaai/RMBG-1.4", DefaultRevision: DefaultRevision, Gated: false},
	RMBG20: {Model: RMBG20, SourceID: "briaai/RMBG-2.0", DefaultRevision: DefaultRevision, Gated: true},
}

var names = map[Model]string{
	RMBG14: "rmbg-1.4",
	RMBG20: "rmbg-2.0",
}

// All returns every known model in a stable order.
func All() []Model {
	return []Model{RMBG14, RMBG20}
}

// Parse converts a user supplied name into a model. It accepts the short
// name, the source id, the cache key and the fast/quality aliases.
func Parse(name string) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "rmbg-1.4", "rmbg14", "rmbg_1_4", "fast", "briaai/rmbg-1.4", "briaai__rmbg-1.4":
		return RMBG14, nil

	case "rmbg-2.0", "rmbg20", "rmbg_2_0", "quality", "briaai/rmbg-2.0", "briaai__rmbg-2.0":
		return RMBG20, nil
	}

	return 0, errs.Newf(errs.Configuration, "parse-model: unknown model %q", name)
}

// ParseTargets expands a list of names into models. An empty list or the
// "all" sentinel selects every known model. Duplicates are dropped.
func ParseTargets(names []string) ([]Model, error) {
	if len(names) == 0 {
		return All(), nil
	}

	var targets []Model
	seen := make(map[Model]bool)

	for _, name := range names {
		if strings.EqualFold(strings.TrimSpace(name), "all") {
			return All(), nil
		}

		m, err := Parse(name)
		if err != nil {
			return nil, err
		}

		if seen[m] {
			continue
		}

		seen[m] = true
		targets = append(targets, m)
	}

	return targets, nil
}

// FromID returns the model for a lockfile model id.
func FromID(id string) (Model, bool) {
	for _, m := range All() {
		if m.SourceID() == id {
			return m, true
		}
	}

	return 0, false
}

// String implements the fmt.Stringer interface.
func (m Model) String() string {
	if s, exists := names[m]; exists {
		return s
	}

	return fmt.Sprintf("model(%d)", int(m))
}

// Manifest returns the static manifest entry for the model.
func (m Model) Manifest() Manifest {
	return manifests[m]
}

// SourceID returns the canonical id of the model at the artifact source.
func (m Model) SourceID() string {
	return manifests[m].SourceID
}

// CacheKey returns a filesystem safe version of the source id.
func (m Model) CacheKey() string {
	return strings.ReplaceAll(m.SourceID(), "/", "__")
}

// MarshalText implements the encoding.TextMarshaler interface.
func (m Model) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
