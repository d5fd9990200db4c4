package models

import (
	"path"
	"slices"
	"strings"

	"github.com/ardanlabs/unbg/sdk/errs"
)

// Variant represents the numeric precision of the weights to prefer.
type Variant int

// Set of weights variants.
const (
	VariantAuto Variant = iota
	VariantFP16
	VariantFP32
	VariantQuantized
)

var variantNames = map[Variant]string{
	VariantAuto:      "auto",
	VariantFP16:      "fp16",
	VariantFP32:      "fp32",
	VariantQuantized: "quantized",
}

// ParseVariant converts a name into a variant. An empty name is auto.
func ParseVariant(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return VariantAuto, nil
	case "fp16", "half":
		return VariantFP16, nil
	case "fp32", "full":
		return VariantFP32, nil
	case "quantized", "q8", "int8":
		return VariantQuantized, nil
	}

	return 0, errs.Newf(errs.Configuration, "parse-variant: unknown variant %q", name)
}

// String implements the fmt.Stringer interface.
func (v Variant) String() string {
	return variantNames[v]
}

// MarshalText implements the encoding.TextMarshaler interface.
func (v Variant) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// CompanionFiles are the configuration files installed next to the weights
// when the source provides them.
var CompanionFiles = []string{"config.json", "preprocessor_config.json"}

// IsWeightsFile reports whether the path names a weights file.
func IsWeightsFile(p string) bool {
	return strings.EqualFold(path.Ext(p), WeightsExt)
}

// RankWeights orders weights file paths by preference for the variant. The
// exact variant comes first, the default full weights next, quantized
// weights after that and anything else last. Ties keep name order.
func RankWeights(files []string, v Variant) []string {
	ranked := slices.Clone(files)

	slices.SortStableFunc(ranked, func(a, b string) int {
		ra, rb := weightsRank(a, v), weightsRank(b, v)
		if ra != rb {
			return ra - rb
		}

		return strings.Compare(a, b)
	})

	return ranked
}

// PreferredWeights returns the best weights file for the variant.
func PreferredWeights(files []string, v Variant) (string, bool) {
	var weights []string
	for _, f := range files {
		if IsWeightsFile(f) {
			weights = append(weights, f)
		}
	}

	if len(weights) == 0 {
		return "", false
	}

	return RankWeights(weights, v)[0], true
}

// SelectRemoteFiles filters a remote listing down to one weights file for
// the variant plus the companion files present in the listing. Weights under
// the onnx/ folder are preferred over weights anywhere else.
func SelectRemoteFiles(remote []string, v Variant) ([]string, error) {
	var nested, other []string

	for _, p := range remote {
		if !IsWeightsFile(p) {
			continue
		}

		switch strings.HasPrefix(p, "onnx/") {
		case true:
			nested = append(nested, p)
		default:
			other = append(other, p)
		}
	}

	candidates := nested
	if len(candidates) == 0 {
		candidates = other
	}

	weights, ok := PreferredWeights(candidates, v)
	if !ok {
		return nil, errs.Newf(errs.Integrity, "select-remote-files: no %s weights in remote listing", WeightsExt)
	}

	selected := []string{weights}
	for _, name := range CompanionFiles {
		if slices.Contains(remote, name) {
			selected = append(selected, name)
		}
	}

	return selected, nil
}

// =============================================================================

func weightsRank(p string, v Variant) int {
	switch {
	case matchesVariant(p, v):
		return 0
	case isDefaultWeights(p):
		return 1
	case isQuantized(p):
		return 2
	}

	return 3
}

func matchesVariant(p string, v Variant) bool {
	name := strings.ToLower(path.Base(p))

	switch v {
	case VariantAuto, VariantFP16:
		return strings.Contains(name, "fp16")
	case VariantFP32:
		return strings.Contains(name, "fp32") || isDefaultWeights(p)
	case VariantQuantized:
		return isQuantized(p)
	}

	return false
}

func isDefaultWeights(p string) bool {
	return strings.EqualFold(path.Base(p), "model"+WeightsExt)
}

func isQuantized(p string) bool {
	name := strings.ToLower(path.Base(p))
	return strings.Contains(name, "quantized") || strings.Contains(name, "q8") || strings.Contains(name, "int8")
}
