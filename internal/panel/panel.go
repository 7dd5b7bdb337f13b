// Package panel defines the fixed laboratory panel used as classifier input:
// the 24 complete-blood-count and inflammation measurements, their canonical
// order, display units, form groups and soft range hints.
//
// The canonical order is the only invariant the classifier depends on. Every
// vector handed to a model must be built through this package.
package panel

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Size is the number of measurements in a panel.
const Size = 24

var (
	ErrMissingFeature = errors.New("missing feature")
	ErrUnknownFeature = errors.New("unknown feature")
	ErrLength         = errors.New("wrong number of features")
)

// Group names follow the layout of the screening form.
const (
	GroupCBCBasics    = "CBC Basics"
	GroupPlatelets    = "Platelets"
	GroupRBCIndices   = "RBC Indices"
	GroupDiffPercent  = "Differential %"
	GroupDiffAbsolute = "Differential #"
	GroupInflammation = "Inflammation Marker"
)

// Feature describes one measurement of the panel.
type Feature struct {
	Name    string  `json:"name"`
	Unit    string  `json:"unit,omitempty"`
	Group   string  `json:"group"`
	Default float64 `json:"default"`
	Min     float64 `json:"min"` // soft hint only
	Max     float64 `json:"max"` // soft hint only
}

// Label returns the form label, e.g. "WBC (10^9/L)".
func (f Feature) Label() string {
	if f.Unit == "" {
		return f.Name
	}
	return fmt.Sprintf("%s (%s)", f.Name, f.Unit)
}

// features is in canonical classifier order.
var features = [Size]Feature{
	{Name: "WBC", Unit: "10^9/L", Group: GroupCBCBasics, Default: 6.5, Min: 0, Max: 100},
	{Name: "RBC", Unit: "10^12/L", Group: GroupCBCBasics, Default: 4.5, Min: 0, Max: 10},
	{Name: "HGB", Unit: "g/L", Group: GroupCBCBasics, Default: 130.0, Min: 0, Max: 250},
	{Name: "HCT", Unit: "%", Group: GroupCBCBasics, Default: 40.0, Min: 0, Max: 80},
	{Name: "MCV", Unit: "fL", Group: GroupRBCIndices, Default: 90.0, Min: 40, Max: 150},
	{Name: "MCH", Unit: "pg", Group: GroupRBCIndices, Default: 30.0, Min: 10, Max: 50},
	{Name: "MCHC", Unit: "g/L", Group: GroupRBCIndices, Default: 330.0, Min: 200, Max: 450},
	{Name: "PLT", Unit: "10^9/L", Group: GroupCBCBasics, Default: 250.0, Min: 0, Max: 1500},
	{Name: "LYMPH%", Unit: "%", Group: GroupDiffPercent, Default: 35.0, Min: 0, Max: 100},
	{Name: "MONO%", Unit: "%", Group: GroupDiffPercent, Default: 8.0, Min: 0, Max: 100},
	{Name: "NEUT%", Unit: "%", Group: GroupDiffPercent, Default: 55.0, Min: 0, Max: 100},
	{Name: "EO%", Unit: "%", Group: GroupDiffPercent, Default: 2.0, Min: 0, Max: 100},
	{Name: "BASO%", Unit: "%", Group: GroupDiffPercent, Default: 0.5, Min: 0, Max: 100},
	{Name: "LYMPH#", Group: GroupDiffAbsolute, Default: 2.0, Min: 0, Max: 50},
	{Name: "MONO#", Group: GroupDiffAbsolute, Default: 0.5, Min: 0, Max: 20},
	{Name: "NEUT#", Group: GroupDiffAbsolute, Default: 3.5, Min: 0, Max: 80},
	{Name: "EO#", Group: GroupDiffAbsolute, Default: 0.1, Min: 0, Max: 20},
	{Name: "BASO#", Group: GroupDiffAbsolute, Default: 0.03, Min: 0, Max: 5},
	{Name: "RDW-CV", Unit: "%", Group: GroupRBCIndices, Default: 13.0, Min: 5, Max: 40},
	{Name: "PDW", Unit: "fL", Group: GroupPlatelets, Default: 10.0, Min: 0, Max: 40},
	{Name: "MPV", Unit: "fL", Group: GroupPlatelets, Default: 10.0, Min: 0, Max: 30},
	{Name: "PCT", Unit: "%", Group: GroupPlatelets, Default: 0.2, Min: 0, Max: 2},
	{Name: "P-LCR", Unit: "%", Group: GroupPlatelets, Default: 30.0, Min: 0, Max: 100},
	{Name: "CRP", Unit: "mg/L", Group: GroupInflammation, Default: 5.0, Min: 0, Max: 500},
}

// Names lists the feature names in canonical order.
var Names = func() []string {
	out := make([]string, Size)
	for i, f := range features {
		out[i] = f.Name
	}
	return out
}()

var index = func() map[string]int {
	m := make(map[string]int, Size)
	for i, f := range features {
		m[f.Name] = i
	}
	return m
}()

// Features returns a copy of the panel definition in canonical order.
func Features() []Feature {
	out := make([]Feature, Size)
	copy(out, features[:])
	return out
}

// Lookup returns the definition of a named feature.
func Lookup(name string) (Feature, bool) {
	i, ok := index[name]
	if !ok {
		return Feature{}, false
	}
	return features[i], true
}

// Index returns the canonical position of a feature name.
func Index(name string) (int, bool) {
	i, ok := index[name]
	return i, ok
}

// Vector is an ordered panel of measurements.
type Vector []float64

// Defaults returns the default panel shown on a fresh form.
func Defaults() Vector {
	v := make(Vector, Size)
	for i, f := range features {
		v[i] = f.Default
	}
	return v
}

// DefaultsWith returns the default panel with per-deployment overrides applied.
// Unknown names in the override map are reported as ErrUnknownFeature.
func DefaultsWith(overrides map[string]float64) (Vector, error) {
	v := Defaults()
	for _, name := range sortedKeys(overrides) {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, name)
		}
		v[i] = overrides[name]
	}
	return v, nil
}

// FromValues assembles a vector from named values. Every panel feature must be
// present; names outside the panel are rejected.
func FromValues(values map[string]float64) (Vector, error) {
	for _, name := range sortedKeys(values) {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, name)
		}
	}

	v := make(Vector, Size)
	var missing []string
	for i, f := range features {
		val, ok := values[f.Name]
		if !ok {
			missing = append(missing, f.Name)
			continue
		}
		v[i] = val
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingFeature, strings.Join(missing, ", "))
	}
	return v, nil
}

// FromSlice wraps an ordered slice after checking its length.
func FromSlice(values []float64) (Vector, error) {
	if len(values) != Size {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrLength, Size, len(values))
	}
	v := make(Vector, Size)
	copy(v, values)
	return v, nil
}

// Map returns the vector keyed by feature name.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, len(v))
	for i, val := range v {
		if i < Size {
			m[features[i].Name] = val
		}
	}
	return m
}

// Value returns the measurement for a feature name.
func (v Vector) Value(name string) (float64, bool) {
	i, ok := index[name]
	if !ok || i >= len(v) {
		return 0, false
	}
	return v[i], true
}

// OutOfRange lists features whose value falls outside the soft hint range.
// NaN values are reported as well.
func (v Vector) OutOfRange() []string {
	var out []string
	for i, val := range v {
		if i >= Size {
			break
		}
		f := features[i]
		if math.IsNaN(val) || val < f.Min || val > f.Max {
			out = append(out, f.Name)
		}
	}
	return out
}

// Grouped returns features bucketed by form group, preserving canonical order
// within a group.
func Grouped() map[string][]Feature {
	out := make(map[string][]Feature)
	for _, f := range features {
		out[f.Group] = append(out[f.Group], f)
	}
	return out
}

// Columns is the three-column arrangement of the screening form.
var Columns = [][]string{
	{GroupCBCBasics, GroupPlatelets},
	{GroupRBCIndices, GroupDiffPercent},
	{GroupDiffAbsolute, GroupInflammation},
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
