package calib

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// scientificThreshold is the magnitude at or above which parameter values are
// rendered as fixed-precision scientific-notation strings. The PFC worker
// side expects large moduli and strengths in this textual form.
const scientificThreshold = 1e6

// Dimension is one axis of the calibration parameter space.
type Dimension struct {
	Name string  `yaml:"name"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
}

// Space is the ordered set of dimensions the optimizer explores.
type Space []Dimension

// Names returns the dimension names in space order.
func (s Space) Names() []string {
	names := make([]string, len(s))
	for i := range s {
		names[i] = s[i].Name
	}
	return names
}

// Validate checks that the space is non-empty, every dimension is named
// uniquely, and every bound pair is finite and ordered.
func (s Space) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("parameter space is empty")
	}
	seen := make(map[string]bool, len(s))
	for _, d := range s {
		if d.Name == "" {
			return fmt.Errorf("parameter space contains an unnamed dimension")
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate dimension %q", d.Name)
		}
		seen[d.Name] = true
		if math.IsNaN(d.Min) || math.IsNaN(d.Max) || math.IsInf(d.Min, 0) || math.IsInf(d.Max, 0) {
			return fmt.Errorf("dimension %q has non-finite bounds", d.Name)
		}
		if d.Min >= d.Max {
			return fmt.Errorf("dimension %q has min %v >= max %v", d.Name, d.Min, d.Max)
		}
	}
	return nil
}

// Point is an optimizer-side parameter vector, ordered by Space.
type Point []float64

// ParameterError reports a value that failed boundary validation when a
// ParameterVector was constructed.
type ParameterError struct {
	Name   string
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("parameter %q: %s", e.Name, e.Reason)
}

// ParameterVector is a validated, ordered name->value mapping. Construct one
// through Space.Vector or ParamsFromCanonical; every value is checked finite
// at the boundary so nothing ambiguous flows downstream.
type ParameterVector struct {
	names []string
	vals  map[string]float64
}

// Vector binds an optimizer point to this space, validating length and
// finiteness of every coordinate.
func (s Space) Vector(p Point) (ParameterVector, error) {
	if len(p) != len(s) {
		return ParameterVector{}, &ParameterError{Reason: fmt.Sprintf("point has %d coordinates, space has %d", len(p), len(s))}
	}
	pv := ParameterVector{
		names: s.Names(),
		vals:  make(map[string]float64, len(s)),
	}
	for i, d := range s {
		v := p[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ParameterVector{}, &ParameterError{Name: d.Name, Reason: "non-finite value"}
		}
		pv.vals[d.Name] = v
	}
	return pv, nil
}

// ParamsFromCanonical rebuilds a ParameterVector from a decoded cache entry,
// where values arrive either as JSON numbers or as the scientific-notation
// strings used for large magnitudes. Every space dimension must be present.
func (s Space) ParamsFromCanonical(raw map[string]any) (ParameterVector, error) {
	pv := ParameterVector{
		names: s.Names(),
		vals:  make(map[string]float64, len(s)),
	}
	for _, d := range s {
		rv, ok := raw[d.Name]
		if !ok {
			return ParameterVector{}, &ParameterError{Name: d.Name, Reason: "missing from stored parameters"}
		}
		var v float64
		switch t := rv.(type) {
		case float64:
			v = t
		case string:
			parsed, err := strconv.ParseFloat(t, 64)
			if err != nil {
				return ParameterVector{}, &ParameterError{Name: d.Name, Reason: fmt.Sprintf("unparseable value %q", t)}
			}
			v = parsed
		default:
			return ParameterVector{}, &ParameterError{Name: d.Name, Reason: fmt.Sprintf("unsupported value type %T", rv)}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ParameterVector{}, &ParameterError{Name: d.Name, Reason: "non-finite value"}
		}
		pv.vals[d.Name] = v
	}
	return pv, nil
}

// Names returns the parameter names in space order.
func (pv ParameterVector) Names() []string {
	out := make([]string, len(pv.names))
	copy(out, pv.names)
	return out
}

// Value returns the value bound to name.
func (pv ParameterVector) Value(name string) (float64, bool) {
	v, ok := pv.vals[name]
	return v, ok
}

// Len returns the number of parameters.
func (pv ParameterVector) Len() int { return len(pv.names) }

// Point converts back to an optimizer-side vector in space order.
func (pv ParameterVector) Point() Point {
	p := make(Point, len(pv.names))
	for i, name := range pv.names {
		p[i] = pv.vals[name]
	}
	return p
}

// Map returns a copy of the underlying name->value mapping.
func (pv ParameterVector) Map() map[string]float64 {
	out := make(map[string]float64, len(pv.vals))
	for k, v := range pv.vals {
		out[k] = v
	}
	return out
}

// canonicalValue renders one value in the form the worker expects: magnitudes
// at or above 1e6 as "%.6e" strings, everything else as a plain JSON number.
func canonicalValue(v float64) (string, bool) {
	if math.Abs(v) >= scientificThreshold {
		return fmt.Sprintf("%.6e", v), true
	}
	return strconv.FormatFloat(v, 'g', -1, 64), false
}

// CanonicalJSON serializes the vector with sorted keys and the worker-side
// value rendering. The byte output is both the wire payload and the
// fingerprint input: two vectors are equivalent iff these bytes are equal.
func (pv ParameterVector) CanonicalJSON() []byte {
	names := make([]string, len(pv.names))
	copy(names, pv.names)
	sort.Strings(names)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			buf.WriteString(", ")
		}
		// Parameter names are plain ASCII identifiers, so strconv quoting
		// matches JSON string quoting.
		buf.WriteString(strconv.Quote(name))
		buf.WriteString(": ")
		rendered, quoted := canonicalValue(pv.vals[name])
		if quoted {
			buf.WriteString(strconv.Quote(rendered))
		} else {
			buf.WriteString(rendered)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// String renders the vector for logs.
func (pv ParameterVector) String() string {
	return string(pv.CanonicalJSON())
}

// Fingerprint is the content address of this vector: the sha256 hex digest
// of its canonical JSON form. Stable across runs and processes, it names the
// vector's cache entry and on-disk archive.
func (pv ParameterVector) Fingerprint() string {
	sum := sha256.Sum256(pv.CanonicalJSON())
	return hex.EncodeToString(sum[:])
}
