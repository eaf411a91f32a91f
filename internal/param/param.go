// Package param implements the typed parameter descriptors a script declares
// (number, text, boolean, options) and their domain enumeration for batch
// precompute.
package param

import (
	"encoding/json"
	"fmt"
)

// Kind tags a ParameterDescriptor variant.
type Kind string

const (
	KindNumber  Kind = "number"
	KindText    Kind = "text"
	KindBoolean Kind = "boolean"
	KindOptions Kind = "options"
)

// Descriptor is a tagged-variant parameter descriptor. Exactly one of the
// per-kind field groups is meaningful, selected by Kind.
type Descriptor struct {
	Kind  Kind   `json:"type"`
	Label string `json:"label,omitempty"`
	Units string `json:"units,omitempty"`

	// Number fields.
	Start   float64 `json:"start,omitempty"`
	End     float64 `json:"end,omitempty"`
	Step    float64 `json:"step,omitempty"`
	Enabled *bool   `json:"enabled,omitempty"`

	// Text fields.
	MinLength int `json:"min_length,omitempty"`
	MaxLength int `json:"max_length,omitempty"`

	// Options fields.
	Options []string `json:"options,omitempty"`

	// Shared.
	Default  any  `json:"default"`
	Iterable bool `json:"iterable"`
}

// IsEnabled reports whether a numeric descriptor is enabled; non-numeric
// descriptors are always considered enabled.
func (d Descriptor) IsEnabled() bool {
	if d.Kind != KindNumber {
		return true
	}
	return d.Enabled == nil || *d.Enabled
}

// Validate checks a candidate value against the descriptor's domain rules.
func (d Descriptor) Validate(value any) error {
	switch d.Kind {
	case KindNumber:
		return d.validateNumber(value)
	case KindText:
		return d.validateText(value)
	case KindBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
		return nil
	case KindOptions:
		return d.validateOptions(value)
	default:
		return fmt.Errorf("unknown parameter kind %q", d.Kind)
	}
}

func (d Descriptor) validateNumber(value any) error {
	f, ok := asFloat(value)
	if !ok {
		return fmt.Errorf("expected number, got %T", value)
	}
	if !d.IsEnabled() {
		if f != d.Default {
			return fmt.Errorf("parameter is disabled, only default %v accepted", d.Default)
		}
		return nil
	}
	if f < d.Start || f > d.End {
		return fmt.Errorf("value %v out of range [%v, %v]", f, d.Start, d.End)
	}
	if d.Step > 0 {
		steps := (f - d.Start) / d.Step
		if !isNearInt(steps) {
			return fmt.Errorf("value %v is not on the step=%v grid starting at %v", f, d.Step, d.Start)
		}
	}
	return nil
}

func (d Descriptor) validateText(value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected text, got %T", value)
	}
	if d.MinLength > 0 && len(s) < d.MinLength {
		return fmt.Errorf("text shorter than min_length=%d", d.MinLength)
	}
	if d.MaxLength > 0 && len(s) > d.MaxLength {
		return fmt.Errorf("text longer than max_length=%d", d.MaxLength)
	}
	return nil
}

func (d Descriptor) validateOptions(value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected one of %v, got %T", d.Options, value)
	}
	for _, opt := range d.Options {
		if opt == s {
			return nil
		}
	}
	return fmt.Errorf("value %q is not one of %v", s, d.Options)
}

// CanIterate reports whether the descriptor is flagged iterable. Disabled
// numeric parameters collapse to a single-value domain but remain iterable
// in the schema sense (their enumerated domain is just {default}).
func (d Descriptor) CanIterate() bool {
	return d.Iterable
}

// Domain enumerates the ordered values a descriptor can take for batch
// precompute. Text descriptors are never enumerable and return an error.
func (d Descriptor) Domain() ([]any, error) {
	switch d.Kind {
	case KindNumber:
		return d.numberDomain(), nil
	case KindBoolean:
		return []any{false, true}, nil
	case KindOptions:
		out := make([]any, len(d.Options))
		for i, o := range d.Options {
			out[i] = o
		}
		return out, nil
	case KindText:
		return nil, fmt.Errorf("text parameters are not enumerable")
	default:
		return nil, fmt.Errorf("unknown parameter kind %q", d.Kind)
	}
}

func (d Descriptor) numberDomain() []any {
	if !d.IsEnabled() {
		return []any{d.Default}
	}
	if d.Step <= 0 {
		return []any{d.Start}
	}
	var out []any
	for v := d.Start; v <= d.End+1e-9; v += d.Step {
		out = append(out, roundStep(v))
	}
	return out
}

// roundStep trims floating point drift introduced by repeated addition.
func roundStep(v float64) float64 {
	const scale = 1e9
	return float64(int64(v*scale+0.5)) / scale
}

func isNearInt(f float64) bool {
	const eps = 1e-6
	r := f - float64(int64(f+0.5))
	if r < 0 {
		r = -r
	}
	return r < eps
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
