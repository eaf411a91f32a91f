package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/occi-cad/occi-server/internal/param"
)

// sidecarParam is the generic, not-yet-typed shape of one entry in a
// sidecar's "params" map (spec §6).
type sidecarParam struct {
	Type        string   `json:"type"`
	Default     any      `json:"default"`
	Label       string   `json:"label,omitempty"`
	Description string   `json:"description,omitempty"`
	Units       string   `json:"units,omitempty"`
	Iterable    *bool    `json:"iterable,omitempty"`
	Enabled     *bool    `json:"enabled,omitempty"`
	Start       float64  `json:"start,omitempty"`
	End         float64  `json:"end,omitempty"`
	Step        float64  `json:"step,omitempty"`
	MinLength   int      `json:"min_length,omitempty"`
	MaxLength   int      `json:"max_length,omitempty"`
	Options     []string `json:"options,omitempty"`
}

// sidecar mirrors the JSON shape described in spec §6.
type sidecar struct {
	Name        string `json:"name,omitempty"`
	Org         string `json:"org,omitempty"`
	Title       string `json:"title,omitempty"`
	Version     string `json:"version,omitempty"`
	Author      string `json:"author,omitempty"`
	License     string `json:"license,omitempty"`
	Description string `json:"description,omitempty"`
	Units       string `json:"units,omitempty"`
	Published   *bool  `json:"published,omitempty"`
	Safe        *bool  `json:"safe,omitempty"`
	PublicCode  *bool  `json:"public_code,omitempty"`

	CadEngine        string                 `json:"cad_engine,omitempty"`
	CadEngineVersion string                 `json:"cad_engine_version,omitempty"`
	CadEngineConfig  map[string]any         `json:"cad_engine_config,omitempty"`

	Params        map[string]sidecarParam          `json:"params,omitempty"`
	ParamPresets  map[string]map[string]any         `json:"param_presets,omitempty"`
}

// upgradeParams converts the sidecar's generic param map into typed
// descriptors, keyed by name, along with the declaration order Go's JSON
// decoder does not preserve (spec §4.1's "insertion-ordered" requirement is
// satisfied upstream, in parseSidecarPreservingOrder).
func upgradeParams(raw map[string]sidecarParam, order []string) (map[string]param.Descriptor, error) {
	out := make(map[string]param.Descriptor, len(raw))
	for _, name := range order {
		sp, ok := raw[name]
		if !ok {
			continue
		}
		d, err := upgradeOne(sp)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		out[name] = d
	}
	return out, nil
}

func upgradeOne(sp sidecarParam) (param.Descriptor, error) {
	iterable := false
	if sp.Iterable != nil {
		iterable = *sp.Iterable
	}
	d := param.Descriptor{
		Label:    sp.Label,
		Units:    sp.Units,
		Default:  sp.Default,
		Iterable: iterable,
	}
	switch sp.Type {
	case "number":
		d.Kind = param.KindNumber
		d.Start, d.End, d.Step = sp.Start, sp.End, sp.Step
		d.Enabled = sp.Enabled
	case "text":
		d.Kind = param.KindText
		d.MinLength, d.MaxLength = sp.MinLength, sp.MaxLength
		d.Iterable = false
	case "boolean":
		d.Kind = param.KindBoolean
	case "options":
		d.Kind = param.KindOptions
		d.Options = sp.Options
	default:
		return param.Descriptor{}, fmt.Errorf("unknown type %q", sp.Type)
	}
	return d, nil
}

// paramOrderFromJSON recovers the declaration order of the top-level
// "params" object's keys. map[string]T decoding loses key order, and spec
// §4.1 requires enumeration to stay in the order the sidecar declared it, so
// this walks the raw token stream once instead.
func paramOrderFromJSON(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	// Find the top-level "params" key.
	if _, err := dec.Token(); err != nil { // opening '{'
		return nil, err
	}
	found := false
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)
		if key == "params" {
			found = true
			break
		}
		if err := skipJSONValue(dec); err != nil {
			return nil, err
		}
	}
	if !found {
		return nil, nil
	}

	// Now positioned right before params' value, which must be an object.
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("params must be a JSON object")
	}
	var order []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)
		order = append(order, key)
		if err := skipJSONValue(dec); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// skipJSONValue consumes one complete JSON value (scalar, object, or array)
// from the decoder's current position.
func skipJSONValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil // scalar already consumed
	}
	if delim == '{' || delim == '[' {
		depth := 1
		for depth > 0 {
			t, err := dec.Token()
			if err != nil {
				return err
			}
			if d, ok := t.(json.Delim); ok {
				switch d {
				case '{', '[':
					depth++
				case '}', ']':
					depth--
				}
			}
		}
	}
	return nil
}
