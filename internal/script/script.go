// Package script implements the Script record: identity, metadata, engine,
// code, parameters and presets, plus namespace/version ordering. See spec §3.
package script

import (
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/occi-cad/occi-server/internal/param"
)

// Engine identifies the external CAD runtime a script targets.
type Engine string

const (
	EngineCadQuery Engine = "cadquery"
	EngineArchiyou Engine = "archiyou"
	EngineOpenSCAD Engine = "openscad"
)

// EngineForExtension derives the engine tag from a script source file's
// extension, as spec §3 requires (".py -> cadquery", ".js -> archiyou").
func EngineForExtension(ext string) (Engine, error) {
	switch strings.ToLower(ext) {
	case ".py":
		return EngineCadQuery, nil
	case ".js":
		return EngineArchiyou, nil
	case ".scad":
		return EngineOpenSCAD, nil
	default:
		return "", fmt.Errorf("no engine mapped for extension %q", ext)
	}
}

// Units enumerates the supported unit tags.
type Units string

const (
	UnitsMM    Units = "mm"
	UnitsCM    Units = "cm"
	UnitsDM    Units = "dm"
	UnitsM     Units = "m"
	UnitsInch  Units = "inch"
	UnitsFoot  Units = "foot"
	UnitsMile  Units = "mile"
	UnitsEmpty Units = ""
)

// License enumerates the supported license tags.
type License string

const (
	LicenseMIT        License = "MIT"
	LicenseApache2    License = "Apache-2.0"
	LicenseCC0        License = "CC0-1.0"
	LicenseCCBY       License = "CC-BY-4.0"
	LicenseProprietary License = "proprietary"
)

// Metadata holds descriptive, non-identity fields.
type Metadata struct {
	Title       string    `json:"title,omitempty"`
	Author      string    `json:"author,omitempty"`
	License     License   `json:"license,omitempty"`
	Description string    `json:"description,omitempty"`
	Units       Units      `json:"units,omitempty"`
	Published   bool      `json:"published"`
	Safe        bool      `json:"safe"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Script is an immutable-after-load script record.
type Script struct {
	Org     string `json:"org"`
	Name    string `json:"name"`
	Version string `json:"version"`

	Metadata Metadata `json:"metadata"`

	EngineTag     Engine         `json:"cad_engine"`
	EngineVersion string         `json:"cad_engine_version,omitempty"`
	EngineConfig  map[string]any `json:"cad_engine_config,omitempty"`

	Code string `json:"-"`

	// ParamOrder records declaration order so fingerprinting and
	// enumeration are deterministic; Params is keyed by name.
	ParamOrder []string                  `json:"-"`
	Params     map[string]param.Descriptor `json:"params"`

	Presets map[string]map[string]any `json:"param_presets,omitempty"`

	PublicCode bool `json:"public_code"`
}

// Namespace returns the stable "org/name" identity shared by every version.
func (s Script) Namespace() string {
	return s.Org + "/" + s.Name
}

// ID returns the fully qualified "org/name/version" identity.
func (s Script) ID() string {
	return s.Namespace() + "/" + s.Version
}

// CacheNamespace returns the on-disk cache namespace for this script
// version: "<org>/<name>/<version>/<name>-cache", matching the layout spec
// §4.4/§8 give literally (e.g. "tests/box/1.0.0/box-cache/<fp>/...").
func (s Script) CacheNamespace() string {
	return s.Org + "/" + s.Name + "/" + s.Version + "/" + s.Name + "-cache"
}

// DeclaredDocs returns the archiyou doc names declared in the script's
// engine config (cad_engine_config.docs), the set a request's "docs: true"
// setting expands to and a "docs: [...]" list is filtered against (spec
// §4.4). Returns nil for scripts that declare none.
func (s Script) DeclaredDocs() []string {
	raw, ok := s.EngineConfig["docs"]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if name, ok := v.(string); ok {
			out = append(out, name)
		}
	}
	return out
}

// ResolveRequiredDocs turns a request's raw "docs" setting into the
// resolved, pre-filtered list of doc names is_cached/get_cached must find in
// a cached bundle (spec §4.4): true expands to every declared doc name, a
// list is intersected with the declared set, anything else requires none.
func (s Script) ResolveRequiredDocs(docsSetting any) []string {
	switch v := docsSetting.(type) {
	case bool:
		if v {
			return s.DeclaredDocs()
		}
		return nil
	case []string:
		declared := s.DeclaredDocs()
		allowed := make(map[string]bool, len(declared))
		for _, d := range declared {
			allowed[d] = true
		}
		out := make([]string, 0, len(v))
		for _, name := range v {
			if allowed[name] {
				out = append(out, name)
			}
		}
		return out
	case []any:
		strs := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				strs = append(strs, s)
			}
		}
		return s.ResolveRequiredDocs(strs)
	default:
		return nil
	}
}

// OrderedParams returns the script's parameters as a name-ordered slice,
// suitable for fingerprint.Compute and param.Enumerate.
func (s Script) OrderedParams() []param.Named {
	out := make([]param.Named, 0, len(s.ParamOrder))
	for _, name := range s.ParamOrder {
		if d, ok := s.Params[name]; ok {
			out = append(out, param.Named{Name: name, Descriptor: d})
		}
	}
	return out
}

// Cachable reports whether every declared parameter is iterable, making the
// script eligible for batch precompute (spec §3, §4.3).
func (s Script) Cachable() bool {
	return param.Cachable(s.OrderedParams())
}

// ResolvePreset returns the named preset's {param -> value} map, or an error
// if it does not exist. Resolved preset values should be applied as request
// defaults, overridden by any explicit per-request param values (see
// SPEC_FULL.md's supplemented preset-application rule).
func (s Script) ResolvePreset(name string) (map[string]any, error) {
	preset, ok := s.Presets[name]
	if !ok {
		return nil, fmt.Errorf("preset %q not found on script %q", name, s.Namespace())
	}
	return preset, nil
}

// ParsedVersion parses the script's version as a semver (minor/patch
// optional, as spec §3 allows).
func (s Script) ParsedVersion() (*semver.Version, error) {
	return semver.NewVersion(s.Version)
}

// NormalizeIdentity lowercases org and name in place, as spec §3 requires.
func (s *Script) NormalizeIdentity() {
	s.Org = strings.ToLower(s.Org)
	s.Name = strings.ToLower(s.Name)
}

// SortVersions orders version strings by parsed semver, ascending. Invalid
// versions sort last and are reported via the returned error slice (the
// caller decides whether to skip them, per spec §4.1's load-time policy).
func SortVersions(versions []string) (sorted []string, invalid []string) {
	type parsed struct {
		raw string
		v   *semver.Version
	}
	var ok []parsed
	for _, raw := range versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			invalid = append(invalid, raw)
			continue
		}
		ok = append(ok, parsed{raw: raw, v: v})
	}
	// Simple insertion sort: namespaces rarely carry more than a handful of
	// versions, and stability matters more than asymptotic performance here.
	for i := 1; i < len(ok); i++ {
		j := i
		for j > 0 && ok[j].v.LessThan(ok[j-1].v) {
			ok[j], ok[j-1] = ok[j-1], ok[j]
			j--
		}
	}
	sorted = make([]string, len(ok))
	for i, p := range ok {
		sorted[i] = p.raw
	}
	return sorted, invalid
}

// Latest returns the last (highest) entry of an already-sorted version list,
// or "" if empty. Single-version namespaces short-circuit (spec §4.1).
func Latest(sortedVersions []string) string {
	if len(sortedVersions) == 0 {
		return ""
	}
	return sortedVersions[len(sortedVersions)-1]
}
