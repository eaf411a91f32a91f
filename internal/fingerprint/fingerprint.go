// Package fingerprint turns a script name and a parameter map into a stable,
// short, URL-safe key. See spec §4.2.
package fingerprint

import (
	"crypto/md5" //nolint:gosec // not a security boundary, just a short stable key
	"encoding/base64"
	"sort"
	"strconv"
	"strings"
)

// Length is the number of characters the fingerprint is truncated to.
// Accepts birthday-paradox collisions at roughly 10^6 distinct tuples per
// script version (see SPEC_FULL.md's carried-over open question).
const Length = 11

// Compute returns the fingerprint for a script name and a parameter map,
// given the declared insertion order of the script's parameter names.
// Values are serialized with canonical, deterministic JSON so the same
// (name, params) pair always yields the same fingerprint.
func Compute(scriptName string, order []string, values map[string]any) string {
	var b strings.Builder
	b.WriteString(scriptName)
	for _, name := range order {
		v, ok := values[name]
		if !ok {
			continue
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(canonicalJSON(v))
		b.WriteByte('&')
	}
	sum := md5.Sum([]byte(b.String())) //nolint:gosec
	encoded := base64.URLEncoding.EncodeToString(sum[:])
	if len(encoded) > Length {
		encoded = encoded[:Length]
	}
	return encoded
}

// canonicalJSON renders a value the way the fingerprint needs: deterministic,
// without locale formatting, with map keys sorted when a value happens to be
// a map (values here are always scalars or strings in practice, but sorting
// protects against a future structured parameter value).
func canonicalJSON(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		if x {
			return "true"
		}
		return "false"
	case string:
		return strconv.Quote(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			b.WriteString(canonicalJSON(x[k]))
		}
		b.WriteByte('}')
		return b.String()
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(canonicalJSON(e))
		}
		b.WriteByte(']')
		return b.String()
	default:
		return strconv.Quote("")
	}
}
