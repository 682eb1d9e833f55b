package dirty

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/arrdeck/arrdeck/internal/document"
)

// Equal reports whether a and b are structurally equal under schema.
func Equal(schema *document.Schema, a, b *document.Document) bool {
	return len(diff(schema, a, b, true)) == 0
}

// Diff lists the paths that differ between a and b, in deterministic order.
//
// Paths look like "language", "instances.length", "instances[1].url",
// "instances[0].options.monitored_only" or "extra.ui_theme".
func Diff(schema *document.Schema, a, b *document.Document) []string {
	return diff(schema, a, b, false)
}

func diff(schema *document.Schema, a, b *document.Document, firstOnly bool) []string {
	if a == nil || b == nil {
		if a == b {
			return nil
		}
		return []string{"document"}
	}

	var paths []string
	add := func(path string) bool {
		paths = append(paths, path)
		return firstOnly
	}

	if a.Scope != b.Scope {
		if add("scope") {
			return paths
		}
	}

	for _, key := range unionKeys(a.Fields, b.Fields) {
		if !scalarEqual(lookupSpec(schema.Field, key), a.Fields, b.Fields, key) {
			if add(key) {
				return paths
			}
		}
	}

	for _, key := range unionRawKeys(a.Extra, b.Extra) {
		if !rawEqual(a.Extra, b.Extra, key) {
			if add("extra." + key) {
				return paths
			}
		}
	}

	if len(a.Instances) != len(b.Instances) {
		if add("instances.length") {
			return paths
		}
	}
	n := min(len(a.Instances), len(b.Instances))
	for i := 0; i < n; i++ {
		for _, p := range diffInstance(schema, a.Instances[i], b.Instances[i]) {
			if add(fmt.Sprintf("instances[%d].%s", i, p)) {
				return paths
			}
		}
	}
	return paths
}

func diffInstance(schema *document.Schema, a, b document.Instance) []string {
	var paths []string
	if a.Name != b.Name {
		paths = append(paths, "name")
	}
	if a.URL != b.URL {
		paths = append(paths, "url")
	}
	if a.Credential != b.Credential {
		paths = append(paths, "api_key")
	}
	if a.Enabled != b.Enabled {
		paths = append(paths, "enabled")
	}
	if a.InstanceID != b.InstanceID {
		paths = append(paths, "instance_id")
	}
	for _, key := range unionKeys(a.Options, b.Options) {
		if !scalarEqual(lookupSpec(schema.Option, key), a.Options, b.Options, key) {
			paths = append(paths, "options."+key)
		}
	}
	for _, key := range unionRawKeys(a.Extra, b.Extra) {
		if !rawEqual(a.Extra, b.Extra, key) {
			paths = append(paths, "extra."+key)
		}
	}
	return paths
}

type specLookup struct {
	spec  document.FieldSpec
	known bool
}

func lookupSpec(fn func(string) (document.FieldSpec, bool), key string) specLookup {
	spec, ok := fn(key)
	return specLookup{spec: spec, known: ok}
}

// scalarEqual compares one key. Absence equals the kind's empty value only
// when the schema field allows it; values of different types never match.
func scalarEqual(s specLookup, a, b map[string]any, key string) bool {
	va, oka := a[key]
	vb, okb := b[key]
	switch {
	case oka && okb:
		return reflect.DeepEqual(va, vb)
	case !oka && !okb:
		return true
	case !s.known || !s.spec.AbsentEqualsEmpty:
		return false
	case oka:
		return reflect.DeepEqual(va, s.spec.Kind.Empty())
	default:
		return reflect.DeepEqual(vb, s.spec.Kind.Empty())
	}
}

func rawEqual(a, b map[string]json.RawMessage, key string) bool {
	va, oka := a[key]
	vb, okb := b[key]
	if oka != okb {
		return false
	}
	if !oka {
		return true
	}
	if bytes.Equal(va, vb) {
		return true
	}
	ca, errA := canonicalJSON(va)
	cb, errB := canonicalJSON(vb)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

// canonicalJSON re-encodes raw with sorted object keys and no whitespace.
func canonicalJSON(raw json.RawMessage) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func unionKeys(a, b map[string]any) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	return sortedKeys(seen)
}

func unionRawKeys(a, b map[string]json.RawMessage) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
