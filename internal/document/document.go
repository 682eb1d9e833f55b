// Package document models configuration documents: per-scope schemas, the
// document and instance types, deep copies and the JSON wire codec.
package document

import (
	"encoding/json"
	"fmt"

	"github.com/arrdeck/arrdeck/internal/validate"
)

// Document is the named bundle of settings for one scope.
type Document struct {
	Scope     string
	Fields    map[string]any
	Instances []Instance

	// Extra holds keys the schema does not know, passed through verbatim.
	Extra map[string]json.RawMessage
}

// Instance is one named connection to a downstream application.
type Instance struct {
	Name       string
	URL        string
	Credential string
	Enabled    bool

	// InstanceID is assigned by the backend on first save.
	InstanceID string

	Options map[string]any
	Extra   map[string]json.RawMessage
}

// New returns a document for schema populated with defaults. Multi-instance
// scopes start with no instances.
func New(schema *Schema) *Document {
	doc := &Document{
		Scope:  schema.Scope,
		Fields: make(map[string]any, len(schema.Fields)),
	}
	for _, f := range schema.Fields {
		if f.Default != nil {
			v, _ := f.Kind.Canonical(f.Default)
			doc.Fields[f.Name] = v
		}
	}
	return doc
}

// DefaultInstanceName is the display name of the n-th instance (1-based).
func DefaultInstanceName(n int) string {
	return fmt.Sprintf("Instance %d", n)
}

// NewInstance returns an empty, enabled instance named for position n
// (1-based) with options at their schema defaults.
func NewInstance(schema *Schema, n int) Instance {
	inst := Instance{
		Name:    DefaultInstanceName(n),
		Enabled: true,
		Options: make(map[string]any, len(schema.InstanceOptions)),
	}
	for _, o := range schema.InstanceOptions {
		if o.Default != nil {
			v, _ := o.Kind.Canonical(o.Default)
			inst.Options[o.Name] = v
		}
	}
	return inst
}

// NormalizeURL trims whitespace and trailing separators from an instance URL.
func NormalizeURL(raw string) string {
	return validate.InstanceURL(raw)
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{
		Scope:  d.Scope,
		Fields: cloneFields(d.Fields),
		Extra:  cloneRaw(d.Extra),
	}
	if d.Instances != nil {
		out.Instances = make([]Instance, len(d.Instances))
		for i, inst := range d.Instances {
			out.Instances[i] = inst.Clone()
		}
	}
	return out
}

// Clone returns a deep copy.
func (i Instance) Clone() Instance {
	i.Options = cloneFields(i.Options)
	i.Extra = cloneRaw(i.Extra)
	return i
}

// Field returns the value of a document field.
func (d *Document) Field(name string) (any, bool) {
	v, ok := d.Fields[name]
	return v, ok
}

// String returns a string field or "" when absent or of another kind.
func (d *Document) String(name string) string {
	s, _ := d.Fields[name].(string)
	return s
}

// Bool returns a bool field or false.
func (d *Document) Bool(name string) bool {
	b, _ := d.Fields[name].(bool)
	return b
}

// Int returns an int field or 0.
func (d *Document) Int(name string) int64 {
	i, _ := d.Fields[name].(int64)
	return i
}

func cloneFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneRaw(in map[string]json.RawMessage) map[string]json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
