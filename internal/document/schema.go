package document

import (
	"fmt"
	"sort"

	"github.com/arrdeck/arrdeck/internal/constants"
)

// FieldSpec describes one scalar setting.
type FieldSpec struct {
	Name    string
	Kind    Kind
	Default any

	// AbsentEqualsEmpty makes a missing key compare equal to Kind.Empty().
	AbsentEqualsEmpty bool

	// ApplyImmediately fields are pushed to the backend as soon as they
	// are edited, in addition to the normal save path.
	ApplyImmediately bool

	// Secret values are masked in CLI output and logs.
	Secret bool
}

// Schema is the fixed field set of one scope.
type Schema struct {
	Scope           string
	Fields          []FieldSpec
	MultiInstance   bool
	InstanceOptions []FieldSpec

	fields  map[string]FieldSpec
	options map[string]FieldSpec
}

// FieldError rejects an edit or decoded value that does not fit the schema.
type FieldError struct {
	Scope  string
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Scope, e.Field, e.Reason)
}

func newSchema(scope string, multi bool, fields, options []FieldSpec) *Schema {
	s := &Schema{
		Scope:           scope,
		Fields:          fields,
		MultiInstance:   multi,
		InstanceOptions: options,
		fields:          make(map[string]FieldSpec, len(fields)),
		options:         make(map[string]FieldSpec, len(options)),
	}
	for _, f := range fields {
		s.fields[f.Name] = f
	}
	for _, f := range options {
		s.options[f.Name] = f
	}
	return s
}

// Field returns the definition of a document-level field.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Option returns the definition of a per-instance option.
func (s *Schema) Option(name string) (FieldSpec, bool) {
	f, ok := s.options[name]
	return f, ok
}

// CheckField validates value for a document field and returns it canonicalised.
func (s *Schema) CheckField(name string, value any) (any, error) {
	spec, ok := s.fields[name]
	if !ok {
		return nil, &FieldError{Scope: s.Scope, Field: name, Reason: "unknown field"}
	}
	return s.check(spec, value)
}

// CheckOption validates value for an instance option.
func (s *Schema) CheckOption(name string, value any) (any, error) {
	spec, ok := s.options[name]
	if !ok {
		return nil, &FieldError{Scope: s.Scope, Field: name, Reason: "unknown instance option"}
	}
	return s.check(spec, value)
}

func (s *Schema) check(spec FieldSpec, value any) (any, error) {
	canonical, ok := spec.Kind.Canonical(value)
	if !ok {
		return nil, &FieldError{
			Scope:  s.Scope,
			Field:  spec.Name,
			Reason: fmt.Sprintf("expected %s, got %T", spec.Kind, value),
		}
	}
	return canonical, nil
}

// ApplyImmediately lists the fields pushed to the backend on edit.
func (s *Schema) ApplyImmediately() []string {
	var names []string
	for _, f := range s.Fields {
		if f.ApplyImmediately {
			names = append(names, f.Name)
		}
	}
	return names
}

var registry = map[string]*Schema{}

func register(s *Schema) {
	registry[s.Scope] = s
}

// Lookup returns the schema of scope.
func Lookup(scope string) (*Schema, bool) {
	s, ok := registry[scope]
	return s, ok
}

// MustLookup is Lookup for scopes known at compile time.
func MustLookup(scope string) *Schema {
	s, ok := registry[scope]
	if !ok {
		panic(fmt.Sprintf("document: no schema for scope %q", scope))
	}
	return s
}

// Scopes lists every registered scope: general first, then applications in
// menu order.
func Scopes() []string {
	order := make(map[string]int, len(constants.ApplicationScopes)+1)
	order[constants.ScopeGeneral] = 0
	for i, app := range constants.ApplicationScopes {
		order[app] = i + 1
	}
	scopes := make([]string, 0, len(registry))
	for scope := range registry {
		scopes = append(scopes, scope)
	}
	sort.Slice(scopes, func(i, j int) bool {
		oi, iok := order[scopes[i]]
		oj, jok := order[scopes[j]]
		if iok != jok {
			return iok
		}
		if oi != oj {
			return oi < oj
		}
		return scopes[i] < scopes[j]
	})
	return scopes
}
