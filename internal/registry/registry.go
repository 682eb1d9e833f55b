// Package registry implements CRUD over the instances of a multi-instance
// document. Every operation is synchronous and touches only the in-memory
// live snapshot.
package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arrdeck/arrdeck/internal/constants"
	"github.com/arrdeck/arrdeck/internal/document"
)

var (
	// ErrCapacityExceeded rejects an add past constants.MaxInstancesPerScope.
	ErrCapacityExceeded = errors.New("registry: instance capacity exceeded")
	// ErrLastInstanceProtected rejects removing the only instance.
	ErrLastInstanceProtected = errors.New("registry: last instance cannot be removed, disable it instead")
	// ErrIndexOutOfRange rejects an index that does not exist.
	ErrIndexOutOfRange = errors.New("registry: instance index out of range")
	// ErrNotMultiInstance rejects instance operations on single-connection scopes.
	ErrNotMultiInstance = errors.New("registry: scope does not hold instances")
)

// Patch is a partial instance update. Nil fields are left untouched.
// InstanceID is intentionally absent: it is server-assigned.
type Patch struct {
	Name       *string
	URL        *string
	Credential *string
	Enabled    *bool
	Options    map[string]any
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Name == nil && p.URL == nil && p.Credential == nil && p.Enabled == nil && len(p.Options) == 0
}

// Registry operates on one document's instance list.
type Registry struct {
	schema   *document.Schema
	doc      *document.Document
	onChange func()
}

// New binds a registry to doc. onChange runs after every successful mutation.
func New(schema *document.Schema, doc *document.Document, onChange func()) *Registry {
	return &Registry{schema: schema, doc: doc, onChange: onChange}
}

// Bind points the registry at a new live document, e.g. after a reload.
func (r *Registry) Bind(doc *document.Document) {
	r.doc = doc
}

func (r *Registry) check() error {
	if !r.schema.MultiInstance {
		return fmt.Errorf("%w: %s", ErrNotMultiInstance, r.schema.Scope)
	}
	if r.doc == nil {
		return fmt.Errorf("registry: %s document not loaded", r.schema.Scope)
	}
	return nil
}

func (r *Registry) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}

// Add appends an empty instance and returns its index.
func (r *Registry) Add() (int, error) {
	if err := r.check(); err != nil {
		return -1, err
	}
	n := len(r.doc.Instances)
	if n >= constants.MaxInstancesPerScope {
		return -1, fmt.Errorf("%w: %s already has %d", ErrCapacityExceeded, r.schema.Scope, n)
	}
	r.doc.Instances = append(r.doc.Instances, document.NewInstance(r.schema, n+1))
	r.changed()
	return n, nil
}

// Remove splices out the instance at index. The next instance in order
// becomes the default when index 0 is removed.
func (r *Registry) Remove(index int) error {
	if err := r.check(); err != nil {
		return err
	}
	if err := r.inRange(index); err != nil {
		return err
	}
	if len(r.doc.Instances) <= 1 {
		return ErrLastInstanceProtected
	}
	r.doc.Instances = append(r.doc.Instances[:index:index], r.doc.Instances[index+1:]...)
	r.changed()
	return nil
}

// Update merges patch into the instance at index.
func (r *Registry) Update(index int, patch Patch) error {
	if err := r.check(); err != nil {
		return err
	}
	if err := r.inRange(index); err != nil {
		return err
	}

	// Validate every option before touching the instance.
	options := make(map[string]any, len(patch.Options))
	for name, value := range patch.Options {
		canonical, err := r.schema.CheckOption(name, value)
		if err != nil {
			return err
		}
		options[name] = canonical
	}

	inst := r.doc.Instances[index].Clone()
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			name = document.DefaultInstanceName(index + 1)
		}
		inst.Name = name
	}
	if patch.URL != nil {
		inst.URL = document.NormalizeURL(*patch.URL)
	}
	if patch.Credential != nil {
		inst.Credential = strings.TrimSpace(*patch.Credential)
	}
	if patch.Enabled != nil {
		inst.Enabled = *patch.Enabled
	}
	if len(options) > 0 && inst.Options == nil {
		inst.Options = make(map[string]any, len(options))
	}
	for name, value := range options {
		inst.Options[name] = value
	}

	r.doc.Instances[index] = inst
	r.changed()
	return nil
}

// Read returns a deep copy of the instance at index.
func (r *Registry) Read(index int) (document.Instance, error) {
	if err := r.check(); err != nil {
		return document.Instance{}, err
	}
	if err := r.inRange(index); err != nil {
		return document.Instance{}, err
	}
	return r.doc.Instances[index].Clone(), nil
}

// List returns deep copies of every instance in order.
func (r *Registry) List() []document.Instance {
	if r.doc == nil {
		return nil
	}
	out := make([]document.Instance, len(r.doc.Instances))
	for i, inst := range r.doc.Instances {
		out[i] = inst.Clone()
	}
	return out
}

// Len returns the number of instances.
func (r *Registry) Len() int {
	if r.doc == nil {
		return 0
	}
	return len(r.doc.Instances)
}

// Default returns the default instance, which is always the first one.
func (r *Registry) Default() (document.Instance, bool) {
	if r.Len() == 0 {
		return document.Instance{}, false
	}
	return r.doc.Instances[0].Clone(), true
}

func (r *Registry) inRange(index int) error {
	if index < 0 || index >= len(r.doc.Instances) {
		return fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index, len(r.doc.Instances))
	}
	return nil
}
