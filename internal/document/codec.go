package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope keys carried by backend responses but not part of a document.
var envelopeKeys = map[string]struct{}{
	"success": {},
	"error":   {},
}

const instancesKey = "instances"

// Decode parses a backend payload into a document of schema's scope.
// Schema fields are kind-checked and canonicalised, unknown keys land in
// Extra, and JSON nulls count as absent.
func Decode(schema *Schema, data []byte) (*Document, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("document: decode %s: %w", schema.Scope, err)
	}

	doc := &Document{
		Scope:  schema.Scope,
		Fields: make(map[string]any, len(schema.Fields)),
	}
	if schema.MultiInstance {
		doc.Instances = []Instance{}
	}

	for key, value := range raw {
		if _, skip := envelopeKeys[key]; skip {
			continue
		}
		if key == instancesKey && schema.MultiInstance {
			instances, err := decodeInstances(schema, value)
			if err != nil {
				return nil, err
			}
			doc.Instances = instances
			continue
		}
		spec, known := schema.Field(key)
		if !known {
			if doc.Extra == nil {
				doc.Extra = make(map[string]json.RawMessage)
			}
			doc.Extra[key] = append(json.RawMessage(nil), value...)
			continue
		}
		v, err := decodeScalar(value)
		if err != nil {
			return nil, fmt.Errorf("document: decode %s.%s: %w", schema.Scope, key, err)
		}
		if v == nil {
			continue
		}
		canonical, err := schema.check(spec, v)
		if err != nil {
			return nil, err
		}
		doc.Fields[key] = canonical
	}
	return doc, nil
}

func decodeInstances(schema *Schema, data json.RawMessage) ([]Instance, error) {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return []Instance{}, nil
	}
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("document: decode %s.instances: %w", schema.Scope, err)
	}

	instances := make([]Instance, 0, len(items))
	for i, item := range items {
		inst, err := decodeInstance(schema, item)
		if err != nil {
			return nil, fmt.Errorf("document: decode %s.instances[%d]: %w", schema.Scope, i, err)
		}
		if strings.TrimSpace(inst.Name) == "" {
			inst.Name = DefaultInstanceName(i + 1)
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

func decodeInstance(schema *Schema, item map[string]json.RawMessage) (Instance, error) {
	inst := Instance{Enabled: true, Options: make(map[string]any)}

	for key, value := range item {
		v, err := decodeScalar(value)
		if err != nil {
			return inst, fmt.Errorf("%s: %w", key, err)
		}
		switch key {
		case "name":
			inst.Name, err = stringValue(key, v)
		case "url":
			inst.URL, err = stringValue(key, v)
		case "api_key":
			inst.Credential, err = stringValue(key, v)
		case "instance_id":
			if n, ok := v.(json.Number); ok {
				inst.InstanceID = n.String()
			} else {
				inst.InstanceID, err = stringValue(key, v)
			}
		case "enabled":
			if v != nil {
				b, ok := v.(bool)
				if !ok {
					err = fmt.Errorf("expected bool, got %T", v)
				}
				inst.Enabled = b
			}
		default:
			if _, ok := schema.Option(key); !ok {
				if inst.Extra == nil {
					inst.Extra = make(map[string]json.RawMessage)
				}
				inst.Extra[key] = append(json.RawMessage(nil), value...)
				continue
			}
			if v == nil {
				continue
			}
			canonical, checkErr := schema.CheckOption(key, v)
			if checkErr != nil {
				return inst, checkErr
			}
			inst.Options[key] = canonical
		}
		if err != nil {
			return inst, err
		}
	}
	return inst, nil
}

func stringValue(key string, v any) (string, error) {
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: expected string, got %T", key, v)
	}
	return s, nil
}

// decodeScalar decodes one JSON value keeping numbers exact.
func decodeScalar(data json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// MarshalJSON merges fields, passthrough keys and instances into one object.
func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Fields)+len(d.Extra)+1)
	for k, v := range d.Extra {
		if len(v) > 0 {
			out[k] = v
		}
	}
	for k, v := range d.Fields {
		out[k] = v
	}
	schema, known := Lookup(d.Scope)
	if d.Instances != nil || (known && schema.MultiInstance) {
		instances := d.Instances
		if instances == nil {
			instances = []Instance{}
		}
		out[instancesKey] = instances
	}
	return json.Marshal(out)
}

// MarshalJSON writes the instance in backend wire form.
func (i Instance) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(i.Options)+len(i.Extra)+5)
	for k, v := range i.Extra {
		if len(v) > 0 {
			out[k] = v
		}
	}
	for k, v := range i.Options {
		out[k] = v
	}
	out["name"] = i.Name
	out["url"] = i.URL
	out["api_key"] = i.Credential
	out["enabled"] = i.Enabled
	if i.InstanceID != "" {
		out["instance_id"] = i.InstanceID
	}
	return json.Marshal(out)
}

const redacted = "********"

// Redacted returns a copy with credentials and secret fields masked.
func (d *Document) Redacted() *Document {
	out := d.Clone()
	if schema, ok := Lookup(d.Scope); ok {
		for _, f := range schema.Fields {
			if s, ok := out.Fields[f.Name].(string); ok && f.Secret && s != "" {
				out.Fields[f.Name] = redacted
			}
		}
	}
	for i := range out.Instances {
		if out.Instances[i].Credential != "" {
			out.Instances[i].Credential = redacted
		}
	}
	return out
}
