package kv

import (
	"encoding/json"
	"fmt"
	"strings"
)

// metaCollection holds store bookkeeping such as the schema version.
const metaCollection = "__meta"

// Schema declares the collections of a store.
type Schema struct {
	Collections []Collection
}

// Collection is a named record set. Records are keyed either by the string
// found at KeyPath in the JSON value, or by an auto-assigned identifier.
type Collection struct {
	Name          string
	KeyPath       string
	AutoIncrement bool
	Indexes       []Index
}

// Index is a secondary index over the string field at KeyPath.
type Index struct {
	Name    string
	KeyPath string
}

// Validate checks names and key declarations.
func (s Schema) Validate() error {
	seen := make(map[string]bool, len(s.Collections))
	for _, c := range s.Collections {
		if err := validName(c.Name); err != nil {
			return fmt.Errorf("collection: %w", err)
		}
		if c.Name == metaCollection {
			return fmt.Errorf("collection name %q is reserved", c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate collection %q", c.Name)
		}
		seen[c.Name] = true

		if c.AutoIncrement == (c.KeyPath != "") {
			return fmt.Errorf("collection %q must declare exactly one of key path or auto increment", c.Name)
		}

		idx := make(map[string]bool, len(c.Indexes))
		for _, i := range c.Indexes {
			if err := validName(i.Name); err != nil {
				return fmt.Errorf("collection %q index: %w", c.Name, err)
			}
			if i.KeyPath == "" {
				return fmt.Errorf("collection %q index %q has no key path", c.Name, i.Name)
			}
			if idx[i.Name] {
				return fmt.Errorf("collection %q has duplicate index %q", c.Name, i.Name)
			}
			idx[i.Name] = true
		}
	}
	return nil
}

func validName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name")
	}
	if strings.ContainsAny(name, "\x00:/") {
		return fmt.Errorf("name %q contains a reserved character", name)
	}
	return nil
}

// withMeta returns the schema plus the internal bookkeeping collection.
func (s Schema) withMeta() Schema {
	cols := make([]Collection, 0, len(s.Collections)+1)
	cols = append(cols, s.Collections...)
	cols = append(cols, Collection{Name: metaCollection, KeyPath: "key"})
	return Schema{Collections: cols}
}

func (s Schema) collection(name string) (*Collection, bool) {
	for i := range s.Collections {
		if s.Collections[i].Name == name {
			return &s.Collections[i], true
		}
	}
	return nil, false
}

func (c *Collection) index(name string) (*Index, bool) {
	for i := range c.Indexes {
		if c.Indexes[i].Name == name {
			return &c.Indexes[i], true
		}
	}
	return nil, false
}

// indexValues extracts every declared index value present in value.
func (c *Collection) indexValues(value []byte) (map[string]string, error) {
	if len(c.Indexes) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(c.Indexes))
	for _, idx := range c.Indexes {
		v, ok, err := extractKeyPath(value, idx.KeyPath)
		if err != nil {
			return nil, err
		}
		if ok {
			out[idx.Name] = v
		}
	}
	return out, nil
}

// extractKeyPath resolves a dotted key path against a JSON object and
// returns the string found there. ok is false when the path is absent.
func extractKeyPath(value []byte, path string) (string, bool, error) {
	raw := json.RawMessage(value)
	for _, part := range strings.Split(path, ".") {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", false, fmt.Errorf("%w: value is not an object at %q", ErrInvalidKey, part)
		}
		next, ok := obj[part]
		if !ok {
			return "", false, nil
		}
		raw = next
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false, fmt.Errorf("%w: %q is not a string", ErrInvalidKey, path)
	}
	return s, true, nil
}
