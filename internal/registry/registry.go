// Package registry loads the opaque, user-supplied content tables named
// in spec.md §6: items, monsters, rooms, or any other collection the
// deployment defines. The core never interprets these values — it loads
// them once at startup and serves them read-only through Get and
// Collection; they are not passed to plugins or scripts.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Collection is one content table: id -> opaque JSON value.
type Collection map[string]json.RawMessage

// Registry is the immutable, two-level collection_name -> id -> value
// mapping spec.md §6 names. It never changes after Load returns.
type Registry struct {
	collections map[string]Collection
}

// Get returns the raw value for (collection, id).
func (r *Registry) Get(collection, id string) (json.RawMessage, bool) {
	c, ok := r.collections[collection]
	if !ok {
		return nil, false
	}
	v, ok := c[id]
	return v, ok
}

// Collection returns every id in a collection, sorted, for deterministic
// iteration, or false if the collection doesn't exist.
func (r *Registry) Collection(name string) ([]string, bool) {
	c, ok := r.collections[name]
	if !ok {
		return nil, false
	}
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, true
}

// Collections returns every loaded collection name, sorted.
func (r *Registry) Collections() []string {
	names := make([]string, 0, len(r.collections))
	for name := range r.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads every content table under dir, per spec.md §6: a top-level
// "<name>.json" or "<name>.yaml"/"<name>.yml" file holds an array of
// `{id, ...}` objects for collection "<name>"; a subdirectory "<name>/"
// holds one JSON or YAML object per file, the filename (without
// extension) supplying that object's id. YAML content is decoded and
// re-encoded as JSON at load time, so Get/Collection callers only ever
// see json.RawMessage regardless of which format a deployment authored
// its tables in. Duplicate ids within a collection fail the load.
func Load(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", dir, err)
	}

	r := &Registry{collections: make(map[string]Collection)}
	for _, e := range entries {
		name := e.Name()
		switch {
		case e.IsDir():
			coll, err := loadDirCollection(filepath.Join(dir, name))
			if err != nil {
				return nil, fmt.Errorf("registry: collection %q: %w", name, err)
			}
			if err := r.addCollection(name, coll); err != nil {
				return nil, err
			}
		case strings.HasSuffix(name, ".json"), strings.HasSuffix(name, ".yaml"), strings.HasSuffix(name, ".yml"):
			collName := stripKnownExt(name)
			coll, err := loadArrayCollection(filepath.Join(dir, name))
			if err != nil {
				return nil, fmt.Errorf("registry: collection %q: %w", collName, err)
			}
			if err := r.addCollection(collName, coll); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func stripKnownExt(name string) string {
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

func (r *Registry) addCollection(name string, c Collection) error {
	if _, exists := r.collections[name]; exists {
		return fmt.Errorf("registry: collection %q loaded twice", name)
	}
	r.collections[name] = c
	return nil
}

// loadArrayCollection parses a top-level "<name>.json"/".yaml"/".yml"
// file: an array of objects, each carrying an "id" field.
func loadArrayCollection(path string) (Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if isYAMLPath(path) {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	coll := make(Collection, len(raw))
	for _, item := range raw {
		var idHolder struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(item, &idHolder); err != nil {
			return nil, fmt.Errorf("parse entry in %s: %w", path, err)
		}
		id, err := rawToID(idHolder.ID)
		if err != nil {
			return nil, fmt.Errorf("entry in %s: %w", path, err)
		}
		if _, dup := coll[id]; dup {
			return nil, fmt.Errorf("duplicate id %q in %s", id, path)
		}
		coll[id] = item
	}
	return coll, nil
}

// loadDirCollection parses a "<name>/" subdirectory: one JSON or YAML
// object per file, the filename (minus its extension) supplying the id.
func loadDirCollection(path string) (Collection, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	coll := make(Collection, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || (!strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		id := stripKnownExt(name)
		data, err := os.ReadFile(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}
		if isYAMLPath(name) {
			data, err = yamlToJSON(data)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", name, err)
			}
		} else if !json.Valid(data) {
			return nil, fmt.Errorf("invalid json in %s", name)
		}
		if _, dup := coll[id]; dup {
			return nil, fmt.Errorf("duplicate id %q", id)
		}
		coll[id] = json.RawMessage(data)
	}
	return coll, nil
}

func isYAMLPath(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

// yamlToJSON decodes a YAML document and re-encodes it as JSON, so the
// rest of this package can treat every collection entry as a uniform
// json.RawMessage regardless of source format.
func yamlToJSON(data []byte) (json.RawMessage, error) {
	var v interface{}
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func rawToID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("missing id field")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	return strings.TrimSpace(string(raw)), nil
}
