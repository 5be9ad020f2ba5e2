package propertytree

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Field declares one field of a settings document.
type Field struct {
	// Name is the document key.
	Name string

	// Kind is the field kind. Arrays are composites with Elem set.
	Kind Kind

	// Fields declares the members of a composite.
	Fields []Field

	// Elem declares the element type of an array.
	Elem *Field
}

// IsArray reports whether the field maps to an array node.
func (f Field) IsArray() bool {
	return f.Kind == KindComposite && f.Elem != nil
}

// Schema is the declarative mapping table between an importer type's
// settings document and its property tree.
type Schema struct {
	// Type is the importer type name.
	Type string

	// Fields are the top-level fields in traversal order.
	Fields []Field
}

// Build maps a settings document onto a tree. Keys missing from doc produce
// zero values; keys not declared by the schema are ignored.
func (s Schema) Build(doc map[string]any) (*Tree, error) {
	fields := make([]*Node, 0, len(s.Fields))
	for _, f := range s.Fields {
		n, err := buildNode(f, doc[f.Name])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Type, err)
		}
		fields = append(fields, n)
	}
	return New(s.Type, fields...), nil
}

func buildNode(f Field, raw any) (*Node, error) {
	switch {
	case f.IsArray():
		items, err := asList(f.Name, raw)
		if err != nil {
			return nil, err
		}
		elems := make([]*Node, 0, len(items))
		for i, item := range items {
			elem := *f.Elem
			elem.Name = elementName(i)
			n, err := buildNode(elem, item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			elems = append(elems, n)
		}
		return Array(f.Name, elems...), nil

	case f.Kind == KindComposite:
		members, err := asMap(f.Name, raw)
		if err != nil {
			return nil, err
		}
		children := make([]*Node, 0, len(f.Fields))
		for _, sub := range f.Fields {
			n, err := buildNode(sub, members[sub.Name])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			children = append(children, n)
		}
		return Composite(f.Name, children...), nil

	default:
		v, err := decodeValue(f.Kind, raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		return &Node{Name: f.Name, Kind: f.Kind, Value: v}, nil
	}
}

func decodeValue(kind Kind, raw any) (Value, error) {
	var v Value
	if n := kind.vectorLen(); n > 0 {
		v.Vec = make([]float64, n)
	}
	if raw == nil {
		return v, nil
	}

	switch kind {
	case KindInteger, KindEnum, KindArraySize:
		f, err := asNumber(raw)
		if err != nil {
			return v, err
		}
		if f != math.Trunc(f) {
			return v, fmt.Errorf("expected an integer, got %v", raw)
		}
		v.Int = int64(f)
	case KindBoolean:
		b, ok := raw.(bool)
		if !ok {
			return v, fmt.Errorf("expected a boolean, got %T", raw)
		}
		v.Bool = b
	case KindFloat:
		f, err := asNumber(raw)
		if err != nil {
			return v, err
		}
		v.Float = f
	case KindString, KindObjectReference:
		s, ok := raw.(string)
		if !ok {
			return v, fmt.Errorf("expected a string, got %T", raw)
		}
		v.Str = s
	case KindCharacter:
		s, ok := raw.(string)
		if !ok || len([]rune(s)) > 1 {
			return v, fmt.Errorf("expected a single character, got %v", raw)
		}
		v.Str = s
	case KindColor, KindVector2, KindVector3, KindVector4, KindRect, KindQuaternion, KindBounds:
		items, err := asList("vector", raw)
		if err != nil {
			return v, err
		}
		if len(items) != len(v.Vec) {
			return v, fmt.Errorf("expected %d components, got %d", len(v.Vec), len(items))
		}
		for i, item := range items {
			f, err := asNumber(item)
			if err != nil {
				return v, err
			}
			v.Vec[i] = f
		}
	case KindAnimationCurve:
		if err := remarshal(raw, &v.Curve); err != nil {
			return v, fmt.Errorf("invalid animation curve: %w", err)
		}
	case KindGradient:
		if err := remarshal(raw, &v.Gradient); err != nil {
			return v, fmt.Errorf("invalid gradient: %w", err)
		}
	default:
		return v, fmt.Errorf("unsupported leaf kind %s", kind)
	}
	return v, nil
}

// Document projects the tree back onto a plain settings document that can
// be encoded as JSON or YAML.
func (t *Tree) Document() map[string]any {
	doc := make(map[string]any, len(t.Fields()))
	for _, n := range t.Fields() {
		doc[n.Name] = nodeDocument(n)
	}
	return doc
}

func nodeDocument(n *Node) any {
	if n.Kind.IsComposite() {
		if isArrayNode(n) {
			items := make([]any, 0, len(n.Children)-1)
			for _, c := range n.Children[1:] {
				items = append(items, nodeDocument(c))
			}
			return items
		}
		members := make(map[string]any, len(n.Children))
		for _, c := range n.Children {
			members[c.Name] = nodeDocument(c)
		}
		return members
	}

	switch n.Kind {
	case KindInteger, KindEnum, KindArraySize:
		return n.Value.Int
	case KindBoolean:
		return n.Value.Bool
	case KindFloat:
		return n.Value.Float
	case KindString, KindCharacter, KindObjectReference:
		return n.Value.Str
	case KindAnimationCurve:
		keys := make([]any, len(n.Value.Curve))
		for i, k := range n.Value.Curve {
			keys[i] = map[string]any{"time": k.Time, "value": k.Value, "inTangent": k.InTangent, "outTangent": k.OutTangent}
		}
		return keys
	case KindGradient:
		keys := make([]any, len(n.Value.Gradient))
		for i, k := range n.Value.Gradient {
			keys[i] = map[string]any{"time": k.Time, "color": []any{k.Color[0], k.Color[1], k.Color[2], k.Color[3]}}
		}
		return keys
	default:
		vec := make([]any, len(n.Value.Vec))
		for i, f := range n.Value.Vec {
			vec[i] = f
		}
		return vec
	}
}

func isArrayNode(n *Node) bool {
	return len(n.Children) > 0 && n.Children[0].Kind == KindArraySize
}

// InferSchema derives a schema from the shape of a document. It is used for
// importer types without a registered schema: booleans, strings, integral
// numbers, other numbers, maps and lists become Boolean, String, Integer,
// Float, Composite and array fields. Map keys are ordered by name.
func InferSchema(importerType string, doc map[string]any) Schema {
	return Schema{Type: importerType, Fields: inferFields(doc)}
}

func inferFields(doc map[string]any) []Field {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, inferField(k, doc[k]))
	}
	return fields
}

func inferField(name string, raw any) Field {
	switch v := raw.(type) {
	case bool:
		return Field{Name: name, Kind: KindBoolean}
	case string:
		return Field{Name: name, Kind: KindString}
	case map[string]any:
		return Field{Name: name, Kind: KindComposite, Fields: inferFields(v)}
	case []any:
		elem := Field{Kind: KindString}
		if len(v) > 0 {
			elem = inferField("", v[0])
		}
		return Field{Name: name, Kind: KindComposite, Elem: &elem}
	default:
		if f, err := asNumber(raw); err == nil && f == math.Trunc(f) {
			return Field{Name: name, Kind: KindInteger}
		}
		return Field{Name: name, Kind: KindFloat}
	}
}

// Registry maps importer types to schemas.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]Schema)}
}

// DefaultRegistry returns a registry holding the built-in importer schemas.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, s := range BuiltinSchemas() {
		r.Register(s)
	}
	return r
}

// Register adds or replaces the schema for s.Type.
func (r *Registry) Register(s Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.Type] = s
}

// Lookup returns the schema registered for importerType.
func (r *Registry) Lookup(importerType string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[importerType]
	return s, ok
}

// Build builds a tree for importerType, inferring a schema when none is registered.
func (r *Registry) Build(importerType string, doc map[string]any) (*Tree, error) {
	s, ok := r.Lookup(importerType)
	if !ok {
		s = InferSchema(importerType, doc)
	}
	return s.Build(doc)
}

// Types returns the registered importer types in name order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func asNumber(raw any) (float64, error) {
	switch n := raw.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("expected a number, got %T", raw)
	}
}

func asList(name string, raw any) ([]any, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q: expected a list, got %T", name, raw)
	}
	return items, nil
}

func asMap(name string, raw any) (map[string]any, error) {
	if raw == nil {
		return nil, nil
	}
	members, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("field %q: expected a map, got %T", name, raw)
	}
	return members, nil
}

func remarshal(in any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
