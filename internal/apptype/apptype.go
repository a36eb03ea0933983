package apptype

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// EntityRef is the canonical identity of a record in the data source
type EntityRef struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// NodeKey identifies a node in the conformed graph ("<type>:<id>")
type NodeKey string

// RawEntity is a record as returned by the data source. Field order is
// preserved so that conforming the same input always yields the same output.
type RawEntity struct {
	m *orderedmap.OrderedMap[string, any]
}

// NewRawEntity builds an entity from alternating key/value arguments.
func NewRawEntity(kv ...any) RawEntity {
	e := RawEntity{m: orderedmap.New[string, any](len(kv) / 2)}
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		e.m.Set(k, kv[i+1])
	}
	return e
}

// EntityFromMap converts a plain map. Keys are taken in sorted order since
// Go maps carry no order of their own.
func EntityFromMap(src map[string]any) RawEntity {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	e := RawEntity{m: orderedmap.New[string, any](len(keys))}
	for _, k := range keys {
		e.m.Set(k, src[k])
	}
	return e
}

// Get returns the value stored under field.
func (e RawEntity) Get(field string) (any, bool) {
	if e.m == nil {
		return nil, false
	}
	return e.m.Get(field)
}

// Set stores a value, keeping the position of an existing field.
func (e *RawEntity) Set(field string, value any) {
	if e.m == nil {
		e.m = orderedmap.New[string, any]()
	}
	e.m.Set(field, value)
}

// Len returns the number of fields.
func (e RawEntity) Len() int {
	if e.m == nil {
		return 0
	}
	return e.m.Len()
}

// Keys returns field names in order.
func (e RawEntity) Keys() []string {
	keys := make([]string, 0, e.Len())
	if e.m == nil {
		return keys
	}
	for pair := e.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Each calls fn for every field in order, stopping at the first error.
func (e RawEntity) Each(fn func(field string, value any) error) error {
	if e.m == nil {
		return nil
	}
	for pair := e.m.Oldest(); pair != nil; pair = pair.Next() {
		if err := fn(pair.Key, pair.Value); err != nil {
			return err
		}
	}
	return nil
}

// ToMap returns an unordered copy of the fields.
func (e RawEntity) ToMap() map[string]any {
	out := make(map[string]any, e.Len())
	_ = e.Each(func(k string, v any) error {
		out[k] = v
		return nil
	})
	return out
}

func (e RawEntity) MarshalJSON() ([]byte, error) {
	if e.m == nil {
		return []byte("{}"), nil
	}
	return e.m.MarshalJSON()
}

// UnmarshalJSON decodes an object keeping key order at every nesting level.
// Integral numbers decode as int64, all other numbers as float64.
func (e *RawEntity) UnmarshalJSON(data []byte) error {
	raw := orderedmap.New[string, json.RawMessage]()
	if err := raw.UnmarshalJSON(data); err != nil {
		return err
	}
	e.m = orderedmap.New[string, any](raw.Len())
	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		v, err := decodeValue(pair.Value)
		if err != nil {
			return fmt.Errorf("field %q: %w", pair.Key, err)
		}
		e.m.Set(pair.Key, v)
	}
	return nil
}

func decodeValue(data json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch trimmed[0] {
	case '{':
		var nested RawEntity
		if err := nested.UnmarshalJSON(trimmed); err != nil {
			return nil, err
		}
		return nested, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			v, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return v, nil
}

// AsEntity reports whether v is a nested record (summary or full entity).
func AsEntity(v any) (RawEntity, bool) {
	switch t := v.(type) {
	case RawEntity:
		return t, t.m != nil
	case *RawEntity:
		if t == nil || t.m == nil {
			return RawEntity{}, false
		}
		return *t, true
	case map[string]any:
		if t == nil {
			return RawEntity{}, false
		}
		return EntityFromMap(t), true
	}
	return RawEntity{}, false
}

// AsList reports whether v is a list value and returns its elements.
func AsList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []RawEntity:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	case []*RawEntity:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	case []string:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	}
	return nil, false
}

// Field is one displayable row of a node
type Field struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// Node is the visualization representation of one entity. Field names are
// unique per node; insertion order is kept for display.
type Node struct {
	Key    NodeKey
	Name   string
	Type   string
	Image  *string
	Group  string
	fields *orderedmap.OrderedMap[string, any]
}

// NewNode returns an empty node shell.
func NewNode(key NodeKey, name, entityType string) *Node {
	return &Node{
		Key:    key,
		Name:   name,
		Type:   entityType,
		fields: orderedmap.New[string, any](),
	}
}

// Field returns the value of a field.
func (n *Node) Field(name string) (any, bool) {
	if n.fields == nil {
		return nil, false
	}
	return n.fields.Get(name)
}

// HasField reports whether the field is present.
func (n *Node) HasField(name string) bool {
	_, ok := n.Field(name)
	return ok
}

// AddField stores a field unless one with the same name exists. It reports
// whether the field was added.
func (n *Node) AddField(name string, value any) bool {
	if n.fields == nil {
		n.fields = orderedmap.New[string, any]()
	}
	if _, ok := n.fields.Get(name); ok {
		return false
	}
	n.fields.Set(name, value)
	return true
}

// Fields returns the fields in display order.
func (n *Node) Fields() []Field {
	out := make([]Field, 0, n.FieldCount())
	if n.fields == nil {
		return out
	}
	for pair := n.fields.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, Field{Field: pair.Key, Value: pair.Value})
	}
	return out
}

// FieldCount returns the number of fields.
func (n *Node) FieldCount() int {
	if n.fields == nil {
		return 0
	}
	return n.fields.Len()
}

type nodeJSON struct {
	Key    NodeKey `json:"key"`
	Name   string  `json:"name"`
	Type   string  `json:"type"`
	Image  *string `json:"image"`
	Fields []Field `json:"fields"`
	Group  string  `json:"group,omitempty"`
}

func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(nodeJSON{
		Key:    n.Key,
		Name:   n.Name,
		Type:   n.Type,
		Image:  n.Image,
		Fields: n.Fields(),
		Group:  n.Group,
	})
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var v nodeJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = *NewNode(v.Key, v.Name, v.Type)
	n.Image = v.Image
	n.Group = v.Group
	for _, f := range v.Fields {
		n.AddField(f.Field, f.Value)
	}
	return nil
}

// Link is a directed edge: From referenced To through field FromPort
type Link struct {
	From     NodeKey `json:"from"`
	FromPort string  `json:"fromPort"`
	To       NodeKey `json:"to"`
}

// Group is a category pseudo-node. A node belongs to at most one group.
type Group struct {
	Key     string `json:"key"`
	Text    string `json:"text"`
	IsGroup bool   `json:"isGroup"`
}

// Payload is the serialized graph handed to the renderer
type Payload struct {
	Nodes []any  `json:"nodes"`
	Links []Link `json:"links"`
}

// FilterOp is a data source filter operator
type FilterOp string

const (
	OpIn FilterOp = "in"
	OpIs FilterOp = "is"
)

// Filter is one condition of a data source query, e.g. ["id", "in", [1, 2]]
type Filter struct {
	Field string   `json:"field"`
	Op    FilterOp `json:"op"`
	Value any      `json:"value"`
}

// IDIn matches records whose id is one of ids.
func IDIn(ids []int64) Filter {
	return Filter{Field: "id", Op: OpIn, Value: ids}
}

// ProjectIs matches records linked to the given project.
func ProjectIs(project EntityRef) Filter {
	return Filter{Field: "project", Op: OpIs, Value: project}
}
