package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/apptype"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/logging"
)

// fields that populate the node header rather than its field rows
var headerFields = map[string]struct{}{"name": {}, "type": {}, "image": {}}

var nameFallback = []string{"name", "code", "title", "content"}

const unknownName = "UNKNOWN"

// Conform adds entity, and every entity reachable from it, to the graph.
//
// Every entity is processed in two phases and the order is part of the
// contract. The link phase emits a link for each nested entity and conforms
// that entity before anything else happens. Only then does the field phase
// run, because a denormalized field ("created_by.HumanUser.login") is
// attached to the node of entity["created_by"], which the link phase has
// just materialized.
//
// A reference is identified by (from, field, list index, to) and yields at
// most one link per graph. Nested entities are conformed on every visit, so a
// later path that carries more fields still merges them, except when the
// entity is already being conformed further up the stack. That bound keeps
// cyclic input finite.
//
// Any error aborts the pass; the graph must then be discarded.
func (g *Graph) Conform(entity apptype.RawEntity) error {
	ref, err := RefOf(entity)
	if err != nil {
		return err
	}
	key := EncodeKey(ref)
	g.active[key] = struct{}{}
	defer delete(g.active, key)

	draft := apptype.NewNode(key, DisplayName(entity), ref.Type)
	draft.Image = imageOf(entity)

	node, ok := g.nodes.Get(key)
	if !ok {
		// registered up front so a denormalized field further down the
		// stack can already point at this entity
		node = apptype.NewNode(key, draft.Name, draft.Type)
		g.nodes.Set(key, node)
	}

	if err := g.linkPhase(key, entity); err != nil {
		return err
	}
	if err := g.fieldPhase(key, entity, draft); err != nil {
		return err
	}

	node.Name = draft.Name
	node.Type = draft.Type
	if draft.Image != nil {
		node.Image = draft.Image
	}
	for _, f := range draft.Fields() {
		node.AddField(f.Field, f.Value)
	}
	return nil
}

func (g *Graph) linkPhase(key apptype.NodeKey, entity apptype.RawEntity) error {
	return entity.Each(func(field string, value any) error {
		items, ok := apptype.AsList(value)
		if !ok {
			items = []any{value}
		}
		for i, item := range items {
			nested, ok := apptype.AsEntity(item)
			if !ok {
				continue
			}
			if id, hasID := nested.Get("id"); !hasID || id == nil {
				continue
			}
			to, err := KeyOf(nested)
			if err != nil {
				return withContext(err, key, field)
			}
			s := step{from: key, field: field, index: i, to: to}
			if _, seen := g.taken[s]; !seen {
				g.taken[s] = struct{}{}
				g.links = append(g.links, apptype.Link{From: key, FromPort: field, To: to})
			}
			if _, busy := g.active[to]; busy {
				continue
			}
			if err := g.Conform(nested); err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *Graph) fieldPhase(key apptype.NodeKey, entity apptype.RawEntity, draft *apptype.Node) error {
	return entity.Each(func(field string, value any) error {
		if _, skip := headerFields[field]; skip {
			return nil
		}
		if isLinkValue(value) {
			label, err := Normalize(value)
			if err != nil {
				return withContext(err, key, field)
			}
			draft.AddField(field, label)
			return nil
		}
		if local, remote, ok := splitDenormalized(field); ok {
			return g.attachDenormalized(key, entity, field, local, remote, value)
		}
		v, err := Normalize(value)
		if err != nil {
			return withContext(err, key, field)
		}
		draft.AddField(field, v)
		return nil
	})
}

// attachDenormalized moves the value of "local.LinkedType.remote" onto the
// node referenced by entity[local].
func (g *Graph) attachDenormalized(key apptype.NodeKey, entity apptype.RawEntity, field, local, remote string, value any) error {
	targetValue, ok := entity.Get(local)
	if !ok || targetValue == nil {
		logging.L().Debug("dropping denormalized field without a linked entity", "node", key, "field", field)
		return nil
	}
	if _, isList := apptype.AsList(targetValue); isList {
		return &MalformedEntityError{Entity: string(key), Field: field, Reason: fmt.Sprintf("%q links several entities; denormalized fields need a single link", local)}
	}
	target, ok := apptype.AsEntity(targetValue)
	if !ok {
		return &MalformedEntityError{Entity: string(key), Field: field, Reason: fmt.Sprintf("%q is not an entity link", local)}
	}
	targetKey, err := KeyOf(target)
	if err != nil {
		return withContext(err, key, field)
	}
	targetNode, ok := g.nodes.Get(targetKey)
	if !ok {
		return &DanglingLinkError{From: key, Field: field, Target: targetKey}
	}
	v, err := Normalize(value)
	if err != nil {
		return withContext(err, key, field)
	}
	targetNode.AddField(remote, v)
	return nil
}

// splitDenormalized splits "local.LinkedType.remote". Field names with any
// other number of dots are ordinary fields.
func splitDenormalized(field string) (local, remote string, ok bool) {
	if strings.Count(field, ".") != 2 {
		return "", "", false
	}
	parts := strings.Split(field, ".")
	if parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// IsDenormalized reports whether field names a value of a linked entity.
func IsDenormalized(field string) bool {
	_, _, ok := splitDenormalized(field)
	return ok
}

// LocalField returns the link field of a denormalized field name.
func LocalField(field string) (string, bool) {
	local, _, ok := splitDenormalized(field)
	return local, ok
}

func isLinkValue(v any) bool {
	if _, ok := apptype.AsList(v); ok {
		return true
	}
	_, ok := apptype.AsEntity(v)
	return ok
}

// DisplayName returns the first non-nil of name, code, title and content,
// or "UNKNOWN".
func DisplayName(e apptype.RawEntity) string {
	for _, field := range nameFallback {
		if v, ok := e.Get(field); ok && v != nil {
			return displayString(v)
		}
	}
	return unknownName
}

func imageOf(e apptype.RawEntity) *string {
	v, ok := e.Get("image")
	if !ok || v == nil {
		return nil
	}
	s := displayString(v)
	return &s
}

// withContext fills in the entity and field of a MalformedEntityError raised
// below the conformer.
func withContext(err error, key apptype.NodeKey, field string) error {
	var me *MalformedEntityError
	if errors.As(err, &me) && me.Entity == "" {
		me.Entity = string(key)
		me.Field = field
	}
	return err
}
