package graph

import (
	"fmt"
	"reflect"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/apptype"
)

// ApplyGrouping assigns nodes of rootType to a group named after their
// groupField value and returns one Group per distinct value, in the order
// the values were first seen.
//
// Only one level is supported: a node belongs to at most one group, which
// is all the renderer's data model can express. Nodes of other types are
// left ungrouped.
func ApplyGrouping(g *Graph, rootType, groupField string) ([]apptype.Group, error) {
	groups := make([]apptype.Group, 0)
	if groupField == "" {
		return groups, nil
	}
	seen := make(map[string]struct{})
	for _, node := range g.Nodes() {
		if node.Type != rootType {
			continue
		}
		raw, ok := node.Field(groupField)
		if !ok {
			continue
		}
		value, err := groupValue(raw)
		if err != nil {
			return nil, withContext(err, node.Key, groupField)
		}
		if value == "" {
			continue
		}
		node.Group = value
		if _, ok := seen[value]; !ok {
			seen[value] = struct{}{}
			groups = append(groups, apptype.Group{Key: value, Text: value, IsGroup: true})
		}
	}
	return groups, nil
}

// groupValue returns "" for values that form no group: nil, empty strings,
// false and numeric zero.
func groupValue(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	if items, ok := apptype.AsList(v); ok {
		if len(items) == 0 {
			return "", nil
		}
		return joinNames(items)
	}
	if e, ok := apptype.AsEntity(v); ok {
		name, err := summaryName(e)
		if err != nil {
			return "", err
		}
		return displayString(name), nil
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	if reflect.ValueOf(v).IsZero() {
		return "", nil
	}
	return fmt.Sprint(v), nil
}
