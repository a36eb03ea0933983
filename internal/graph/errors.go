package graph

import (
	"fmt"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/apptype"
)

// MalformedEntityError reports a record that violates the input contract:
// a missing type or id, or a mapping without the name it should carry.
type MalformedEntityError struct {
	Entity string // node key when known, otherwise empty
	Field  string
	Reason string
}

func (e *MalformedEntityError) Error() string {
	switch {
	case e.Entity != "" && e.Field != "":
		return fmt.Sprintf("malformed entity %s: field %q: %s", e.Entity, e.Field, e.Reason)
	case e.Entity != "":
		return fmt.Sprintf("malformed entity %s: %s", e.Entity, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("malformed entity: field %q: %s", e.Field, e.Reason)
	}
	return "malformed entity: " + e.Reason
}

// DanglingLinkError reports a denormalized field whose linked entity was not
// conformed before the field phase reached it.
type DanglingLinkError struct {
	From   apptype.NodeKey
	Field  string
	Target apptype.NodeKey
}

func (e *DanglingLinkError) Error() string {
	return fmt.Sprintf("dangling link: %s field %q points at %s which is not in the graph", e.From, e.Field, e.Target)
}

// DecodeError reports a string that is not a valid node key.
type DecodeError struct {
	Key    string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid node key %q: %s", e.Key, e.Reason)
}
