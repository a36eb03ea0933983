package graph

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/apptype"
)

// EncodeKey formats a reference as "<type>:<id>".
func EncodeKey(ref apptype.EntityRef) apptype.NodeKey {
	return apptype.NodeKey(ref.Type + ":" + strconv.FormatInt(ref.ID, 10))
}

// DecodeKey inverts EncodeKey. The split happens on the last ':' so a type
// containing a colon still round-trips.
func DecodeKey(key apptype.NodeKey) (apptype.EntityRef, error) {
	s := string(key)
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return apptype.EntityRef{}, &DecodeError{Key: s, Reason: "missing ':' delimiter"}
	}
	if idx == 0 {
		return apptype.EntityRef{}, &DecodeError{Key: s, Reason: "empty entity type"}
	}
	id, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil {
		return apptype.EntityRef{}, &DecodeError{Key: s, Reason: "id is not an integer"}
	}
	return apptype.EntityRef{Type: s[:idx], ID: id}, nil
}

// MustDecodeKey decodes a key produced by EncodeKey. A failure means the
// graph holds a key it did not generate, which is a programming error.
func MustDecodeKey(key apptype.NodeKey) apptype.EntityRef {
	ref, err := DecodeKey(key)
	if err != nil {
		panic(fmt.Sprintf("graph: internal node key did not decode: %v", err))
	}
	return ref
}

// RefOf extracts the identity of a record or entity summary.
func RefOf(e apptype.RawEntity) (apptype.EntityRef, error) {
	rawType, ok := e.Get("type")
	if !ok || rawType == nil {
		return apptype.EntityRef{}, &MalformedEntityError{Field: "type", Reason: "missing entity type"}
	}
	entityType, ok := rawType.(string)
	if !ok || entityType == "" {
		return apptype.EntityRef{}, &MalformedEntityError{Field: "type", Reason: fmt.Sprintf("entity type must be a non-empty string, got %T", rawType)}
	}
	rawID, ok := e.Get("id")
	if !ok || rawID == nil {
		return apptype.EntityRef{}, &MalformedEntityError{Field: "id", Reason: "missing id for " + entityType}
	}
	id, err := toID(rawID)
	if err != nil {
		return apptype.EntityRef{}, &MalformedEntityError{Field: "id", Reason: err.Error()}
	}
	return apptype.EntityRef{Type: entityType, ID: id}, nil
}

// KeyOf is EncodeKey(RefOf(e)).
func KeyOf(e apptype.RawEntity) (apptype.NodeKey, error) {
	ref, err := RefOf(e)
	if err != nil {
		return "", err
	}
	return EncodeKey(ref), nil
}

func toID(v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint32:
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return 0, fmt.Errorf("id %d overflows int64", t)
		}
		return int64(t), nil
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) || math.IsNaN(t) {
			return 0, fmt.Errorf("id %v is not an integer", t)
		}
		return int64(t), nil
	case json.Number:
		return t.Int64()
	case string:
		id, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("id %q is not an integer", t)
		}
		return id, nil
	}
	return 0, fmt.Errorf("id has unsupported type %T", v)
}
