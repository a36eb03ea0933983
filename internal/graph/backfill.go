package graph

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/apptype"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/logging"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/metrics"
)

// DataSource is the record store consulted for back-fill lookups.
type DataSource interface {
	Find(ctx context.Context, entityType string, filters []apptype.Filter, fields []string) ([]apptype.RawEntity, error)
}

// Batch is the pending work for one entity type: which ids to fetch and
// which fields to ask for.
type Batch struct {
	ids    map[int64]struct{}
	fields []string
	seen   map[string]struct{}
}

func newBatch() *Batch {
	return &Batch{ids: make(map[int64]struct{}), seen: make(map[string]struct{})}
}

func (b *Batch) add(id int64, field string) {
	b.ids[id] = struct{}{}
	if _, ok := b.seen[field]; !ok {
		b.seen[field] = struct{}{}
		b.fields = append(b.fields, field)
	}
}

// IDs returns the ids in ascending order.
func (b *Batch) IDs() []int64 {
	out := make([]int64, 0, len(b.ids))
	for id := range b.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Fields returns the requested fields in first-seen order.
func (b *Batch) Fields() []string {
	out := make([]string, len(b.fields))
	copy(out, b.fields)
	return out
}

func (b *Batch) hasID(id int64) bool {
	_, ok := b.ids[id]
	return ok
}

// Missing groups back-fill work by entity type.
type Missing map[string]*Batch

// Add records that field is missing on ref.
func (m Missing) Add(ref apptype.EntityRef, field string) {
	b, ok := m[ref.Type]
	if !ok {
		b = newBatch()
		m[ref.Type] = b
	}
	b.add(ref.ID, field)
}

// Merge unions other into m, per type, and returns m.
func (m Missing) Merge(other Missing) Missing {
	for _, t := range other.Types() {
		ob := other[t]
		for _, id := range ob.IDs() {
			for _, f := range ob.fields {
				m.Add(apptype.EntityRef{Type: t, ID: id}, f)
			}
		}
	}
	return m
}

// Types returns the entity types in sorted order.
func (m Missing) Types() []string {
	out := make([]string, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// FindMissing lists, per entity type, the nodes lacking one of the required
// fields. With a type filter only the listed types are considered.
//
// "image" is missing when the node has no thumbnail. "name" and "type" live
// in the node header and are never missing. A denormalized field is never
// missing either: its value was moved onto the linked node during Conform.
func FindMissing(g *Graph, required []string, typeFilter ...string) Missing {
	allowed := make(map[string]struct{}, len(typeFilter))
	for _, t := range typeFilter {
		allowed[t] = struct{}{}
	}
	missing := make(Missing)
	for _, node := range g.Nodes() {
		for _, field := range required {
			if present(node, field) {
				continue
			}
			ref := MustDecodeKey(node.Key)
			if len(allowed) > 0 {
				if _, ok := allowed[ref.Type]; !ok {
					continue
				}
			}
			missing.Add(ref, field)
		}
	}
	return missing
}

func present(n *apptype.Node, field string) bool {
	switch field {
	case "image":
		return n.Image != nil
	case "name", "type":
		return true
	}
	if IsDenormalized(field) {
		return true
	}
	return n.HasField(field)
}

// ApplyBackfill issues one lookup per entity type in missing and merges the
// returned values into the graph. Lookups for different types run
// concurrently, at most parallelism at a time (unbounded when <= 0). Each
// lookup only touches nodes of its own type.
//
// Fields already present are left alone, so applying the same batch twice
// changes nothing.
func ApplyBackfill(ctx context.Context, g *Graph, missing Missing, src DataSource, parallelism int) error {
	if len(missing) == 0 {
		return nil
	}
	if src == nil {
		return fmt.Errorf("back-fill requires a data source")
	}
	eg, gCtx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		eg.SetLimit(parallelism)
	}
	for _, entityType := range missing.Types() {
		entityType := entityType
		batch := missing[entityType]
		eg.Go(func() error {
			records, err := src.Find(gCtx, entityType, []apptype.Filter{apptype.IDIn(batch.IDs())}, batch.Fields())
			metrics.Default().IncBackfillLookup(entityType, err == nil)
			if err != nil {
				return fmt.Errorf("back-fill lookup for %s failed: %w", entityType, err)
			}
			return g.mergeRecords(entityType, batch, records)
		})
	}
	return eg.Wait()
}

func (g *Graph) mergeRecords(entityType string, batch *Batch, records []apptype.RawEntity) error {
	for _, record := range records {
		ref, err := RefOf(record)
		if err != nil {
			return fmt.Errorf("back-fill record for %s: %w", entityType, err)
		}
		if ref.Type != entityType || !batch.hasID(ref.ID) {
			logging.L().Warn("ignoring back-fill record that was not requested", "type", entityType, "record", EncodeKey(ref))
			continue
		}
		node, ok := g.nodes.Get(EncodeKey(ref))
		if !ok {
			logging.L().Warn("ignoring back-fill record without a node", "record", EncodeKey(ref))
			continue
		}
		for _, field := range batch.fields {
			if field == "image" {
				if node.Image == nil {
					node.Image = imageOf(record)
				}
				continue
			}
			if node.HasField(field) {
				continue
			}
			v, _ := record.Get(field)
			node.AddField(field, v)
		}
	}
	return nil
}
