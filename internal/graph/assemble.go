package graph

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/apptype"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/logging"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/metrics"
)

// Options configures Assemble.
type Options struct {
	// EntityType is the type of the root entities; generic field back-fill
	// and grouping only apply to nodes of this type.
	EntityType string
	// Fields are the display fields every root node should carry.
	Fields []string
	// GroupField, when set, groups root nodes by this field's value.
	GroupField string
	// Parallelism bounds concurrent back-fill lookups (<= 0: unbounded).
	Parallelism int
}

// Assemble builds the payload for already fetched root entities: conform
// every entity, back-fill thumbnails on all nodes and missing display
// fields on root nodes with one lookup per type, then group. A nil src
// skips back-fill. Options that ask for fields or grouping without a root
// type fail with ErrInvalidRequest.
func Assemble(ctx context.Context, entities []apptype.RawEntity, opts Options, src DataSource) (*apptype.Payload, error) {
	done := metrics.TimeOp("graph_assemble")
	success := false
	defer func() { done(success) }()

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	g := New()
	for _, entity := range entities {
		if err := g.Conform(entity); err != nil {
			return nil, err
		}
	}

	if src != nil {
		missing := FindMissing(g, []string{"image"})
		if len(opts.Fields) > 0 {
			missing.Merge(FindMissing(g, opts.Fields, opts.EntityType))
		}
		if err := ApplyBackfill(ctx, g, missing, src, opts.Parallelism); err != nil {
			return nil, err
		}
	}

	groups, err := ApplyGrouping(g, opts.EntityType, opts.GroupField)
	if err != nil {
		return nil, err
	}

	metrics.Default().ObserveGraphSize(g.Len(), len(g.Links()))
	logging.L().Debug("assembled graph", "root_type", opts.EntityType, "roots", len(entities), "nodes", g.Len(), "links", len(g.Links()), "groups", len(groups))
	success = true
	return g.Payload(groups), nil
}

// Build runs a full request against src: plan the query, fetch the root
// entities, then Assemble.
func Build(ctx context.Context, src DataSource, req Request, parallelism int) (*apptype.Payload, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	fields, filters := PlanQuery(req)
	entities, err := src.Find(ctx, req.EntityType, filters, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s entities: %w", req.EntityType, err)
	}
	return Assemble(ctx, entities, Options{
		EntityType:  req.EntityType,
		Fields:      fields,
		GroupField:  req.GroupField,
		Parallelism: parallelism,
	}, src)
}
