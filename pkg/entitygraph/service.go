// Package entitygraph is the library API: a record store plus the graph
// conformer, without an MCP or HTTP transport.
package entitygraph

import (
	"context"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/apptype"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/database"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/graph"
)

// Request is the parameter set of one graph query.
type Request = graph.Request

// Options configures Conform.
type Options = graph.Options

// Entity is one source record or nested entity summary.
type Entity = apptype.RawEntity

// Payload is the assembled graph, ready to serialize.
type Payload = apptype.Payload

// Node, Group, Link and EntityRef are the parts of a Payload.
type (
	Node      = apptype.Node
	Group     = apptype.Group
	Link      = apptype.Link
	EntityRef = apptype.EntityRef
)

// ErrInvalidRequest is wrapped by every rejected Request or Options.
var ErrInvalidRequest = graph.ErrInvalidRequest

// NewEntity builds an Entity from alternating field names and values.
func NewEntity(kv ...any) Entity { return apptype.NewRawEntity(kv...) }

// EntityFromMap builds an Entity from decoded JSON. Nested objects are read
// as entities; fields are taken in sorted key order.
func EntityFromMap(m map[string]any) Entity { return apptype.EntityFromMap(m) }

// Service provides graph assembly over a libSQL record store.
type Service struct {
	db *database.DBManager
}

// NewService constructs a Service with the provided config.
func NewService(cfg *Config) (*Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	dm, err := database.NewDBManager(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return &Service{db: dm}, nil
}

// Close releases resources.
func (s *Service) Close() error { return s.db.Close() }

// PutRecords loads source records into the store.
func (s *Service) PutRecords(ctx context.Context, records []Entity) (int, error) {
	return s.db.PutRecords(ctx, records)
}

// LoadFile loads a JSON array of records.
func (s *Service) LoadFile(ctx context.Context, path string) (int, error) {
	return s.db.LoadFile(ctx, path)
}

// Graph queries the root entities described by req and returns the
// assembled payload.
func (s *Service) Graph(ctx context.Context, req Request) (*Payload, error) {
	return graph.Build(ctx, s.db, req, s.db.Config().BackfillParallelism)
}

// Conform assembles already fetched entities. With backfill set, missing
// thumbnails and fields are looked up in the store.
func (s *Service) Conform(ctx context.Context, entities []Entity, opts Options, backfill bool) (*Payload, error) {
	var src graph.DataSource
	if backfill {
		src = s.db
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = s.db.Config().BackfillParallelism
	}
	return graph.Assemble(ctx, entities, opts, src)
}

// DecodeKey parses an externally supplied node key.
func (s *Service) DecodeKey(key string) (EntityRef, error) {
	return graph.DecodeKey(apptype.NodeKey(key))
}
