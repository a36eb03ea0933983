package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/apptype"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/buildinfo"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/database"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/graph"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/logging"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/metrics"
)

const serverName = "sg-entity-graph"

// MCPServer handles MCP protocol communication
type MCPServer struct {
	server *mcp.Server
	db     *database.DBManager
}

// NewMCPServer creates a new MCP server
func NewMCPServer(db *database.DBManager) *MCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: buildinfo.Version,
	}, nil)

	mcpServer := &MCPServer{
		server: server,
		db:     db,
	}

	// initialize metrics from env (no-op if disabled)
	metrics.InitFromEnv()
	mcpServer.setupToolHandlers()
	return mcpServer
}

// setupToolHandlers registers all MCP tools
func (s *MCPServer) setupToolHandlers() {
	// The graph tools return the payload as JSON text: nodes and groups
	// share one heterogeneous array, which has no useful output schema.
	conformGraphInputSchema, err := jsonschema.For[apptype.ConformGraphArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for ConformGraphArgs: %v", err))
	}
	conformEntitiesInputSchema, err := jsonschema.For[apptype.ConformEntitiesArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for ConformEntitiesArgs: %v", err))
	}
	putRecordsInputSchema, err := jsonschema.For[apptype.PutRecordsArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for PutRecordsArgs: %v", err))
	}
	decodeKeyInputSchema, err := jsonschema.For[apptype.DecodeNodeKeyArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for DecodeNodeKeyArgs: %v", err))
	}
	decodeKeyOutputSchema, err := jsonschema.For[apptype.EntityRef]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for EntityRef: %v", err))
	}
	healthInputSchema, err := jsonschema.For[apptype.HealthArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for HealthArgs: %v", err))
	}
	healthOutputSchema, err := jsonschema.For[apptype.HealthResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for HealthResult: %v", err))
	}

	conformGraphAnnotations := mcp.ToolAnnotations{
		Title:        "Conform Graph",
		ReadOnlyHint: true,
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Annotations: &conformGraphAnnotations,
		Name:        "conform_graph",
		Title:       "Conform Graph",
		Description: "Query root entities from the record store and return the node-link graph (nodes, links, groups) as JSON.",
		InputSchema: conformGraphInputSchema,
	}, s.handleConformGraph)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "conform_entities",
		Title:       "Conform Entities",
		Description: "Flatten already fetched entities into a node-link graph, optionally back-filling from the record store.",
		InputSchema: conformEntitiesInputSchema,
	}, s.handleConformEntities)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "put_records",
		Title:       "Put Records",
		Description: "Load or replace source records in the record store.",
		InputSchema: putRecordsInputSchema,
	}, s.handlePutRecords)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "decode_node_key",
		Title:        "Decode Node Key",
		Description:  "Decode a node key (<type>:<id>) into its entity reference.",
		InputSchema:  decodeKeyInputSchema,
		OutputSchema: decodeKeyOutputSchema,
	}, s.handleDecodeNodeKey)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "health_check",
		Title:        "Health Check",
		Description:  "Returns server and configuration information.",
		InputSchema:  healthInputSchema,
		OutputSchema: healthOutputSchema,
	}, s.handleHealth)
}

func payloadResult(payload *apptype.Payload) (*mcp.CallToolResultFor[any], error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode graph: %w", err)
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

// handleConformGraph runs a full query against the record store
func (s *MCPServer) handleConformGraph(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ConformGraphArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("conform_graph")
	var success bool
	defer func() { done(success) }()
	args := params.Arguments
	req := graph.Request{
		EntityType: args.EntityType,
		EntityIDs:  args.EntityIDs,
		Fields:     args.Fields,
		GroupField: args.GroupField,
		ProjectID:  args.ProjectID,
	}
	payload, err := graph.Build(ctx, s.db, req, s.db.Config().BackfillParallelism)
	if err != nil {
		return nil, fmt.Errorf("conform_graph failed: %w", err)
	}
	res, err := payloadResult(payload)
	if err != nil {
		return nil, err
	}
	success = true
	return res, nil
}

// handleConformEntities conforms caller supplied entities
func (s *MCPServer) handleConformEntities(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ConformEntitiesArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("conform_entities")
	var success bool
	defer func() { done(success) }()
	args := params.Arguments
	entities := make([]apptype.RawEntity, 0, len(args.Entities))
	for _, e := range args.Entities {
		entities = append(entities, apptype.EntityFromMap(e))
	}
	var src graph.DataSource
	if args.Backfill {
		src = s.db
	}
	payload, err := graph.Assemble(ctx, entities, graph.Options{
		EntityType:  args.EntityType,
		Fields:      args.Fields,
		GroupField:  args.GroupField,
		Parallelism: s.db.Config().BackfillParallelism,
	}, src)
	if err != nil {
		return nil, fmt.Errorf("conform_entities failed: %w", err)
	}
	res, err := payloadResult(payload)
	if err != nil {
		return nil, err
	}
	success = true
	return res, nil
}

// handlePutRecords stores source records
func (s *MCPServer) handlePutRecords(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.PutRecordsArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("put_records")
	var success bool
	defer func() { done(success) }()
	records := make([]apptype.RawEntity, 0, len(params.Arguments.Records))
	for _, r := range params.Arguments.Records {
		records = append(records, apptype.EntityFromMap(r))
	}
	n, err := s.db.PutRecords(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("failed to put records: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Stored %d records", n)}},
	}, nil
}

// handleDecodeNodeKey decodes an externally supplied node key
func (s *MCPServer) handleDecodeNodeKey(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.DecodeNodeKeyArgs],
) (*mcp.CallToolResultFor[apptype.EntityRef], error) {
	done := metrics.TimeTool("decode_node_key")
	var success bool
	defer func() { done(success) }()
	ref, err := graph.DecodeKey(apptype.NodeKey(params.Arguments.Key))
	if err != nil {
		return nil, err
	}
	success = true
	return &mcp.CallToolResultFor[apptype.EntityRef]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%s %d", ref.Type, ref.ID)}},
		StructuredContent: ref,
	}, nil
}

// handleHealth returns basic server health information
func (s *MCPServer) handleHealth(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.HealthArgs],
) (*mcp.CallToolResultFor[apptype.HealthResult], error) {
	done := metrics.TimeTool("health_check")
	var success bool
	defer func() { done(success) }()
	// observe current pool gauges
	inUse, idle := s.db.PoolStats()
	metrics.Default().ObservePoolStats(inUse, idle)
	count, err := s.db.CountRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	res := apptype.HealthResult{
		Name:                serverName,
		Version:             buildinfo.Version,
		Revision:            buildinfo.Revision,
		BuildDate:           buildinfo.BuildDate,
		Records:             count,
		BackfillParallelism: s.db.Config().BackfillParallelism,
	}
	success = true
	return &mcp.CallToolResultFor[apptype.HealthResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "ok"}},
		StructuredContent: res,
	}, nil
}

// reportPoolStats publishes pool gauges until ctx is done.
func (s *MCPServer) reportPoolStats(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				inUse, idle := s.db.PoolStats()
				metrics.Default().ObservePoolStats(inUse, idle)
			}
		}
	}()
}

// Run starts the MCP server with stdio transport
func (s *MCPServer) Run(ctx context.Context) error {
	s.reportPoolStats(ctx)
	transport := mcp.NewStdioTransport()
	return s.server.Run(ctx, transport)
}

// RunSSE starts the MCP server over SSE at the given address and endpoint
func (s *MCPServer) RunSSE(ctx context.Context, addr string, endpoint string) error {
	s.reportPoolStats(ctx)
	handler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server { return s.server })
	mux := http.NewServeMux()
	mux.Handle(endpoint, handler)
	logging.L().Info("SSE MCP server listening", "addr", addr, "endpoint", endpoint)
	return serve(ctx, addr, mux)
}

// serve runs an HTTP server until ctx is done.
func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
