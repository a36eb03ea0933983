package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/database"
)

// pickFreePort tries to get a free TCP port on 127.0.0.1
func pickFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func startSSE(t *testing.T, dbName string) (context.Context, *mcp.ClientSession) {
	t.Helper()
	cfg := database.NewConfig()
	cfg.URL = fmt.Sprintf("file:%s?mode=memory&cache=shared", dbName)
	dbm, err := database.NewDBManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbm.Close() })

	srv := NewMCPServer(dbm)

	port, err := pickFreePort()
	require.NoError(t, err)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	endpoint := "/sse"

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// start SSE server
	go func() { _ = srv.RunSSE(ctx, addr, endpoint) }()

	// wait briefly for server to bind
	time.Sleep(150 * time.Millisecond)

	// connect with MCP SSE client
	client := mcp.NewClient(&mcp.Implementation{Name: "e2e-client", Version: "test"}, nil)

	// retry connect a few times to avoid flakes
	var session *mcp.ClientSession
	for i := 0; i < 5; i++ {
		transport := mcp.NewSSEClientTransport("http://"+addr+endpoint, nil)
		session, err = client.Connect(ctx, transport)
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return ctx, session
}

func callTool(t *testing.T, ctx context.Context, session *mcp.ClientSession, name string, args any) *mcp.CallToolResult {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: json.RawMessage(raw)})
	require.NoError(t, err)
	return res
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestSSEServer_ListTools(t *testing.T) {
	ctx, session := startSSE(t, "test-e2e-tools")

	tools, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"conform_graph", "conform_entities", "put_records", "decode_node_key", "health_check"}, names)
}

func TestSSEServer_ConformGraph(t *testing.T) {
	ctx, session := startSSE(t, "test-e2e-graph")

	res := callTool(t, ctx, session, "put_records", map[string]any{
		"records": []map[string]any{
			{"type": "HumanUser", "id": 5, "name": "Jane Doe", "login": "jdoe"},
			{"type": "Shot", "id": 1, "code": "SH_010", "created_by": map[string]any{"type": "HumanUser", "id": 5}},
			{"type": "Shot", "id": 2, "code": "SH_020", "created_by": map[string]any{"type": "HumanUser", "id": 5}},
		},
	})
	require.False(t, res.IsError, textOf(t, res))
	assert.Equal(t, "Stored 3 records", textOf(t, res))

	res = callTool(t, ctx, session, "conform_graph", map[string]any{
		"entityType": "Shot",
		"entityIds":  []int64{1, 2},
		"fields":     []string{"code", "created_by", "created_by.HumanUser.login"},
	})
	require.False(t, res.IsError, textOf(t, res))

	var payload struct {
		Nodes []struct {
			Key    string `json:"key"`
			Name   string `json:"name"`
			Fields []struct {
				Field string `json:"field"`
				Value any    `json:"value"`
			} `json:"fields"`
		} `json:"nodes"`
		Links []map[string]string `json:"links"`
	}
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &payload))
	require.Len(t, payload.Nodes, 3)
	assert.Equal(t, "Shot:1", payload.Nodes[0].Key)
	assert.Equal(t, "HumanUser:5", payload.Nodes[1].Key)
	assert.Equal(t, "Jane Doe", payload.Nodes[1].Name)
	assert.Len(t, payload.Links, 2)

	var login any
	for _, f := range payload.Nodes[1].Fields {
		if f.Field == "login" {
			login = f.Value
		}
	}
	assert.Equal(t, "jdoe", login)

	res = callTool(t, ctx, session, "health_check", map[string]any{})
	require.False(t, res.IsError)
	assert.Equal(t, "ok", textOf(t, res))
}

func TestSSEServer_DecodeNodeKey(t *testing.T) {
	ctx, session := startSSE(t, "test-e2e-decode")

	res := callTool(t, ctx, session, "decode_node_key", map[string]any{"key": "Shot:42"})
	require.False(t, res.IsError, textOf(t, res))
	assert.Equal(t, "Shot 42", textOf(t, res))

	res = callTool(t, ctx, session, "decode_node_key", map[string]any{"key": "Shot"})
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(t, res), "missing ':' delimiter")
}
