package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/apptype"
)

type StepResult struct {
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

type Report struct {
	SSEURL     string       `json:"sse_url"`
	StartedAt  time.Time    `json:"started_at"`
	DurationMs int64        `json:"duration_ms"`
	Steps      []StepResult `json:"steps"`
	Passed     bool         `json:"passed"`
}

// ids are offset so a run does not collide with real records in the store
const baseID = 900000

func main() {
	sseURL := flag.String("sse-url", "http://localhost:8080/sse", "SSE endpoint URL")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: "integration-tester", Version: "dev"}, nil)

	report := Report{SSEURL: *sseURL, StartedAt: time.Now()}
	var session *mcp.ClientSession
	connect := timed("connect", func() error {
		var err error
		session, err = client.Connect(ctx, mcp.NewSSEClientTransport(*sseURL, nil))
		return err
	})
	report.Steps = append(report.Steps, connect)
	if connect.Success {
		defer session.Close()
		report.Steps = append(report.Steps,
			timed("list_tools", func() error {
				_, err := session.ListTools(ctx, &mcp.ListToolsParams{})
				return err
			}),
			runHealth(ctx, session),
			runPutRecords(ctx, session),
			runConformGraph(ctx, session),
			runConformEntities(ctx, session),
			runDecodeNodeKey(ctx, session),
		)
	}

	report.DurationMs = elapsedMsSince(report.StartedAt)
	report.Passed = true
	for _, s := range report.Steps {
		if !s.Success {
			report.Passed = false
			break
		}
	}
	writeReport(report)

	if !report.Passed {
		os.Exit(1)
	}
}

func writeReport(report Report) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
}

// timed runs fn as the step called name.
func timed(name string, fn func() error) StepResult {
	t0 := time.Now()
	res := StepResult{Name: name, Success: true}
	if err := fn(); err != nil {
		res.Success = false
		res.Error = err.Error()
	}
	res.ElapsedMs = elapsedMsSince(t0)
	return res
}

// runTool calls a tool and applies check to its text content. Tool errors
// count as failures.
func runTool(ctx context.Context, session *mcp.ClientSession, name string, args any, check func(text string) error) StepResult {
	return timed(name, func() error {
		raw, err := json.Marshal(args)
		if err != nil {
			return err
		}
		out, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: json.RawMessage(raw)})
		if err != nil {
			return err
		}
		var text string
		if len(out.Content) > 0 {
			if tc, ok := out.Content[0].(*mcp.TextContent); ok {
				text = tc.Text
			}
		}
		if out.IsError {
			return errors.New(text)
		}
		if check != nil {
			return check(text)
		}
		return nil
	})
}

func runHealth(ctx context.Context, session *mcp.ClientSession) StepResult {
	return runTool(ctx, session, "health_check", apptype.HealthArgs{}, nil)
}

func runPutRecords(ctx context.Context, session *mcp.ClientSession) StepResult {
	args := apptype.PutRecordsArgs{Records: []map[string]any{
		{"type": "HumanUser", "id": baseID + 1, "name": "Integration User", "login": "itest"},
		{"type": "Shot", "id": baseID + 1, "code": "IT_010", "sg_status_list": "ip",
			"created_by": map[string]any{"type": "HumanUser", "id": baseID + 1}},
		{"type": "Shot", "id": baseID + 2, "code": "IT_020", "sg_status_list": "fin",
			"created_by": map[string]any{"type": "HumanUser", "id": baseID + 1}},
	}}
	return runTool(ctx, session, "put_records", args, nil)
}

func runConformGraph(ctx context.Context, session *mcp.ClientSession) StepResult {
	args := apptype.ConformGraphArgs{
		EntityType: "Shot",
		EntityIDs:  []int64{baseID + 1, baseID + 2},
		Fields:     []string{"code", "created_by", "created_by.HumanUser.login"},
		GroupField: "sg_status_list",
	}
	return runTool(ctx, session, "conform_graph", args, func(text string) error {
		return expectGraph(text, 5, 2)
	})
}

func runConformEntities(ctx context.Context, session *mcp.ClientSession) StepResult {
	args := apptype.ConformEntitiesArgs{
		EntityType: "Shot",
		Entities: []map[string]any{
			{"type": "Shot", "id": baseID + 1, "code": "IT_010",
				"created_by": map[string]any{"type": "HumanUser", "id": baseID + 1, "name": "Integration User"}},
		},
		Fields:   []string{"code", "sg_status_list"},
		Backfill: true,
	}
	return runTool(ctx, session, "conform_entities", args, func(text string) error {
		return expectGraph(text, 2, 1)
	})
}

func runDecodeNodeKey(ctx context.Context, session *mcp.ClientSession) StepResult {
	args := apptype.DecodeNodeKeyArgs{Key: fmt.Sprintf("Shot:%d", baseID+1)}
	return runTool(ctx, session, "decode_node_key", args, nil)
}

func expectGraph(text string, nodes, links int) error {
	var payload struct {
		Nodes []json.RawMessage `json:"nodes"`
		Links []json.RawMessage `json:"links"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return fmt.Errorf("invalid graph payload: %w", err)
	}
	if len(payload.Nodes) != nodes || len(payload.Links) != links {
		return fmt.Errorf("expected %d nodes and %d links, got %d and %d", nodes, links, len(payload.Nodes), len(payload.Links))
	}
	return nil
}

// elapsedMsSince returns max(1ms, elapsed) to avoid zero durations on fast steps
func elapsedMsSince(t0 time.Time) int64 {
	d := time.Since(t0) / time.Millisecond
	if d <= 0 {
		return 1
	}
	return int64(d)
}
