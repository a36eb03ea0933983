package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/graph"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/logging"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/metrics"
)

// The graph container carries the payload as a JSON string holding the
// payload JSON; the page script parses it twice. The renderer is only
// referenced when a static dir serves it.
var pageTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Entity Graph</title>
{{- if .Renderer}}
<script src="https://unpkg.com/gojs/release/go.js"></script>
<script src="/static/main.js"></script>
{{- end}}
</head>
<body{{if .Renderer}} onload="initDiagram()"{{end}}>
<input id="search" type="search" placeholder="Find node">
<div id="myDiagramDiv" data-graph="{{.Graph}}" style="width:100%; height:95vh"></div>
</body>
</html>
`))

type pageData struct {
	Graph    string
	Renderer bool
}

// FormHandler serves the graph page for entity selections posted by the
// source system's action menu.
type FormHandler struct {
	src         graph.DataSource
	parallelism int
}

// NewFormHandler returns the page handler backed by src.
func NewFormHandler(src graph.DataSource, parallelism int) *FormHandler {
	return &FormHandler{src: src, parallelism: parallelism}
}

// Routes mounts POST / and GET /healthz. When staticDir is set it is served
// under /static/ and must hold the page script main.js; without it the page
// carries the graph data but no renderer.
func (h *FormHandler) Routes(staticDir string) http.Handler {
	withRenderer := staticDir != ""
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{$}", func(w http.ResponseWriter, r *http.Request) {
		h.handleGraph(w, r, withRenderer)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if withRenderer {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}
	return mux
}

// RunHTTP serves the form endpoint until ctx is done.
func RunHTTP(ctx context.Context, addr string, h *FormHandler, staticDir string) error {
	logging.L().Info("graph page listening", "addr", addr)
	return serve(ctx, addr, h.Routes(staticDir))
}

func (h *FormHandler) handleGraph(w http.ResponseWriter, r *http.Request, withRenderer bool) {
	done := metrics.TimeTool("http_graph")
	var success bool
	defer func() { done(success) }()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form: "+err.Error(), http.StatusBadRequest)
		return
	}
	req, err := RequestFromForm(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	logging.L().Debug("graph request", "entity_type", req.EntityType, "ids", len(req.EntityIDs), "fields", req.Fields, "group", req.GroupField)

	payload, err := graph.Build(r.Context(), h.src, req, h.parallelism)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			logging.L().Error("graph request failed", "entity_type", req.EntityType, "err", err)
		}
		http.Error(w, err.Error(), status)
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logging.L().Error("failed to encode graph", "err", err)
		http.Error(w, "failed to encode graph", http.StatusInternalServerError)
		return
	}
	attr, err := json.Marshal(string(data))
	if err != nil {
		http.Error(w, "failed to encode graph", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, pageData{Graph: string(attr), Renderer: withRenderer}); err != nil {
		logging.L().Error("failed to render graph page", "err", err)
		return
	}
	success = true
}

// RequestFromForm decodes the action menu form: entity_type, selected_ids
// (falling back to ids), cols, and the optional grouping_column and
// project_id.
func RequestFromForm(r *http.Request) (graph.Request, error) {
	req := graph.Request{
		EntityType: r.PostFormValue("entity_type"),
		GroupField: r.PostFormValue("grouping_column"),
	}

	rawIDs := r.PostFormValue("selected_ids")
	if rawIDs == "" {
		rawIDs = r.PostFormValue("ids")
	}
	for _, s := range splitList(rawIDs) {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return graph.Request{}, fmt.Errorf("%w: id %q is not an integer", graph.ErrInvalidRequest, s)
		}
		req.EntityIDs = append(req.EntityIDs, id)
	}
	req.Fields = splitList(r.PostFormValue("cols"))

	if raw := strings.TrimSpace(r.PostFormValue("project_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return graph.Request{}, fmt.Errorf("%w: project_id %q is not an integer", graph.ErrInvalidRequest, raw)
		}
		req.ProjectID = &id
	}
	if err := req.Validate(); err != nil {
		return graph.Request{}, err
	}
	return req, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// statusFor maps core errors onto HTTP status codes.
func statusFor(err error) int {
	var malformed *graph.MalformedEntityError
	var decode *graph.DecodeError
	switch {
	case errors.Is(err, graph.ErrInvalidRequest), errors.As(err, &malformed), errors.As(err, &decode):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
