package server

import (
	"context"
	"encoding/json"
	"errors"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/apptype"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/graph"
)

// fakeSource serves fixed records, honouring only the id filter.
type fakeSource struct {
	records map[string][]apptype.RawEntity
	err     error
}

func (f *fakeSource) Find(ctx context.Context, entityType string, filters []apptype.Filter, fields []string) ([]apptype.RawEntity, error) {
	if f.err != nil {
		return nil, f.err
	}
	var ids map[int64]bool
	for _, flt := range filters {
		if flt.Field == "id" && flt.Op == apptype.OpIn {
			ids = make(map[int64]bool)
			for _, id := range flt.Value.([]int64) {
				ids[id] = true
			}
		}
	}
	var out []apptype.RawEntity
	for _, r := range f.records[entityType] {
		ref, err := graph.RefOf(r)
		if err != nil {
			return nil, err
		}
		if ids == nil || ids[ref.ID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func taskSource() *fakeSource {
	return &fakeSource{records: map[string][]apptype.RawEntity{
		"Task": {
			apptype.NewRawEntity("type", "Task", "id", int64(1), "content", "Model hero", "sg_status_list", "ip",
				"entity", apptype.NewRawEntity("type", "Asset", "id", int64(3), "name", "Hero")),
		},
		"Asset": {
			apptype.NewRawEntity("type", "Asset", "id", int64(3), "name", "Hero", "image", "https://thumbs/hero.png"),
		},
	}}
}

func postForm(t *testing.T, h http.Handler, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var dataGraphAttr = regexp.MustCompile(`data-graph="([^"]*)"`)

func decodePage(t *testing.T, body string) map[string]any {
	t.Helper()
	m := dataGraphAttr.FindStringSubmatch(body)
	require.Len(t, m, 2, "page has no data-graph attribute")
	var inner string
	require.NoError(t, json.Unmarshal([]byte(html.UnescapeString(m[1])), &inner))
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(inner), &payload))
	return payload
}

func TestGraphPage(t *testing.T) {
	h := NewFormHandler(taskSource(), 2).Routes("")
	rec := postForm(t, h, url.Values{
		"entity_type":     {"Task"},
		"selected_ids":    {""},
		"ids":             {"1"},
		"cols":            {"content,entity"},
		"grouping_column": {"sg_status_list"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	payload := decodePage(t, rec.Body.String())
	nodes := payload["nodes"].([]any)
	require.Len(t, nodes, 3)

	task := nodes[0].(map[string]any)
	assert.Equal(t, "Task:1", task["key"])
	assert.Equal(t, "Model hero", task["name"])
	assert.Equal(t, "ip", task["group"])

	asset := nodes[1].(map[string]any)
	assert.Equal(t, "Asset:3", asset["key"])
	assert.Equal(t, "https://thumbs/hero.png", asset["image"])

	group := nodes[2].(map[string]any)
	assert.Equal(t, map[string]any{"key": "ip", "text": "ip", "isGroup": true}, group)

	links := payload["links"].([]any)
	require.Len(t, links, 1)
	assert.Equal(t, map[string]any{"from": "Task:1", "fromPort": "entity", "to": "Asset:3"}, links[0])
}

func TestGraphPageErrors(t *testing.T) {
	tests := []struct {
		name   string
		src    graph.DataSource
		form   url.Values
		status int
	}{
		{
			name:   "missing cols",
			src:    taskSource(),
			form:   url.Values{"entity_type": {"Task"}, "ids": {"1"}},
			status: http.StatusBadRequest,
		},
		{
			name:   "bad id",
			src:    taskSource(),
			form:   url.Values{"entity_type": {"Task"}, "ids": {"1,x"}, "cols": {"content"}},
			status: http.StatusBadRequest,
		},
		{
			name: "malformed record",
			src: &fakeSource{records: map[string][]apptype.RawEntity{
				"Task": {apptype.NewRawEntity("type", "Task", "id", int64(1), "entity", apptype.NewRawEntity("type", "Asset", "id", int64(3)))},
			}},
			form:   url.Values{"entity_type": {"Task"}, "ids": {"1"}, "cols": {"entity"}},
			status: http.StatusBadRequest,
		},
		{
			name:   "source failure",
			src:    &fakeSource{err: errors.New("connection refused")},
			form:   url.Values{"entity_type": {"Task"}, "ids": {"1"}, "cols": {"content"}},
			status: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postForm(t, NewFormHandler(tt.src, 1).Routes(""), tt.form)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestRequestFromForm(t *testing.T) {
	form := url.Values{
		"entity_type":  {"Shot"},
		"selected_ids": {"4, 5"},
		"ids":          {"1,2,3"},
		"cols":         {"code,created_by.HumanUser.login"},
		"project_id":   {"70"},
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	got, err := RequestFromForm(req)
	require.NoError(t, err)
	assert.Equal(t, "Shot", got.EntityType)
	assert.Equal(t, []int64{4, 5}, got.EntityIDs)
	assert.Equal(t, []string{"code", "created_by.HumanUser.login"}, got.Fields)
	require.NotNil(t, got.ProjectID)
	assert.Equal(t, int64(70), *got.ProjectID)
	assert.Empty(t, got.GroupField)
}

func TestGraphPageRenderer(t *testing.T) {
	form := url.Values{"entity_type": {"Task"}, "ids": {"1"}, "cols": {"content"}}

	rec := postForm(t, NewFormHandler(taskSource(), 1).Routes(""), form)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "main.js")
	assert.NotContains(t, rec.Body.String(), "initDiagram")
	decodePage(t, rec.Body.String())

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.js"), []byte("function initDiagram() {}"), 0o644))
	h := NewFormHandler(taskSource(), 1).Routes(dir)

	rec = postForm(t, h, form)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `<script src="/static/main.js"></script>`)
	assert.Contains(t, rec.Body.String(), `onload="initDiagram()"`)
	decodePage(t, rec.Body.String())

	asset := httptest.NewRecorder()
	h.ServeHTTP(asset, httptest.NewRequest(http.MethodGet, "/static/main.js", nil))
	assert.Equal(t, http.StatusOK, asset.Code)
	assert.Equal(t, "function initDiagram() {}", asset.Body.String())
}

func TestHealthz(t *testing.T) {
	h := NewFormHandler(taskSource(), 1).Routes("")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
