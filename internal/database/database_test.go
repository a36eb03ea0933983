package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/apptype"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/graph"
)

func setupTestDB(t *testing.T) (*DBManager, func()) {
	config := NewConfig()
	// Use an in-memory database for testing.
	// The `cache=shared` is crucial for sharing the connection across different
	// calls to `sql.Open` within the same process; the per-test name keeps
	// tests from seeing each other's records.
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	config.URL = fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := NewDBManager(config)
	require.NoError(t, err)

	cleanup := func() {
		err := db.Close()
		assert.NoError(t, err)
	}

	return db, cleanup
}

func project(id int64) apptype.RawEntity {
	return apptype.NewRawEntity("type", "Project", "id", id, "name", fmt.Sprintf("Project %d", id))
}

func seedShots(t *testing.T, db *DBManager) {
	ctx := context.Background()
	records := []apptype.RawEntity{
		apptype.NewRawEntity("type", "HumanUser", "id", int64(5), "name", "Jane Doe", "login", "jdoe", "image", "https://thumbs/jdoe.png"),
		apptype.NewRawEntity("type", "Sequence", "id", int64(7), "code", "SEQ_010", "project", project(10)),
		apptype.NewRawEntity("type", "Shot", "id", int64(1), "code", "SH_010", "sg_status_list", "ip",
			"project", project(10),
			"sg_sequence", apptype.NewRawEntity("type", "Sequence", "id", int64(7)),
			"created_by", apptype.NewRawEntity("type", "HumanUser", "id", int64(5), "name", "Jane Doe")),
		apptype.NewRawEntity("type", "Shot", "id", int64(2), "code", "SH_020", "sg_status_list", "fin",
			"project", project(10),
			"created_by", nil),
		apptype.NewRawEntity("type", "Shot", "id", int64(3), "code", "SH_030", "project", project(11)),
	}
	n, err := db.PutRecords(ctx, records)
	require.NoError(t, err)
	require.Equal(t, len(records), n)
}

func TestPutAndGetRecord(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedShots(t, db)

	ctx := context.Background()
	record, ok, err := db.GetRecord(ctx, apptype.EntityRef{Type: "Shot", ID: 1})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"type", "id", "code", "sg_status_list", "project", "sg_sequence", "created_by"}, record.Keys())
	code, _ := record.Get("code")
	assert.Equal(t, "SH_010", code)
	id, _ := record.Get("id")
	assert.Equal(t, int64(1), id)

	_, ok, err = db.GetRecord(ctx, apptype.EntityRef{Type: "Shot", ID: 99})
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := db.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestPutRecordsReplacesExisting(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_, err := db.PutRecords(ctx, []apptype.RawEntity{apptype.NewRawEntity("type", "Shot", "id", int64(1), "code", "old")})
	require.NoError(t, err)
	_, err = db.PutRecords(ctx, []apptype.RawEntity{apptype.NewRawEntity("type", "Shot", "id", int64(1), "code", "new")})
	require.NoError(t, err)

	count, err := db.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	record, ok, err := db.GetRecord(ctx, apptype.EntityRef{Type: "Shot", ID: 1})
	require.NoError(t, err)
	require.True(t, ok)
	code, _ := record.Get("code")
	assert.Equal(t, "new", code)
}

func TestPutRecordsIsAtomic(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_, err := db.PutRecords(ctx, []apptype.RawEntity{
		apptype.NewRawEntity("type", "Shot", "id", int64(1)),
		apptype.NewRawEntity("type", "Shot", "code", "no id"),
	})
	require.Error(t, err)
	var me *graph.MalformedEntityError
	assert.True(t, errors.As(err, &me))

	count, err := db.CountRecords(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestFindAppliesFiltersAndProjects(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedShots(t, db)

	filters := []apptype.Filter{
		apptype.IDIn([]int64{3, 2, 1}),
		apptype.ProjectIs(apptype.EntityRef{Type: "Project", ID: 10}),
	}
	records, err := db.Find(context.Background(), "Shot", filters, []string{"code", "created_by", "image"})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, []string{"type", "id", "code", "created_by"}, records[0].Keys())
	id, _ := records[0].Get("id")
	assert.Equal(t, int64(1), id)
	createdBy, _ := records[0].Get("created_by")
	summary, ok := apptype.AsEntity(createdBy)
	require.True(t, ok)
	assert.Equal(t, []string{"type", "id", "name"}, summary.Keys())

	// a stored null stays a null
	createdBy, ok = records[1].Get("created_by")
	assert.True(t, ok)
	assert.Nil(t, createdBy)
}

func TestFindResolvesLinkedValues(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedShots(t, db)

	fields := []string{"code", "sg_sequence", "created_by.HumanUser.login", "created_by"}
	records, err := db.Find(context.Background(), "Shot", []apptype.Filter{apptype.IDIn([]int64{1, 2})}, fields)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// stored without a name, filled from the linked record
	seq, _ := records[0].Get("sg_sequence")
	summary, ok := apptype.AsEntity(seq)
	require.True(t, ok)
	name, _ := summary.Get("name")
	assert.Equal(t, "SEQ_010", name)

	login, _ := records[0].Get("created_by.HumanUser.login")
	assert.Equal(t, "jdoe", login)
	assert.Equal(t, []string{"type", "id", "code", "sg_sequence", "created_by.HumanUser.login", "created_by"}, records[0].Keys())

	login, ok = records[1].Get("created_by.HumanUser.login")
	assert.True(t, ok)
	assert.Nil(t, login)
}

func TestFindEdgeCases(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedShots(t, db)
	ctx := context.Background()

	records, err := db.Find(ctx, "Shot", []apptype.Filter{apptype.IDIn(nil)}, []string{"code"})
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = db.Find(ctx, "Asset", nil, []string{"code"})
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = db.Find(ctx, "Shot", []apptype.Filter{{Field: "code", Op: apptype.OpIs, Value: "SH_010"}}, []string{"code"})
	assert.ErrorContains(t, err, "unsupported filter")

	records, err = db.Find(ctx, "Shot", []apptype.Filter{{Field: "id", Op: apptype.OpIs, Value: int64(3)}}, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"type", "id"}, records[0].Keys())
}

func TestBuildAgainstStore(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedShots(t, db)

	projectID := int64(10)
	req := graph.Request{
		EntityType: "Shot",
		EntityIDs:  []int64{1, 2},
		Fields:     []string{"code", "created_by", "created_by.HumanUser.login"},
		GroupField: "sg_status_list",
		ProjectID:  &projectID,
	}
	payload, err := graph.Build(context.Background(), db, req, db.Config().BackfillParallelism)
	require.NoError(t, err)

	var nodes []*apptype.Node
	var groups []apptype.Group
	for _, n := range payload.Nodes {
		switch v := n.(type) {
		case *apptype.Node:
			nodes = append(nodes, v)
		case apptype.Group:
			groups = append(groups, v)
		}
	}
	keys := make([]apptype.NodeKey, 0, len(nodes))
	for _, n := range nodes {
		keys = append(keys, n.Key)
	}
	assert.Equal(t, []apptype.NodeKey{"Shot:1", "HumanUser:5", "Shot:2"}, keys)
	assert.Len(t, groups, 2)

	user, ok := findNode(nodes, "HumanUser:5")
	require.True(t, ok)
	login, ok := user.Field("login")
	assert.True(t, ok)
	assert.Equal(t, "jdoe", login)
	// thumbnail back-filled for a linked node
	require.NotNil(t, user.Image)
	assert.Equal(t, "https://thumbs/jdoe.png", *user.Image)

	assert.Contains(t, payload.Links, apptype.Link{From: "Shot:1", FromPort: "created_by", To: "HumanUser:5"})
}

func findNode(nodes []*apptype.Node, key apptype.NodeKey) (*apptype.Node, bool) {
	for _, n := range nodes {
		if n.Key == key {
			return n, true
		}
	}
	return nil, false
}

func TestConnectURL(t *testing.T) {
	cfg := &Config{URL: "libsql://db.example.turso.io", AuthToken: "s3cret"}
	assert.Equal(t, "libsql://db.example.turso.io?authToken=s3cret", connectURL(cfg))

	cfg = &Config{URL: "file:./local.db", AuthToken: "ignored"}
	assert.Equal(t, "file:./local.db", connectURL(cfg))

	assert.Equal(t, "libsql://db.example.turso.io", redactURL("libsql://db.example.turso.io?authToken=s3cret"))
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("LIBSQL_URL", "file:./x.db")
	t.Setenv("DB_MAX_OPEN_CONNS", "8")
	t.Setenv("BACKFILL_PARALLELISM", "garbage")
	cfg := NewConfig()
	assert.Equal(t, "file:./x.db", cfg.URL)
	assert.Equal(t, 8, cfg.MaxOpenConns)
	assert.Equal(t, defaultBackfillParallelism, cfg.BackfillParallelism)
}

func TestLoadFile(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	path := filepath.Join(t.TempDir(), "seed.json")
	seed := `[
  {"type": "Shot", "id": 1, "code": "SH_010", "cut_in": 1001, "created_by": {"type": "HumanUser", "id": 5}},
  {"type": "HumanUser", "id": 5, "name": "Jane Doe"}
]`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	n, err := db.LoadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	record, ok, err := db.GetRecord(context.Background(), apptype.EntityRef{Type: "Shot", ID: 1})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"type", "id", "code", "cut_in", "created_by"}, record.Keys())
	cutIn, _ := record.Get("cut_in")
	assert.Equal(t, int64(1001), cutIn)

	_, err = db.LoadFile(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
