package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/apptype"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/graph"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/metrics"
)

const (
	upsertRecordSQL = `INSERT INTO records (entity_type, id, project_id, data) VALUES (?, ?, ?, ?)
        ON CONFLICT(entity_type, id) DO UPDATE SET
            project_id = excluded.project_id,
            data = excluded.data,
            updated_at = CURRENT_TIMESTAMP`
	getRecordSQL    = "SELECT data FROM records WHERE entity_type = ? AND id = ?"
	countRecordsSQL = "SELECT COUNT(*) FROM records"
)

var _ graph.DataSource = (*DBManager)(nil)

// PutRecords inserts or replaces source records. Every record needs a type
// and an integer id; a "project" link, when present, feeds the project
// filter. Either all records are stored or none.
func (dm *DBManager) PutRecords(ctx context.Context, records []apptype.RawEntity) (int, error) {
	done := metrics.TimeOp("db_put_records")
	success := false
	defer func() { done(success) }()
	if len(records) == 0 {
		success = true
		return 0, nil
	}

	stmt, err := dm.getPreparedStmt(ctx, upsertRecordSQL)
	if err != nil {
		return 0, err
	}
	tx, err := dm.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	txStmt := tx.StmtContext(ctx, stmt)
	defer txStmt.Close()

	for i, record := range records {
		ref, err := graph.RefOf(record)
		if err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
		data, err := json.Marshal(record)
		if err != nil {
			return 0, fmt.Errorf("failed to encode record %s: %w", graph.EncodeKey(ref), err)
		}
		if _, err := txStmt.ExecContext(ctx, ref.Type, ref.ID, projectID(record), string(data)); err != nil {
			return 0, fmt.Errorf("failed to store record %s: %w", graph.EncodeKey(ref), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit records: %w", err)
	}
	success = true
	return len(records), nil
}

func projectID(record apptype.RawEntity) sql.NullInt64 {
	v, ok := record.Get("project")
	if !ok {
		return sql.NullInt64{}
	}
	project, ok := apptype.AsEntity(v)
	if !ok {
		return sql.NullInt64{}
	}
	ref, err := graph.RefOf(project)
	if err != nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: ref.ID, Valid: true}
}

// GetRecord returns the stored record for ref as it was put.
func (dm *DBManager) GetRecord(ctx context.Context, ref apptype.EntityRef) (apptype.RawEntity, bool, error) {
	done := metrics.TimeOp("db_get_record")
	success := false
	defer func() { done(success) }()

	stmt, err := dm.getPreparedStmt(ctx, getRecordSQL)
	if err != nil {
		return apptype.RawEntity{}, false, err
	}
	var data string
	if err := stmt.QueryRowContext(ctx, ref.Type, ref.ID).Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			success = true
			return apptype.RawEntity{}, false, nil
		}
		return apptype.RawEntity{}, false, fmt.Errorf("failed to get record %s: %w", graph.EncodeKey(ref), err)
	}
	var record apptype.RawEntity
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return apptype.RawEntity{}, false, fmt.Errorf("failed to decode record %s: %w", graph.EncodeKey(ref), err)
	}
	success = true
	return record, true, nil
}

// CountRecords returns the number of stored records.
func (dm *DBManager) CountRecords(ctx context.Context) (int64, error) {
	done := metrics.TimeOp("db_count_records")
	success := false
	defer func() { done(success) }()

	stmt, err := dm.getPreparedStmt(ctx, countRecordsSQL)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := stmt.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	success = true
	return n, nil
}

// Find returns the records of entityType matching all filters, ordered by
// id. Each record carries type, id and those of fields it has. Links come
// back as {type, id, name} summaries and a denormalized field
// "local.LinkedType.remote" is read from the record local points at.
//
// Supported filters: id in [ids], id is id, project is {type, id}.
func (dm *DBManager) Find(ctx context.Context, entityType string, filters []apptype.Filter, fields []string) ([]apptype.RawEntity, error) {
	done := metrics.TimeOp("db_find")
	success := false
	defer func() { done(success) }()

	where := []string{"entity_type = ?"}
	args := []any{entityType}
	for _, f := range filters {
		clause, fargs, matchesNone, err := filterClause(f)
		if err != nil {
			return nil, err
		}
		if matchesNone {
			success = true
			return []apptype.RawEntity{}, nil
		}
		where = append(where, clause)
		args = append(args, fargs...)
	}
	query := fmt.Sprintf("SELECT data FROM records WHERE %s ORDER BY id", strings.Join(where, " AND "))
	records, err := dm.queryRecords(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s records: %w", entityType, err)
	}

	r := newResolver()
	out := make([]apptype.RawEntity, 0, len(records))
	for _, record := range records {
		out = append(out, r.project(record, fields))
	}
	if err := r.resolve(ctx, dm); err != nil {
		return nil, err
	}
	success = true
	return out, nil
}

// filterClause translates one filter. matchesNone is set for an empty id
// list, which no record can satisfy.
func filterClause(f apptype.Filter) (clause string, args []any, matchesNone bool, err error) {
	switch {
	case f.Field == "id" && f.Op == apptype.OpIn:
		ids, ok := f.Value.([]int64)
		if !ok {
			return "", nil, false, fmt.Errorf("filter id in: expected []int64, got %T", f.Value)
		}
		if len(ids) == 0 {
			return "", nil, true, nil
		}
		placeholders := strings.Repeat("?,", len(ids))
		placeholders = placeholders[:len(placeholders)-1]
		args = make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		return "id IN (" + placeholders + ")", args, false, nil
	case f.Field == "id" && f.Op == apptype.OpIs:
		id, ok := f.Value.(int64)
		if !ok {
			return "", nil, false, fmt.Errorf("filter id is: expected int64, got %T", f.Value)
		}
		return "id = ?", []any{id}, false, nil
	case f.Field == "project" && f.Op == apptype.OpIs:
		ref, ok := f.Value.(apptype.EntityRef)
		if !ok {
			return "", nil, false, fmt.Errorf("filter project is: expected an entity reference, got %T", f.Value)
		}
		return "project_id = ?", []any{ref.ID}, false, nil
	}
	return "", nil, false, fmt.Errorf("unsupported filter: %s %s", f.Field, f.Op)
}

func (dm *DBManager) queryRecords(ctx context.Context, query string, args ...any) ([]apptype.RawEntity, error) {
	rows, err := dm.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []apptype.RawEntity
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		var record apptype.RawEntity
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// fetchByIDs loads records of one type keyed by id.
func (dm *DBManager) fetchByIDs(ctx context.Context, entityType string, ids []int64) (map[int64]apptype.RawEntity, error) {
	clause, args, _, err := filterClause(apptype.IDIn(ids))
	if err != nil {
		return nil, err
	}
	query := "SELECT data FROM records WHERE entity_type = ? AND " + clause
	records, err := dm.queryRecords(ctx, query, append([]any{entityType}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load linked %s records: %w", entityType, err)
	}
	out := make(map[int64]apptype.RawEntity, len(records))
	for _, record := range records {
		ref, err := graph.RefOf(record)
		if err != nil {
			continue
		}
		out[ref.ID] = record
	}
	return out, nil
}

type pendingName struct {
	summary apptype.RawEntity
	ref     apptype.EntityRef
}

type pendingDenormalized struct {
	record apptype.RawEntity
	field  string
	remote string
	ref    apptype.EntityRef
}

// resolver collects the linked records a Find result depends on so they
// can be loaded with one query per linked type.
type resolver struct {
	need   map[string]map[int64]struct{}
	names  []pendingName
	denorm []pendingDenormalized
}

func newResolver() *resolver {
	return &resolver{need: make(map[string]map[int64]struct{})}
}

func (r *resolver) want(ref apptype.EntityRef) {
	ids, ok := r.need[ref.Type]
	if !ok {
		ids = make(map[int64]struct{})
		r.need[ref.Type] = ids
	}
	ids[ref.ID] = struct{}{}
}

func (r *resolver) project(record apptype.RawEntity, fields []string) apptype.RawEntity {
	entityType, _ := record.Get("type")
	id, _ := record.Get("id")
	out := apptype.NewRawEntity("type", entityType, "id", id)
	for _, field := range fields {
		if field == "type" || field == "id" {
			continue
		}
		if graph.IsDenormalized(field) {
			parts := strings.Split(field, ".")
			r.projectDenormalized(record, out, field, parts[0], parts[1], parts[2])
			continue
		}
		if v, ok := record.Get(field); ok {
			out.Set(field, r.summarize(v))
		}
	}
	return out
}

func (r *resolver) projectDenormalized(record, out apptype.RawEntity, field, local, linkedType, remote string) {
	v, ok := record.Get(local)
	if !ok || v == nil {
		out.Set(field, nil)
		return
	}
	if _, isList := apptype.AsList(v); isList {
		// no single value to pull through a multi-entity link
		return
	}
	linked, ok := apptype.AsEntity(v)
	if !ok {
		return
	}
	ref, err := graph.RefOf(linked)
	if err != nil || ref.Type != linkedType {
		out.Set(field, nil)
		return
	}
	// placeholder keeps the requested field order
	out.Set(field, nil)
	r.want(ref)
	r.denorm = append(r.denorm, pendingDenormalized{record: out, field: field, remote: remote, ref: ref})
}

// summarize reduces links, alone or in lists, to {type, id, name}. A link
// stored without a name gets the linked record's display name on resolve.
func (r *resolver) summarize(v any) any {
	if items, ok := apptype.AsList(v); ok {
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = r.summarize(item)
		}
		return out
	}
	e, ok := apptype.AsEntity(v)
	if !ok {
		return v
	}
	ref, err := graph.RefOf(e)
	if err != nil {
		return v
	}
	summary := apptype.NewRawEntity("type", ref.Type, "id", ref.ID)
	if name, ok := e.Get("name"); ok {
		summary.Set("name", name)
		return summary
	}
	summary.Set("name", nil)
	r.want(ref)
	r.names = append(r.names, pendingName{summary: summary, ref: ref})
	return summary
}

func (r *resolver) resolve(ctx context.Context, dm *DBManager) error {
	if len(r.need) == 0 {
		return nil
	}
	types := make([]string, 0, len(r.need))
	for t := range r.need {
		types = append(types, t)
	}
	sort.Strings(types)

	linked := make(map[apptype.EntityRef]apptype.RawEntity)
	for _, t := range types {
		ids := make([]int64, 0, len(r.need[t]))
		for id := range r.need[t] {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		byID, err := dm.fetchByIDs(ctx, t, ids)
		if err != nil {
			return err
		}
		for id, record := range byID {
			linked[apptype.EntityRef{Type: t, ID: id}] = record
		}
	}

	for _, p := range r.names {
		if record, ok := linked[p.ref]; ok {
			p.summary.Set("name", graph.DisplayName(record))
		}
	}
	for _, p := range r.denorm {
		record, ok := linked[p.ref]
		if !ok {
			continue
		}
		if v, ok := record.Get(p.remote); ok {
			p.record.Set(p.field, shallowSummary(v))
		}
	}
	return nil
}

// shallowSummary is summarize without name lookups, for values read off
// linked records.
func shallowSummary(v any) any {
	if items, ok := apptype.AsList(v); ok {
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = shallowSummary(item)
		}
		return out
	}
	e, ok := apptype.AsEntity(v)
	if !ok {
		return v
	}
	ref, err := graph.RefOf(e)
	if err != nil {
		return v
	}
	name, _ := e.Get("name")
	return apptype.NewRawEntity("type", ref.Type, "id", ref.ID, "name", name)
}
