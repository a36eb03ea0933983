package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/metrics"
)

// getPreparedStmt returns or prepares and caches a statement. Only fixed
// SQL text goes through here; IN-list queries vary with their arity and
// are executed directly.
func (dm *DBManager) getPreparedStmt(ctx context.Context, sqlText string) (*sql.Stmt, error) {
	// fast path read
	dm.stmtMu.RLock()
	stmt, ok := dm.stmtCache[sqlText]
	dm.stmtMu.RUnlock()
	if ok {
		metrics.Default().IncStmtCacheHit("prepare")
		return stmt, nil
	}
	metrics.Default().IncStmtCacheMiss("prepare")

	// prepare and store
	stmt, err := dm.db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	dm.stmtMu.Lock()
	defer dm.stmtMu.Unlock()
	if cached, ok := dm.stmtCache[sqlText]; ok {
		// Lost a race with another preparer; keep theirs.
		_ = stmt.Close()
		return cached, nil
	}
	dm.stmtCache[sqlText] = stmt
	return stmt, nil
}
