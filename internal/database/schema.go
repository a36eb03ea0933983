package database

// schema holds the record store DDL. data is the JSON encoding of the full
// source record; project_id mirrors data.project.id for the project filter.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS records (
        entity_type TEXT NOT NULL,
        id INTEGER NOT NULL,
        project_id INTEGER,
        data TEXT NOT NULL,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (entity_type, id)
    )`,

	`CREATE INDEX IF NOT EXISTS idx_records_type_project ON records(entity_type, project_id)`,
	`CREATE INDEX IF NOT EXISTS idx_records_updated_at ON records(updated_at)`,
}
