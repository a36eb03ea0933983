package apptype

// ConformGraphArgs represents the arguments for the conform_graph tool
type ConformGraphArgs struct {
	EntityType string   `json:"entityType" jsonschema:"Root entity type to query, e.g. Task."`
	EntityIDs  []int64  `json:"entityIds" jsonschema:"Ids of the root entities."`
	Fields     []string `json:"fields" jsonschema:"Display fields. Dotted fields (created_by.HumanUser.login) are attached to the linked node."`
	GroupField string   `json:"groupField,omitempty" jsonschema:"Optional field used to group root entities (one level only)."`
	ProjectID  *int64   `json:"projectId,omitempty" jsonschema:"Optional project id filter."`
}

// ConformEntitiesArgs represents the arguments for the conform_entities tool
type ConformEntitiesArgs struct {
	EntityType string           `json:"entityType" jsonschema:"Root entity type of the supplied entities; required with fields or groupField."`
	Entities   []map[string]any `json:"entities" jsonschema:"Already fetched entities; each needs type and id."`
	Fields     []string         `json:"fields,omitempty" jsonschema:"Display fields to back-fill from the record store."`
	GroupField string           `json:"groupField,omitempty" jsonschema:"Optional field used to group root entities."`
	Backfill   bool             `json:"backfill,omitempty" jsonschema:"Whether to back-fill missing fields and thumbnails from the record store."`
}

// PutRecordsArgs represents the arguments for the put_records tool
type PutRecordsArgs struct {
	Records []map[string]any `json:"records" jsonschema:"Source records to load; each needs type and id."`
}

// DecodeNodeKeyArgs represents the arguments for the decode_node_key tool
type DecodeNodeKeyArgs struct {
	Key string `json:"key" jsonschema:"A node key of the form <type>:<id>."`
}

// Health
type HealthArgs struct{}

type HealthResult struct {
	Name                string `json:"name"`
	Version             string `json:"version"`
	Revision            string `json:"revision"`
	BuildDate           string `json:"buildDate"`
	Records             int64  `json:"records"`
	BackfillParallelism int    `json:"backfillParallelism"`
}
