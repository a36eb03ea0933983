package database

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/apptype"
)

// ReadRecords decodes a JSON array of records, keeping field order.
func ReadRecords(r io.Reader) ([]apptype.RawEntity, error) {
	var records []apptype.RawEntity
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return records, nil
}

// LoadFile stores the records of a JSON seed file.
func (dm *DBManager) LoadFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	records, err := ReadRecords(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return dm.PutRecords(ctx, records)
}
