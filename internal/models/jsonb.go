package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

//
// JSONB helper
//

// JSONB is a helper for Postgres jsonb columns.
// Backed by map[string]any and works with sqlx / database/sql.
type JSONB map[string]any

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (j *JSONB) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("JSONB: expected []byte, got %T", value)
	}

	if len(b) == 0 {
		*j = nil
		return nil
	}

	return json.Unmarshal(b, j)
}

// GetString returns a string field from the blob, or "" when absent.
func (j JSONB) GetString(key string) string {
	if j == nil {
		return ""
	}
	s, _ := j[key].(string)
	return s
}

// GetBool returns a bool field from the blob, or false when absent.
func (j JSONB) GetBool(key string) bool {
	if j == nil {
		return false
	}
	b, _ := j[key].(bool)
	return b
}
