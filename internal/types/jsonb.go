package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Metadata is a free-form JSONB blob attached to alerts and call records.
type Metadata map[string]any

// Compile-time assertions that the JSONB types round-trip through
// database/sql. Scan is on pointer receivers; Value on value receivers.
var (
	_ sql.Scanner   = (*Metadata)(nil)
	_ driver.Valuer = Metadata(nil)
	_ sql.Scanner   = (*PlanLimits)(nil)
	_ driver.Valuer = PlanLimits{}
)

// scanJSONB scans a JSONB database value into dest, accepting []byte or
// string representations and treating nil as a no-op.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// Scan implements sql.Scanner for reading JSONB from the database.
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	return scanJSONB(m, value)
}

// Value implements driver.Valuer for writing JSONB to the database.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for reading JSONB from the database.
func (pl *PlanLimits) Scan(value interface{}) error {
	return scanJSONB(pl, value)
}

// Value implements driver.Valuer for writing JSONB to the database.
func (pl PlanLimits) Value() (driver.Value, error) {
	return json.Marshal(pl)
}
