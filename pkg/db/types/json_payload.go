package dbtypes

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSONPayload stores a raw JSON document as jsonb on Postgres and text elsewhere.
type JSONPayload json.RawMessage

func (JSONPayload) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "jsonb"
	}
	return "text"
}

func (p *JSONPayload) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = nil
	case string:
		*p = append((*p)[:0], v...)
	case []byte:
		*p = append((*p)[:0], v...)
	default:
		return fmt.Errorf("JSONPayload: unsupported Scan type %T", src)
	}
	return nil
}

func (p JSONPayload) Value() (driver.Value, error) {
	if len(bytes.TrimSpace(p)) == 0 {
		return nil, nil
	}
	if !json.Valid(p) {
		return nil, fmt.Errorf("JSONPayload: invalid json")
	}
	return string(p), nil
}

func (p JSONPayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

func (p *JSONPayload) UnmarshalJSON(data []byte) error {
	*p = append((*p)[:0], data...)
	return nil
}
