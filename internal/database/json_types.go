package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// BBox is a detection bounding box [x1, y1, x2, y2] in image pixels
type BBox []float64

func (b *BBox) Scan(value interface{}) error {
	if value == nil {
		*b = nil
		return nil
	}
	return scanJSON(value, b)
}

func (b BBox) Value() (driver.Value, error) {
	if b == nil {
		return nil, nil
	}
	return json.Marshal(b)
}

// DeliveryRecord maps a notification recipient to whether the send succeeded
type DeliveryRecord map[string]bool

func (d *DeliveryRecord) Scan(value interface{}) error {
	if value == nil {
		*d = nil
		return nil
	}
	return scanJSON(value, d)
}

func (d DeliveryRecord) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// Scan implements the sql.Scanner interface
func (v *Verdict) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	return scanJSON(value, v)
}

// Value implements the driver.Valuer interface
func (v Verdict) Value() (driver.Value, error) {
	return json.Marshal(v)
}

// scanJSON decodes a JSON column; postgres returns []byte, sqlite may return string.
func scanJSON(value interface{}, dst interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
}
