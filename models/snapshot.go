package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// FeatureSnapshot 变更记录 before / after 中保存的要素内容
type FeatureSnapshot struct {
	Geometry   datatypes.JSON    `json:"geometry"`
	Properties datatypes.JSONMap `json:"properties"`
	Version    int               `json:"version"`
	Status     FeatureStatus     `json:"status,omitempty"`
}

// Clone 深拷贝，解决冲突时避免 before / after 共享同一份 map
func (s *FeatureSnapshot) Clone() *FeatureSnapshot {
	if s == nil {
		return nil
	}
	return &FeatureSnapshot{
		Geometry:   cloneJSON(s.Geometry),
		Properties: cloneProps(s.Properties),
		Version:    s.Version,
		Status:     s.Status,
	}
}

func (s FeatureSnapshot) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *FeatureSnapshot) Scan(value interface{}) error {
	return scanJSON(value, s)
}

func (FeatureSnapshot) GormDataType() string {
	return "json"
}

func (FeatureSnapshot) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonColumnType(db)
}

// Conflict 一条冲突的描述，同时存放在合并请求和对应的变更记录上
type Conflict struct {
	FeatureID       string       `json:"featureId"`
	ParentFeatureID string       `json:"parentFeatureId"`
	Type            ConflictType `json:"type"`
	Reason          string       `json:"reason"`
	BranchVersion   int          `json:"branchVersion"`
	BaselineVersion int          `json:"baselineVersion"`
	MainVersion     int          `json:"mainVersion"`
}

func (c Conflict) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *Conflict) Scan(value interface{}) error {
	return scanJSON(value, c)
}

func (Conflict) GormDataType() string {
	return "json"
}

func (Conflict) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonColumnType(db)
}

type ConflictList []Conflict

func (l ConflictList) Value() (driver.Value, error) {
	if l == nil {
		l = ConflictList{}
	}
	b, err := json.Marshal([]Conflict(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *ConflictList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

func (ConflictList) GormDataType() string {
	return "json"
}

func (ConflictList) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonColumnType(db)
}

func scanJSON(value interface{}, dest interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New(fmt.Sprint("failed to unmarshal JSON value:", value))
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}

func jsonColumnType(db *gorm.DB) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "JSONB"
	case "mysql":
		return "JSON"
	default:
		return "JSON"
	}
}

func cloneJSON(src datatypes.JSON) datatypes.JSON {
	if src == nil {
		return nil
	}
	dst := make(datatypes.JSON, len(src))
	copy(dst, src)
	return dst
}

func cloneProps(src datatypes.JSONMap) datatypes.JSONMap {
	if src == nil {
		return datatypes.JSONMap{}
	}
	// 经过一次 JSON 编解码，嵌套的 map / slice 也会被复制
	b, err := json.Marshal(src)
	if err != nil {
		dst := make(datatypes.JSONMap, len(src))
		for k, v := range src {
			dst[k] = v
		}
		return dst
	}
	dst := datatypes.JSONMap{}
	_ = json.Unmarshal(b, &dst)
	return dst
}
