package models

import (
	"time"

	"gorm.io/datatypes"
)

// Feature 分支内的要素记录
//
// ParentFeatureID 为空表示要素在本分支新增；ParentVersion 是检出时 main 要素的版本，
// 作为冲突检测的基线，检出后不再修改。
type Feature struct {
	ID              string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	DatasetID       string            `gorm:"type:varchar(36);index" json:"datasetId"`
	BranchID        string            `gorm:"type:varchar(36);index" json:"branchId"`
	Geometry        datatypes.JSON    `json:"geometry"`
	Properties      datatypes.JSONMap `json:"properties"`
	Status          FeatureStatus     `gorm:"type:varchar(16);default:active" json:"status"`
	Version         int               `gorm:"default:1" json:"version"`
	ParentFeatureID *string           `gorm:"type:varchar(36);index" json:"parentFeatureId"`
	ParentVersion   *int              `json:"parentVersion"`
	CreatedBy       string            `gorm:"type:varchar(64)" json:"createdBy"`
	UpdatedBy       string            `gorm:"type:varchar(64)" json:"updatedBy"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

func (Feature) TableName() string {
	return "features"
}

// Snapshot 要素当前内容的快照
func (f *Feature) Snapshot() *FeatureSnapshot {
	return &FeatureSnapshot{
		Geometry:   cloneJSON(f.Geometry),
		Properties: cloneProps(f.Properties),
		Version:    f.Version,
		Status:     f.Status,
	}
}

// MergeRequest 合并请求，目标分支恒为源分支检出时的 main
type MergeRequest struct {
	ID             string             `gorm:"type:varchar(36);primaryKey" json:"id"`
	DatasetID      string             `gorm:"type:varchar(36);index" json:"datasetId"`
	SourceBranchID string             `gorm:"type:varchar(36);index" json:"sourceBranchId"`
	TargetBranchID string             `gorm:"type:varchar(36)" json:"targetBranchId"`
	Description    string             `gorm:"type:text" json:"description"`
	Status         MergeRequestStatus `gorm:"type:varchar(16);index" json:"status"`
	Conflicts      ConflictList       `json:"conflicts"`
	CreatedBy      string             `gorm:"type:varchar(64)" json:"createdBy"`
	ReviewedBy     *string            `gorm:"type:varchar(64)" json:"reviewedBy"`
	ReviewComment  *string            `gorm:"type:text" json:"reviewComment"`
	ReviewedAt     *time.Time         `json:"reviewedAt"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`

	Changes []FeatureChange `gorm:"foreignKey:MergeRequestID" json:"changes,omitempty"`
}

func (MergeRequest) TableName() string {
	return "merge_requests"
}

// FeatureChange 合并请求中每个有差异的要素一条记录，冲突解决时原地修改
type FeatureChange struct {
	ID             string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	MergeRequestID string           `gorm:"type:varchar(36);index" json:"mergeRequestId"`
	FeatureID      string           `gorm:"type:varchar(36);index" json:"featureId"`
	ChangeType     ChangeType       `gorm:"type:varchar(16)" json:"changeType"`
	BeforeData     *FeatureSnapshot `json:"beforeData"`
	AfterData      *FeatureSnapshot `json:"afterData"`
	HasConflict    bool             `gorm:"default:false;index" json:"hasConflict"`
	ConflictData   *Conflict        `json:"conflictData"`
	// 已采用的解决策略，为空表示未解决过
	Resolution ResolutionStrategy `gorm:"type:varchar(32)" json:"resolution,omitempty"`
	// 重新提交时分支已不再产生该差异，记录保留但合并与统计都跳过
	Superseded bool      `gorm:"default:false" json:"superseded"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (FeatureChange) TableName() string {
	return "feature_changes"
}
