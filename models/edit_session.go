package models

import "time"

// models/edit_session.go

// Dataset 数据集，几何类型在创建时确定
type Dataset struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name         string    `gorm:"type:varchar(255);not null" json:"name"`
	Description  string    `gorm:"type:text" json:"description"`
	GeoType      string    `gorm:"type:varchar(32);not null" json:"geoType"`
	DepartmentID string    `gorm:"type:varchar(64);index" json:"departmentId"`
	CreatedBy    string    `gorm:"type:varchar(64)" json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (Dataset) TableName() string {
	return "datasets"
}

// Branch 分支即一个编辑会话，从 main 检出后独立编辑
type Branch struct {
	ID        string       `gorm:"type:varchar(36);primaryKey" json:"id"`
	DatasetID string       `gorm:"type:varchar(36);index:idx_branch_name_status,priority:1;index" json:"datasetId"`
	Name      string       `gorm:"type:varchar(255);index:idx_branch_name_status,priority:2" json:"name"`
	IsMain    bool         `gorm:"default:false" json:"isMain"`
	Status    BranchStatus `gorm:"type:varchar(16);index:idx_branch_name_status,priority:3" json:"status"`
	// 检出时的 main 分支，之后不再变化
	BranchedFrom *string   `gorm:"type:varchar(36)" json:"branchedFrom"`
	CreatedBy    string    `gorm:"type:varchar(64)" json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (Branch) TableName() string {
	return "branches"
}
