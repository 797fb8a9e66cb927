package views

import (
	"encoding/json"

	"github.com/GrainArc/GeoVersion/models"
)

type CreateDatasetRequest struct {
	Name        string `json:"name" binding:"required,max=255"`
	Description string `json:"description" binding:"max=1000"`
	GeoType     string `json:"geoType" binding:"required,oneof=point line polygon multipoint multiline multipolygon geometry"`
}

type CheckoutRequest struct {
	Name string `json:"name" binding:"required,max=255,branchname"`
}

type FeatureRequest struct {
	Geometry   json.RawMessage        `json:"geometry" binding:"required"`
	Properties map[string]interface{} `json:"properties"`
}

// UpdateFeatureRequest 为空的字段保持不变
type UpdateFeatureRequest struct {
	Geometry   json.RawMessage        `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

type CreateMergeRequestRequest struct {
	Description string `json:"description" binding:"max=1000"`
}

type UpdateDescriptionRequest struct {
	Description string `json:"description" binding:"max=1000"`
}

type RejectRequest struct {
	Comment string `json:"comment" binding:"required,min=10,max=1000"`
}

type ResolveConflictRequest struct {
	Strategy     models.ResolutionStrategy `json:"strategy" binding:"required,oneof=keep_source keep_target manual"`
	ResolvedData *ResolvedDataRequest      `json:"resolvedData"`
}

type ResolvedDataRequest struct {
	Geometry   json.RawMessage        `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
	Status     models.FeatureStatus   `json:"status" binding:"omitempty,oneof=active deleted"`
}

type AutoResolveRequest struct {
	Strategy models.ResolutionStrategy `json:"strategy" binding:"required,oneof=keep_source keep_target"`
}

type FeatureListResponse struct {
	Features []models.Feature `json:"features"`
	Total    int              `json:"total"`
}
