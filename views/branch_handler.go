package views

import (
	"encoding/json"
	"strconv"

	"github.com/GrainArc/GeoVersion/models"
	"github.com/GrainArc/GeoVersion/response"
	"github.com/GrainArc/GeoVersion/services"
	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb/geojson"
)

type BranchHandler struct {
	branches      *services.BranchService
	features      *services.FeatureService
	mergeRequests *services.MergeRequestService
}

func NewBranchHandler(svc *services.Services) *BranchHandler {
	return &BranchHandler{
		branches:      svc.Branches,
		features:      svc.Features,
		mergeRequests: svc.MergeRequests,
	}
}

func (h *BranchHandler) Get(c *gin.Context) {
	branch, err := h.branches.Get(c.Request.Context(), c.Param("branchId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, branch)
}

func (h *BranchHandler) Delete(c *gin.Context) {
	if err := h.branches.Delete(c.Request.Context(), actorFrom(c), c.Param("branchId")); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "branch deleted", nil)
}

// ListFeatures format=geojson 时返回 FeatureCollection
func (h *BranchHandler) ListFeatures(c *gin.Context) {
	includeDeleted, _ := strconv.ParseBool(c.DefaultQuery("includeDeleted", "false"))
	features, err := h.branches.ListFeatures(c.Request.Context(), c.Param("branchId"), includeDeleted)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if c.Query("format") == "geojson" {
		response.Success(c, buildFeatureCollection(features))
		return
	}
	response.Success(c, FeatureListResponse{Features: features, Total: len(features)})
}

// buildFeatureCollection 要素转为 GeoJSON，版本信息放在 properties 的保留字段中
func buildFeatureCollection(features []models.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		geom, err := geojson.UnmarshalGeometry(f.Geometry)
		if err != nil {
			continue
		}
		feature := geojson.NewFeature(geom.Geometry())
		feature.ID = f.ID
		for k, v := range f.Properties {
			feature.Properties[k] = v
		}
		feature.Properties["_version"] = f.Version
		feature.Properties["_status"] = f.Status
		fc.Append(feature)
	}
	return fc
}

func (h *BranchHandler) AddFeature(c *gin.Context) {
	var req FeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	feature, err := h.features.Add(c.Request.Context(), actorFrom(c), c.Param("branchId"), services.FeatureInput{
		Geometry:   req.Geometry,
		Properties: req.Properties,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, feature)
}

func (h *BranchHandler) UpdateFeature(c *gin.Context) {
	var req UpdateFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if isJSONNull(req.Geometry) {
		req.Geometry = nil
	}
	feature, err := h.features.Update(c.Request.Context(), actorFrom(c), c.Param("branchId"), c.Param("featureId"), services.FeatureInput{
		Geometry:   req.Geometry,
		Properties: req.Properties,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, feature)
}

func isJSONNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}

func (h *BranchHandler) DeleteFeature(c *gin.Context) {
	if err := h.features.Delete(c.Request.Context(), actorFrom(c), c.Param("branchId"), c.Param("featureId")); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "feature deleted", nil)
}

func (h *BranchHandler) CheckForUpdates(c *gin.Context) {
	updates, err := h.branches.CheckForUpdates(c.Request.Context(), c.Param("branchId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, updates)
}

func (h *BranchHandler) GetChanges(c *gin.Context) {
	changes, err := h.branches.GetChanges(c.Request.Context(), c.Param("branchId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, changes)
}

func (h *BranchHandler) HasActiveMergeRequest(c *gin.Context) {
	active, err := h.branches.HasActiveMergeRequest(c.Request.Context(), c.Param("branchId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"hasActiveMergeRequest": active})
}

func (h *BranchHandler) CanEdit(c *gin.Context) {
	perm, err := h.branches.CanEdit(c.Request.Context(), actorFrom(c), c.Param("branchId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, perm)
}

// CreateMergeRequest 以当前分支为源创建合并请求
func (h *BranchHandler) CreateMergeRequest(c *gin.Context) {
	var req CreateMergeRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	mr, err := h.mergeRequests.Create(c.Request.Context(), actorFrom(c), c.Param("branchId"), req.Description)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, mr)
}
