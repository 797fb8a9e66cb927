package views

import (
	"github.com/GrainArc/GeoVersion/models"
	"github.com/GrainArc/GeoVersion/response"
	"github.com/GrainArc/GeoVersion/services"
	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

type MergeRequestHandler struct {
	mergeRequests *services.MergeRequestService
	conflicts     *services.ConflictService
}

func NewMergeRequestHandler(svc *services.Services) *MergeRequestHandler {
	return &MergeRequestHandler{
		mergeRequests: svc.MergeRequests,
		conflicts:     svc.Conflicts,
	}
}

func (h *MergeRequestHandler) Get(c *gin.Context) {
	mr, err := h.mergeRequests.Get(c.Request.Context(), c.Param("mergeRequestId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, mr)
}

func (h *MergeRequestHandler) UpdateDescription(c *gin.Context) {
	var req UpdateDescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	mr, err := h.mergeRequests.UpdateDescription(c.Request.Context(), actorFrom(c), c.Param("mergeRequestId"), req.Description)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, mr)
}

// SubmitForReview 有冲突时返回 400 并附带冲突列表
func (h *MergeRequestHandler) SubmitForReview(c *gin.Context) {
	mr, err := h.mergeRequests.SubmitForReview(c.Request.Context(), actorFrom(c), c.Param("mergeRequestId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, mr)
}

func (h *MergeRequestHandler) Cancel(c *gin.Context) {
	mr, err := h.mergeRequests.Cancel(c.Request.Context(), actorFrom(c), c.Param("mergeRequestId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, mr)
}

func (h *MergeRequestHandler) Approve(c *gin.Context) {
	mr, err := h.mergeRequests.Approve(c.Request.Context(), actorFrom(c), c.Param("mergeRequestId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "merge request approved", mr)
}

func (h *MergeRequestHandler) Reject(c *gin.Context) {
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	mr, err := h.mergeRequests.Reject(c.Request.Context(), actorFrom(c), c.Param("mergeRequestId"), req.Comment)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, mr)
}

func (h *MergeRequestHandler) GetChanges(c *gin.Context) {
	changes, err := h.mergeRequests.GetChanges(c.Request.Context(), c.Param("mergeRequestId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, changes)
}

func (h *MergeRequestHandler) GetConflicts(c *gin.Context) {
	conflicts, err := h.conflicts.GetConflicts(c.Request.Context(), c.Param("mergeRequestId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, conflicts)
}

func (h *MergeRequestHandler) GetStatistics(c *gin.Context) {
	stats, err := h.conflicts.GetConflictStatistics(c.Request.Context(), c.Param("mergeRequestId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, stats)
}

func (h *MergeRequestHandler) AutoResolve(c *gin.Context) {
	var req AutoResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	resolved, err := h.conflicts.AutoResolveConflicts(c.Request.Context(), actorFrom(c), c.Param("mergeRequestId"), req.Strategy)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"resolved": resolved})
}

// ResolveConflict 解决单条冲突，manual 需要提供 resolvedData
func (h *MergeRequestHandler) ResolveConflict(c *gin.Context) {
	var req ResolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	var manual *models.FeatureSnapshot
	if req.ResolvedData != nil {
		manual = &models.FeatureSnapshot{
			Properties: datatypes.JSONMap(req.ResolvedData.Properties),
			Status:     req.ResolvedData.Status,
		}
		if len(req.ResolvedData.Geometry) > 0 && !isJSONNull(req.ResolvedData.Geometry) {
			manual.Geometry = datatypes.JSON(req.ResolvedData.Geometry)
		}
	}
	change, err := h.conflicts.ResolveConflict(c.Request.Context(), actorFrom(c), c.Param("changeId"), req.Strategy, manual)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, change)
}

func (h *MergeRequestHandler) GetConflictDetails(c *gin.Context) {
	details, err := h.conflicts.GetConflictDetails(c.Request.Context(), c.Param("changeId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, details)
}

func (h *MergeRequestHandler) MergeProperties(c *gin.Context) {
	change, err := h.conflicts.MergeProperties(c.Request.Context(), actorFrom(c), c.Param("changeId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, change)
}

// CompareFeatures ?sourceId=&targetId=
func (h *MergeRequestHandler) CompareFeatures(c *gin.Context) {
	sourceID, targetID := c.Query("sourceId"), c.Query("targetId")
	if sourceID == "" || targetID == "" {
		response.BadRequest(c, "sourceId and targetId are required")
		return
	}
	cmp, err := h.conflicts.CompareFeatureVersions(c.Request.Context(), sourceID, targetID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, cmp)
}
