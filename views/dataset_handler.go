package views

import (
	"github.com/GrainArc/GeoVersion/models"
	"github.com/GrainArc/GeoVersion/response"
	"github.com/GrainArc/GeoVersion/services"
	"github.com/gin-gonic/gin"
)

type DatasetHandler struct {
	datasets      *services.DatasetService
	branches      *services.BranchService
	mergeRequests *services.MergeRequestService
}

func NewDatasetHandler(svc *services.Services) *DatasetHandler {
	return &DatasetHandler{
		datasets:      svc.Datasets,
		branches:      svc.Branches,
		mergeRequests: svc.MergeRequests,
	}
}

// Create 创建数据集，同时创建 main 分支
func (h *DatasetHandler) Create(c *gin.Context) {
	var req CreateDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	dataset, err := h.datasets.Create(c.Request.Context(), actorFrom(c), services.CreateDatasetInput{
		Name:        req.Name,
		Description: req.Description,
		GeoType:     req.GeoType,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, dataset)
}

// List 当前用户部门下的数据集
func (h *DatasetHandler) List(c *gin.Context) {
	datasets, err := h.datasets.ListByDepartment(c.Request.Context(), actorFrom(c).DepartmentID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, datasets)
}

func (h *DatasetHandler) Get(c *gin.Context) {
	dataset, err := h.datasets.Get(c.Request.Context(), c.Param("datasetId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, dataset)
}

func (h *DatasetHandler) ListBranches(c *gin.Context) {
	branches, err := h.branches.ListByDataset(c.Request.Context(), c.Param("datasetId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, branches)
}

// Checkout 从 main 检出新分支
func (h *DatasetHandler) Checkout(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	branch, err := h.branches.Checkout(c.Request.Context(), actorFrom(c), c.Param("datasetId"), req.Name)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, branch)
}

// ListMergeRequests 可按 status 过滤
func (h *DatasetHandler) ListMergeRequests(c *gin.Context) {
	status := models.MergeRequestStatus(c.Query("status"))
	list, err := h.mergeRequests.ListByDataset(c.Request.Context(), c.Param("datasetId"), status)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, list)
}
