package routers

import (
	"github.com/GrainArc/GeoVersion/services"
	"github.com/GrainArc/GeoVersion/views"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options 路由依赖
type Options struct {
	Services    *services.Services
	Logger      *zap.Logger
	MetricsPath string
}

// VersionRouters 注册版本管理接口
func VersionRouters(r *gin.Engine, opts Options) {
	views.RegisterValidators()
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := opts.Services
	datasetCtrl := views.NewDatasetHandler(svc)
	branchCtrl := views.NewBranchHandler(svc)
	mergeCtrl := views.NewMergeRequestHandler(svc)

	guard := func(kind, param string) gin.HandlerFunc {
		return views.DepartmentGuard(svc.Datasets, logger, kind, param)
	}

	if opts.MetricsPath != "" {
		r.GET(opts.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api", views.ActorMiddleware())

	datasetRouter := api.Group("/datasets")
	{
		datasetRouter.POST("", datasetCtrl.Create)
		datasetRouter.GET("", datasetCtrl.List)

		ds := datasetRouter.Group("/:datasetId", guard(services.KindDataset, "datasetId"))
		ds.GET("", datasetCtrl.Get)
		ds.GET("/branches", datasetCtrl.ListBranches)
		ds.POST("/branches", datasetCtrl.Checkout)
		ds.GET("/merge-requests", datasetCtrl.ListMergeRequests)
	}

	branchRouter := api.Group("/branches/:branchId", guard(services.KindBranch, "branchId"))
	{
		branchRouter.GET("", branchCtrl.Get)
		branchRouter.DELETE("", branchCtrl.Delete)
		branchRouter.GET("/features", branchCtrl.ListFeatures)
		branchRouter.POST("/features", branchCtrl.AddFeature)
		branchRouter.PUT("/features/:featureId", branchCtrl.UpdateFeature)
		branchRouter.DELETE("/features/:featureId", branchCtrl.DeleteFeature)
		branchRouter.GET("/check-updates", branchCtrl.CheckForUpdates)
		branchRouter.GET("/changes", branchCtrl.GetChanges)
		branchRouter.GET("/has-active-merge-request", branchCtrl.HasActiveMergeRequest)
		branchRouter.GET("/can-edit", branchCtrl.CanEdit)
		branchRouter.POST("/merge-requests", branchCtrl.CreateMergeRequest)
	}

	mergeRouter := api.Group("/merge-requests/:mergeRequestId", guard(services.KindMergeRequest, "mergeRequestId"))
	{
		mergeRouter.GET("", mergeCtrl.Get)
		mergeRouter.PUT("", mergeCtrl.UpdateDescription)
		mergeRouter.POST("/submit-for-review", mergeCtrl.SubmitForReview)
		mergeRouter.POST("/cancel", mergeCtrl.Cancel)
		mergeRouter.POST("/approve", mergeCtrl.Approve)
		mergeRouter.POST("/reject", mergeCtrl.Reject)
		mergeRouter.GET("/changes", mergeCtrl.GetChanges)
		mergeRouter.GET("/conflicts", mergeCtrl.GetConflicts)
		mergeRouter.GET("/statistics", mergeCtrl.GetStatistics)
		mergeRouter.POST("/conflicts/auto-resolve", mergeCtrl.AutoResolve)
	}

	changeRouter := api.Group("/changes/:changeId", guard(services.KindChange, "changeId"))
	{
		changeRouter.POST("/resolve", mergeCtrl.ResolveConflict)
		changeRouter.GET("/conflict-details", mergeCtrl.GetConflictDetails)
		changeRouter.POST("/merge-properties", mergeCtrl.MergeProperties)
	}

	api.GET("/features/compare",
		guard(services.KindFeature, "?sourceId"),
		guard(services.KindFeature, "?targetId"),
		mergeCtrl.CompareFeatures)
}
