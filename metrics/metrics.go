// Package metrics 版本管理服务的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MergeRequestTransitions 合并请求状态迁移次数，按目标状态
	MergeRequestTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geoversion",
			Subsystem: "merge_request",
			Name:      "transitions_total",
			Help:      "Total number of merge request status transitions by target status",
		},
		[]string{"status"},
	)

	// ConflictsDetected 提交审核时发现的冲突
	ConflictsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geoversion",
			Subsystem: "merge_request",
			Name:      "conflicts_detected_total",
			Help:      "Total number of conflicts detected by type",
		},
		[]string{"type"},
	)

	// ConflictsResolved 按策略统计的冲突解决次数
	ConflictsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geoversion",
			Subsystem: "merge_request",
			Name:      "conflicts_resolved_total",
			Help:      "Total number of conflicts resolved by strategy",
		},
		[]string{"strategy"},
	)

	// ChangesApplied 合并写入 main 的要素变更
	ChangesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geoversion",
			Subsystem: "merge",
			Name:      "changes_applied_total",
			Help:      "Total number of feature changes applied to main by change type",
		},
		[]string{"change_type"},
	)

	// CheckoutFeaturesCopied 检出时复制到新分支的要素数
	CheckoutFeaturesCopied = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "geoversion",
			Subsystem: "branch",
			Name:      "checkout_features_copied_total",
			Help:      "Total number of main features copied into checked-out branches",
		},
	)
)
