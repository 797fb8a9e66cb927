package services

import (
	"context"
	"fmt"

	"github.com/GrainArc/GeoVersion/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Change 分支相对检出基线的一条差异
//
// Add 没有 Before；Modify / Delete 的 Before 为父要素在 main 中的当前快照。
type Change struct {
	Type    models.ChangeType       `json:"changeType"`
	Feature models.Feature          `json:"feature"`
	Before  *models.FeatureSnapshot `json:"beforeData"`
	After   *models.FeatureSnapshot `json:"afterData"`
}

const parentBatchSize = 500

// ChangeTracker 计算分支与其检出时 main 之间的增删改
type ChangeTracker struct {
	logger *zap.Logger
}

func NewChangeTracker(logger *zap.Logger) *ChangeTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeTracker{logger: logger}
}

// Compute 逐个检查分支内的要素，db 可以是事务
func (t *ChangeTracker) Compute(ctx context.Context, db *gorm.DB, branch *models.Branch) ([]Change, error) {
	if branch.BranchedFrom == nil {
		return nil, badRequest("branch %s was not forked from a main branch", branch.ID)
	}

	var sourceFeatures []models.Feature
	if err := db.WithContext(ctx).
		Where("branch_id = ?", branch.ID).
		Order("created_at ASC, id ASC").
		Find(&sourceFeatures).Error; err != nil {
		return nil, fmt.Errorf("failed to load branch features: %w", err)
	}

	parents, err := loadParents(ctx, db, *branch.BranchedFrom, sourceFeatures)
	if err != nil {
		return nil, err
	}

	changes := make([]Change, 0)
	for _, f := range sourceFeatures {
		change, ok := t.classify(f, parents)
		if ok {
			changes = append(changes, change)
		}
	}
	return changes, nil
}

func (t *ChangeTracker) classify(f models.Feature, parents map[string]models.Feature) (Change, bool) {
	if f.ParentFeatureID == nil {
		// 分支内新增后又删除的要素对 main 没有影响
		if f.Status == models.FeatureDeleted {
			return Change{}, false
		}
		return Change{Type: models.ChangeAdd, Feature: f, After: f.Snapshot()}, true
	}

	parent, ok := parents[*f.ParentFeatureID]
	if !ok {
		t.logger.Warn("parent feature missing from target branch, skipping",
			zap.String("feature_id", f.ID),
			zap.String("parent_feature_id", *f.ParentFeatureID))
		return Change{}, false
	}

	if f.Status == models.FeatureDeleted {
		return Change{Type: models.ChangeDelete, Feature: f, Before: parent.Snapshot(), After: f.Snapshot()}, true
	}
	if f.Version > baselineOf(f) {
		return Change{Type: models.ChangeModify, Feature: f, Before: parent.Snapshot(), After: f.Snapshot()}, true
	}
	return Change{}, false
}

// baselineOf 检出时冻结的父版本，缺失时视为 0
func baselineOf(f models.Feature) int {
	if f.ParentVersion == nil {
		return 0
	}
	return *f.ParentVersion
}

// loadParents 读取目标分支中被引用的父要素（包含已删除的）
func loadParents(ctx context.Context, db *gorm.DB, targetBranchID string, features []models.Feature) (map[string]models.Feature, error) {
	ids := make([]string, 0, len(features))
	for _, f := range features {
		if f.ParentFeatureID != nil {
			ids = append(ids, *f.ParentFeatureID)
		}
	}
	parents := make(map[string]models.Feature, len(ids))
	if len(ids) == 0 {
		return parents, nil
	}

	// 分批查询，避免超出驱动的参数个数上限
	for start := 0; start < len(ids); start += parentBatchSize {
		end := start + parentBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		var rows []models.Feature
		if err := db.WithContext(ctx).
			Where("branch_id = ? AND id IN ?", targetBranchID, ids[start:end]).
			Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("failed to load parent features: %w", err)
		}
		for _, r := range rows {
			parents[r.ID] = r
		}
	}
	return parents, nil
}
