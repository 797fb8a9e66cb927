package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/GrainArc/GeoVersion/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MergeEngine 将合并请求的变更写入 main，调用方负责提供事务
type MergeEngine struct {
	newID  func() string
	logger *zap.Logger
}

func NewMergeEngine(newID func() string, logger *zap.Logger) *MergeEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MergeEngine{newID: newID, logger: logger}
}

// ApplyResult 各类变更实际写入的数量，事务提交后才计入指标
type ApplyResult struct {
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Deleted  int `json:"deleted"`
	Skipped  int `json:"skipped"`
}

// Apply 逐条应用变更，任何一条失败都返回错误，由外层事务整体回滚
func (e *MergeEngine) Apply(ctx context.Context, tx *gorm.DB, mr *models.MergeRequest, changes []models.FeatureChange, reviewerID string) (*ApplyResult, error) {
	result := &ApplyResult{}
	for i := range changes {
		change := &changes[i]
		if change.Resolution == models.ResolveKeepTarget || change.Superseded {
			// 保留 main 的版本，不写入
			result.Skipped++
			continue
		}

		var source models.Feature
		if err := first(ctx, tx, &source, "source feature "+change.FeatureID, "id = ?", change.FeatureID); err != nil {
			return nil, err
		}
		after := change.AfterData
		if after == nil {
			after = source.Snapshot()
		}

		switch change.ChangeType {
		case models.ChangeAdd:
			feature := &models.Feature{
				ID:         e.newID(),
				DatasetID:  source.DatasetID,
				BranchID:   mr.TargetBranchID,
				Geometry:   after.Clone().Geometry,
				Properties: after.Clone().Properties,
				Status:     models.FeatureActive,
				Version:    1,
				CreatedBy:  source.CreatedBy,
				UpdatedBy:  reviewerID,
			}
			if err := tx.WithContext(ctx).Create(feature).Error; err != nil {
				return nil, fmt.Errorf("failed to add feature to main: %w", err)
			}
			result.Added++

		case models.ChangeModify, models.ChangeDelete:
			target, err := e.locateTarget(ctx, tx, mr, &source)
			if err != nil {
				return nil, err
			}
			if change.ChangeType == models.ChangeDelete {
				target.Status = models.FeatureDeleted
				target.UpdatedBy = reviewerID
				result.Deleted++
			} else {
				target.Geometry = after.Clone().Geometry
				target.Properties = after.Clone().Properties
				target.Status = models.FeatureActive
				target.Version++
				target.UpdatedBy = reviewerID
				result.Modified++
			}
			if err := tx.WithContext(ctx).Save(target).Error; err != nil {
				return nil, fmt.Errorf("failed to update main feature %s: %w", target.ID, err)
			}

		default:
			return nil, badRequest("unknown change type %s", change.ChangeType)
		}
	}

	e.logger.Info("merge applied to main",
		zap.String("merge_request_id", mr.ID),
		zap.Int("added", result.Added),
		zap.Int("modified", result.Modified),
		zap.Int("deleted", result.Deleted),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

// locateTarget 通过源要素的 ParentFeatureID 找到 main 中的要素，找不到时中止合并
func (e *MergeEngine) locateTarget(ctx context.Context, tx *gorm.DB, mr *models.MergeRequest, source *models.Feature) (*models.Feature, error) {
	if source.ParentFeatureID == nil {
		return nil, badRequest("feature %s has no parent in main", source.ID)
	}
	var target models.Feature
	err := first(ctx, tx, &target, "main feature "+*source.ParentFeatureID,
		"id = ? AND branch_id = ?", *source.ParentFeatureID, mr.TargetBranchID)
	if errors.Is(err, ErrNotFound) {
		e.logger.Error("merge target missing, aborting merge",
			zap.String("merge_request_id", mr.ID),
			zap.String("feature_id", source.ID),
			zap.String("parent_feature_id", *source.ParentFeatureID))
	}
	if err != nil {
		return nil, err
	}
	return &target, nil
}
