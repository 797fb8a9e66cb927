package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/GrainArc/GeoVersion/methods"
	"github.com/GrainArc/GeoVersion/models"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// FeatureService 分支内要素的增删改，main 只能通过合并修改
type FeatureService struct {
	opts Options
}

func NewFeatureService(opts Options) *FeatureService {
	return &FeatureService{opts: opts.withDefaults()}
}

// FeatureInput 新增或修改要素的参数，修改时为空的字段保持不变
type FeatureInput struct {
	Geometry   json.RawMessage
	Properties map[string]interface{}
}

// editableBranch 加载分支并检查当前用户能否编辑其中的要素
func (s *FeatureService) editableBranch(ctx context.Context, actor Actor, branchID string) (*models.Branch, *models.Dataset, error) {
	var branch models.Branch
	if err := first(ctx, s.opts.DB, &branch, "branch", "id = ?", branchID); err != nil {
		return nil, nil, err
	}
	if branch.IsMain {
		return nil, nil, badRequest("cannot edit main branch directly, create a branch and merge request instead")
	}
	if branch.Status != models.BranchActive {
		return nil, nil, badRequest("cannot edit %s branch", branch.Status)
	}
	if err := Authorize(actor, OpEditBranch, Resource{Kind: "branch", ID: branch.ID, OwnerID: branch.CreatedBy}); err != nil {
		return nil, nil, err
	}
	var dataset models.Dataset
	if err := first(ctx, s.opts.DB, &dataset, "dataset", "id = ?", branch.DatasetID); err != nil {
		return nil, nil, err
	}
	return &branch, &dataset, nil
}

func validateGeometry(geometry []byte, geoType string) error {
	if err := methods.ValidateGeometry(geometry, geoType); err != nil {
		return badRequest("%s", err.Error())
	}
	return nil
}

// Add 在分支中新增要素，版本从 1 开始且没有父要素
func (s *FeatureService) Add(ctx context.Context, actor Actor, branchID string, in FeatureInput) (*models.Feature, error) {
	branch, dataset, err := s.editableBranch(ctx, actor, branchID)
	if err != nil {
		return nil, err
	}
	if err := validateGeometry(in.Geometry, dataset.GeoType); err != nil {
		return nil, err
	}

	props := datatypes.JSONMap{}
	for k, v := range in.Properties {
		props[k] = v
	}
	feature := &models.Feature{
		ID:         s.opts.NewID(),
		DatasetID:  branch.DatasetID,
		BranchID:   branch.ID,
		Geometry:   datatypes.JSON(in.Geometry),
		Properties: props,
		Status:     models.FeatureActive,
		Version:    1,
		CreatedBy:  actor.ID,
		UpdatedBy:  actor.ID,
	}
	if err := s.opts.DB.WithContext(ctx).Create(feature).Error; err != nil {
		return nil, fmt.Errorf("failed to add feature: %w", err)
	}
	s.opts.Logger.Debug("feature added", zap.String("feature_id", feature.ID), zap.String("branch_id", branch.ID))
	return feature, nil
}

func (s *FeatureService) branchFeature(ctx context.Context, branchID, featureID string) (*models.Feature, error) {
	var feature models.Feature
	if err := first(ctx, s.opts.DB, &feature, "feature", "id = ? AND branch_id = ?", featureID, branchID); err != nil {
		return nil, err
	}
	if feature.Status == models.FeatureDeleted {
		return nil, badRequest("feature %s is deleted", featureID)
	}
	return &feature, nil
}

// Update 替换提供的字段，版本加一，id 与父要素保持不变
func (s *FeatureService) Update(ctx context.Context, actor Actor, branchID, featureID string, in FeatureInput) (*models.Feature, error) {
	_, dataset, err := s.editableBranch(ctx, actor, branchID)
	if err != nil {
		return nil, err
	}
	feature, err := s.branchFeature(ctx, branchID, featureID)
	if err != nil {
		return nil, err
	}
	if len(in.Geometry) > 0 {
		if err := validateGeometry(in.Geometry, dataset.GeoType); err != nil {
			return nil, err
		}
		feature.Geometry = datatypes.JSON(in.Geometry)
	}
	if in.Properties != nil {
		props := datatypes.JSONMap{}
		for k, v := range in.Properties {
			props[k] = v
		}
		feature.Properties = props
	}
	feature.Version++
	feature.UpdatedBy = actor.ID

	if err := s.opts.DB.WithContext(ctx).Save(feature).Error; err != nil {
		return nil, fmt.Errorf("failed to update feature: %w", err)
	}
	return feature, nil
}

// Delete 软删除，版本不变
func (s *FeatureService) Delete(ctx context.Context, actor Actor, branchID, featureID string) error {
	if _, _, err := s.editableBranch(ctx, actor, branchID); err != nil {
		return err
	}
	feature, err := s.branchFeature(ctx, branchID, featureID)
	if err != nil {
		return err
	}
	err = s.opts.DB.WithContext(ctx).Model(feature).Updates(map[string]interface{}{
		"status":     models.FeatureDeleted,
		"updated_by": actor.ID,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to delete feature: %w", err)
	}
	return nil
}
