package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/GrainArc/GeoVersion/methods"
	"github.com/GrainArc/GeoVersion/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type DatasetService struct {
	opts Options
}

func NewDatasetService(opts Options) *DatasetService {
	return &DatasetService{opts: opts.withDefaults()}
}

// CreateDatasetInput 创建数据集参数
type CreateDatasetInput struct {
	Name        string
	Description string
	GeoType     string
}

// Create 创建数据集并同时创建 main 分支
func (s *DatasetService) Create(ctx context.Context, actor Actor, in CreateDatasetInput) (*models.Dataset, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, badRequest("dataset name is required")
	}
	if !methods.IsValidGeoType(in.GeoType) {
		return nil, badRequest("invalid geo type: %s", in.GeoType)
	}

	dataset := &models.Dataset{
		ID:           s.opts.NewID(),
		Name:         name,
		Description:  in.Description,
		GeoType:      in.GeoType,
		DepartmentID: actor.DepartmentID,
		CreatedBy:    actor.ID,
	}
	mainBranch := &models.Branch{
		ID:        s.opts.NewID(),
		DatasetID: dataset.ID,
		Name:      "main",
		IsMain:    true,
		Status:    models.BranchActive,
		CreatedBy: actor.ID,
	}

	err := s.opts.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(dataset).Error; err != nil {
			return fmt.Errorf("failed to create dataset: %w", err)
		}
		if err := tx.Create(mainBranch).Error; err != nil {
			return fmt.Errorf("failed to create main branch: %w", err)
		}
		return nil
	})
	if err != nil {
		s.opts.Logger.Error("dataset creation rolled back", zap.String("name", name), zap.Error(err))
		return nil, err
	}

	s.opts.Logger.Info("dataset created", zap.String("dataset_id", dataset.ID), zap.String("main_branch_id", mainBranch.ID))
	return dataset, nil
}

// ListByDepartment 部门下的数据集，按创建时间倒序
func (s *DatasetService) ListByDepartment(ctx context.Context, departmentID string) ([]models.Dataset, error) {
	var datasets []models.Dataset
	err := s.opts.DB.WithContext(ctx).
		Where("department_id = ?", departmentID).
		Order("created_at DESC").
		Find(&datasets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	return datasets, nil
}

func (s *DatasetService) Get(ctx context.Context, datasetID string) (*models.Dataset, error) {
	var dataset models.Dataset
	if err := first(ctx, s.opts.DB, &dataset, "dataset", "id = ?", datasetID); err != nil {
		return nil, err
	}
	return &dataset, nil
}

// 可以反查所属数据集的资源类型
const (
	KindDataset      = "dataset"
	KindBranch       = "branch"
	KindFeature      = "feature"
	KindMergeRequest = "merge_request"
	KindChange       = "change"
)

// OwningDepartment 资源所属数据集的部门
func (s *DatasetService) OwningDepartment(ctx context.Context, kind, id string) (string, error) {
	db := s.opts.DB.WithContext(ctx)
	var datasetID string
	switch kind {
	case KindDataset:
		datasetID = id
	case KindBranch:
		var branch models.Branch
		if err := first(ctx, db, &branch, "branch", "id = ?", id); err != nil {
			return "", err
		}
		datasetID = branch.DatasetID
	case KindFeature:
		var feature models.Feature
		if err := first(ctx, db, &feature, "feature", "id = ?", id); err != nil {
			return "", err
		}
		datasetID = feature.DatasetID
	case KindMergeRequest:
		var mr models.MergeRequest
		if err := first(ctx, db, &mr, "merge request", "id = ?", id); err != nil {
			return "", err
		}
		datasetID = mr.DatasetID
	case KindChange:
		var change models.FeatureChange
		if err := first(ctx, db, &change, "feature change", "id = ?", id); err != nil {
			return "", err
		}
		var mr models.MergeRequest
		if err := first(ctx, db, &mr, "merge request", "id = ?", change.MergeRequestID); err != nil {
			return "", err
		}
		datasetID = mr.DatasetID
	default:
		return "", badRequest("unknown resource kind %s", kind)
	}

	dataset, err := s.Get(ctx, datasetID)
	if err != nil {
		return "", err
	}
	return dataset.DepartmentID, nil
}
