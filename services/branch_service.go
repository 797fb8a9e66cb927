package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/GrainArc/GeoVersion/metrics"
	"github.com/GrainArc/GeoVersion/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var branchNamePattern = regexp.MustCompile(`^[a-z0-9-/]+$`)

const (
	MaxBranchNameLength = 255
	checkoutBatchSize   = 200
)

// BranchService 分支生命周期：检出、删除、编辑权限与差异查询
type BranchService struct {
	opts    Options
	tracker *ChangeTracker
}

func NewBranchService(opts Options, tracker *ChangeTracker) *BranchService {
	opts = opts.withDefaults()
	if tracker == nil {
		tracker = NewChangeTracker(opts.Logger)
	}
	return &BranchService{opts: opts, tracker: tracker}
}

// ValidateBranchName 分支名只允许小写字母、数字、- 和 /
func ValidateBranchName(name string) error {
	if name == "" || len(name) > MaxBranchNameLength {
		return badRequest("branch name must be between 1 and %d characters", MaxBranchNameLength)
	}
	if !branchNamePattern.MatchString(name) {
		return badRequest("branch name can only contain lowercase letters, numbers, hyphens, and slashes")
	}
	return nil
}

// Checkout 从 main 检出新分支，复制 main 中全部未删除的要素
func (s *BranchService) Checkout(ctx context.Context, actor Actor, datasetID, name string) (*models.Branch, error) {
	name = strings.TrimSpace(name)
	if err := ValidateBranchName(name); err != nil {
		return nil, err
	}
	var dataset models.Dataset
	if err := first(ctx, s.opts.DB, &dataset, "dataset", "id = ?", datasetID); err != nil {
		return nil, err
	}
	mainBranch, err := s.mainBranch(ctx, s.opts.DB, datasetID)
	if err != nil {
		return nil, err
	}

	branch := &models.Branch{
		ID:           s.opts.NewID(),
		DatasetID:    datasetID,
		Name:         name,
		IsMain:       false,
		Status:       models.BranchActive,
		BranchedFrom: &mainBranch.ID,
		CreatedBy:    actor.ID,
	}

	var copied int
	err = s.opts.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.Branch{}).
			Where("dataset_id = ? AND name = ? AND status = ?", datasetID, name, models.BranchActive).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("failed to check branch name: %w", err)
		}
		if existing > 0 {
			return badRequest("branch %q already exists", name)
		}
		if err := tx.Create(branch).Error; err != nil {
			return fmt.Errorf("failed to create branch: %w", err)
		}

		var mainFeatures []models.Feature
		if err := tx.Where("branch_id = ? AND status = ?", mainBranch.ID, models.FeatureActive).
			Order("created_at ASC, id ASC").
			Find(&mainFeatures).Error; err != nil {
			return fmt.Errorf("failed to load main features: %w", err)
		}
		if len(mainFeatures) == 0 {
			return nil
		}

		copies := make([]models.Feature, 0, len(mainFeatures))
		for _, f := range mainFeatures {
			parentID := f.ID
			parentVersion := f.Version
			snap := f.Snapshot()
			copies = append(copies, models.Feature{
				ID:              s.opts.NewID(),
				DatasetID:       f.DatasetID,
				BranchID:        branch.ID,
				Geometry:        snap.Geometry,
				Properties:      snap.Properties,
				Status:          models.FeatureActive,
				Version:         f.Version,
				ParentFeatureID: &parentID,
				ParentVersion:   &parentVersion,
				CreatedBy:       actor.ID,
				UpdatedBy:       actor.ID,
			})
		}
		if err := tx.CreateInBatches(copies, checkoutBatchSize).Error; err != nil {
			return fmt.Errorf("failed to copy features: %w", err)
		}
		copied = len(copies)
		return nil
	})
	if err != nil {
		if !isServiceError(err) {
			s.opts.Logger.Error("checkout rolled back", zap.String("dataset_id", datasetID), zap.String("name", name), zap.Error(err))
		}
		return nil, err
	}

	metrics.CheckoutFeaturesCopied.Add(float64(copied))
	s.opts.Logger.Info("branch checked out",
		zap.String("branch_id", branch.ID),
		zap.String("dataset_id", datasetID),
		zap.String("name", name),
		zap.Int("features", copied))
	return branch, nil
}

func (s *BranchService) mainBranch(ctx context.Context, db *gorm.DB, datasetID string) (*models.Branch, error) {
	var main models.Branch
	if err := first(ctx, db, &main, "main branch", "dataset_id = ? AND is_main = ?", datasetID, true); err != nil {
		return nil, err
	}
	return &main, nil
}

func (s *BranchService) Get(ctx context.Context, branchID string) (*models.Branch, error) {
	var branch models.Branch
	if err := first(ctx, s.opts.DB, &branch, "branch", "id = ?", branchID); err != nil {
		return nil, err
	}
	return &branch, nil
}

// ListByDataset 数据集下全部分支，按创建时间倒序
func (s *BranchService) ListByDataset(ctx context.Context, datasetID string) ([]models.Branch, error) {
	var branches []models.Branch
	if err := s.opts.DB.WithContext(ctx).
		Where("dataset_id = ?", datasetID).
		Order("created_at DESC").
		Find(&branches).Error; err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	return branches, nil
}

// Delete 软删除分支，要素保留
func (s *BranchService) Delete(ctx context.Context, actor Actor, branchID string) error {
	branch, err := s.Get(ctx, branchID)
	if err != nil {
		return err
	}
	if branch.IsMain {
		return badRequest("cannot delete main branch")
	}
	if branch.Status != models.BranchActive {
		return badRequest("branch is already %s", branch.Status)
	}
	if err := Authorize(actor, OpDeleteBranch, Resource{Kind: "branch", ID: branch.ID, OwnerID: branch.CreatedBy}); err != nil {
		return err
	}
	active, err := findActiveMergeRequest(ctx, s.opts.DB, branch.ID)
	if err != nil {
		return err
	}
	if active != nil {
		return badRequest("cannot delete branch with active merge request %s", active.ID)
	}

	if err := s.opts.DB.WithContext(ctx).Model(branch).Update("status", models.BranchDeleted).Error; err != nil {
		return fmt.Errorf("failed to delete branch: %w", err)
	}
	s.opts.Logger.Info("branch deleted", zap.String("branch_id", branch.ID))
	return nil
}

// ListFeatures 分支内的要素，最近创建的在前
func (s *BranchService) ListFeatures(ctx context.Context, branchID string, includeDeleted bool) ([]models.Feature, error) {
	if _, err := s.Get(ctx, branchID); err != nil {
		return nil, err
	}
	query := s.opts.DB.WithContext(ctx).Where("branch_id = ?", branchID)
	if !includeDeleted {
		query = query.Where("status = ?", models.FeatureActive)
	}
	var features []models.Feature
	if err := query.Order("created_at DESC, id DESC").Find(&features).Error; err != nil {
		return nil, fmt.Errorf("failed to list features: %w", err)
	}
	return features, nil
}

// BranchUpdates 分支检出后 main 上发生的修改
type BranchUpdates struct {
	BranchID           string            `json:"branchId"`
	MainBranchID       string            `json:"mainBranchId"`
	HasUpdates         bool              `json:"hasUpdates"`
	UpdatedFeatures    []models.Feature  `json:"updatedFeatures"`
	HasConflicts       bool              `json:"hasConflicts"`
	PotentialConflicts []models.Conflict `json:"potentialConflicts"`
}

// CheckForUpdates main 上晚于分支创建时间修改过的要素，以及只读的冲突预览
func (s *BranchService) CheckForUpdates(ctx context.Context, branchID string) (*BranchUpdates, error) {
	branch, err := s.Get(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if branch.IsMain || branch.BranchedFrom == nil {
		return nil, badRequest("main branch has no upstream to check")
	}

	var (
		updated   []models.Feature
		conflicts []models.Conflict
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.opts.DB.WithContext(gctx).
			Where("branch_id = ? AND updated_at > ?", *branch.BranchedFrom, branch.CreatedAt).
			Order("updated_at DESC").
			Find(&updated).Error; err != nil {
			return fmt.Errorf("failed to load main updates: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		changes, err := s.tracker.Compute(gctx, s.opts.DB, branch)
		if err != nil {
			return err
		}
		conflicts, err = detectConflicts(gctx, s.opts.DB, *branch.BranchedFrom, itemsFromChanges(changes))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if updated == nil {
		updated = []models.Feature{}
	}

	return &BranchUpdates{
		BranchID:           branch.ID,
		MainBranchID:       *branch.BranchedFrom,
		HasUpdates:         len(updated) > 0,
		UpdatedFeatures:    updated,
		HasConflicts:       len(conflicts) > 0,
		PotentialConflicts: conflicts,
	}, nil
}

// ChangeSummary 各类变更的数量
type ChangeSummary struct {
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Deleted  int `json:"deleted"`
	Total    int `json:"total"`
}

// BranchChanges 分支相对检出基线的差异预览
type BranchChanges struct {
	BranchID     string            `json:"branchId"`
	Changes      []Change          `json:"changes"`
	Conflicts    []models.Conflict `json:"conflicts"`
	HasConflicts bool              `json:"hasConflicts"`
	Summary      ChangeSummary     `json:"summary"`
}

// GetChanges 只读地计算分支变更和冲突，不写入任何记录
func (s *BranchService) GetChanges(ctx context.Context, branchID string) (*BranchChanges, error) {
	branch, err := s.Get(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if branch.IsMain || branch.BranchedFrom == nil {
		return nil, badRequest("main branch has no changes to compare")
	}

	changes, err := s.tracker.Compute(ctx, s.opts.DB, branch)
	if err != nil {
		return nil, err
	}
	conflicts, err := detectConflicts(ctx, s.opts.DB, *branch.BranchedFrom, itemsFromChanges(changes))
	if err != nil {
		return nil, err
	}

	result := &BranchChanges{
		BranchID:     branch.ID,
		Changes:      changes,
		Conflicts:    conflicts,
		HasConflicts: len(conflicts) > 0,
	}
	for _, c := range changes {
		switch c.Type {
		case models.ChangeAdd:
			result.Summary.Added++
		case models.ChangeModify:
			result.Summary.Modified++
		case models.ChangeDelete:
			result.Summary.Deleted++
		}
	}
	result.Summary.Total = len(changes)
	return result, nil
}

// HasActiveMergeRequest 分支上是否存在未结束的合并请求
func (s *BranchService) HasActiveMergeRequest(ctx context.Context, branchID string) (bool, error) {
	if _, err := s.Get(ctx, branchID); err != nil {
		return false, err
	}
	active, err := findActiveMergeRequest(ctx, s.opts.DB, branchID)
	if err != nil {
		return false, err
	}
	return active != nil, nil
}

// EditPermission 编辑权限判断结果
type EditPermission struct {
	CanEdit bool   `json:"canEdit"`
	Reason  string `json:"reason,omitempty"`
}

// CanEdit main 只有管理员可编辑（仍然只能通过合并写入），其他分支只有创建者在分支活跃时可编辑
func (s *BranchService) CanEdit(ctx context.Context, actor Actor, branchID string) (*EditPermission, error) {
	branch, err := s.Get(ctx, branchID)
	if err != nil {
		return nil, err
	}
	return editPermission(actor, branch), nil
}

func editPermission(actor Actor, branch *models.Branch) *EditPermission {
	if branch.IsMain {
		if actor.IsAdmin() {
			return &EditPermission{CanEdit: true}
		}
		return &EditPermission{Reason: "Only admins can edit main branch"}
	}
	if branch.Status != models.BranchActive {
		return &EditPermission{Reason: fmt.Sprintf("Branch is %s", branch.Status)}
	}
	if branch.CreatedBy != actor.ID {
		return &EditPermission{Reason: "Only the branch creator can edit this branch"}
	}
	return &EditPermission{CanEdit: true}
}
