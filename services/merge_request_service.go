package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/GrainArc/GeoVersion/events"
	"github.com/GrainArc/GeoVersion/metrics"
	"github.com/GrainArc/GeoVersion/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	MaxDescriptionLength   = 1000
	MinReviewCommentLength = 10
	MaxReviewCommentLength = 1000
)

// MergeRequestService 合并请求状态机
type MergeRequestService struct {
	opts    Options
	tracker *ChangeTracker
	engine  *MergeEngine
}

func NewMergeRequestService(opts Options, tracker *ChangeTracker, engine *MergeEngine) *MergeRequestService {
	opts = opts.withDefaults()
	if tracker == nil {
		tracker = NewChangeTracker(opts.Logger)
	}
	if engine == nil {
		engine = NewMergeEngine(opts.NewID, opts.Logger)
	}
	return &MergeRequestService{opts: opts, tracker: tracker, engine: engine}
}

func validateDescription(description string) error {
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return badRequest("description must not exceed %d characters", MaxDescriptionLength)
	}
	return nil
}

// Create 创建草稿状态的合并请求并记录变更，此时不做冲突检测
func (s *MergeRequestService) Create(ctx context.Context, actor Actor, sourceBranchID, description string) (*models.MergeRequest, error) {
	if err := validateDescription(description); err != nil {
		return nil, err
	}

	var source models.Branch
	if err := first(ctx, s.opts.DB, &source, "source branch", "id = ?", sourceBranchID); err != nil {
		return nil, err
	}
	if source.IsMain {
		return nil, badRequest("cannot create merge request from main branch")
	}
	if source.Status != models.BranchActive {
		return nil, badRequest("cannot create merge request from inactive branch")
	}
	if source.BranchedFrom == nil {
		return nil, badRequest("cannot create merge request from a branch with unknown origin")
	}
	if err := Authorize(actor, OpCreateMerge, Resource{Kind: "branch", ID: source.ID, OwnerID: source.CreatedBy}); err != nil {
		return nil, err
	}

	var target models.Branch
	if err := first(ctx, s.opts.DB, &target, "target main branch", "id = ? AND is_main = ?", *source.BranchedFrom, true); err != nil {
		return nil, err
	}

	mr := &models.MergeRequest{
		ID:             s.opts.NewID(),
		DatasetID:      source.DatasetID,
		SourceBranchID: source.ID,
		TargetBranchID: target.ID,
		Description:    description,
		Status:         models.MergeDraft,
		Conflicts:      models.ConflictList{},
		CreatedBy:      actor.ID,
	}

	err := s.opts.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		active, err := findActiveMergeRequest(ctx, tx, source.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return badRequest("branch already has an active merge request %s", active.ID)
		}
		if err := tx.Create(mr).Error; err != nil {
			return fmt.Errorf("failed to create merge request: %w", err)
		}

		changes, err := s.tracker.Compute(ctx, tx, &source)
		if err != nil {
			return err
		}
		rows := make([]models.FeatureChange, 0, len(changes))
		for _, c := range changes {
			rows = append(rows, s.newChangeRow(mr.ID, c))
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("failed to record feature changes: %w", err)
			}
		}
		mr.Changes = rows
		return nil
	})
	if err != nil {
		if !isServiceError(err) {
			s.opts.Logger.Error("merge request creation rolled back", zap.String("source_branch_id", sourceBranchID), zap.Error(err))
		}
		return nil, err
	}

	metrics.MergeRequestTransitions.WithLabelValues(string(models.MergeDraft)).Inc()
	s.opts.Logger.Info("merge request created",
		zap.String("merge_request_id", mr.ID),
		zap.String("source_branch_id", mr.SourceBranchID),
		zap.Int("changes", len(mr.Changes)))
	s.emit(ctx, events.MergeRequestCreated, mr, actor.ID, len(mr.Changes), 0)
	return mr, nil
}

func (s *MergeRequestService) newChangeRow(mergeRequestID string, c Change) models.FeatureChange {
	return models.FeatureChange{
		ID:             s.opts.NewID(),
		MergeRequestID: mergeRequestID,
		FeatureID:      c.Feature.ID,
		ChangeType:     c.Type,
		BeforeData:     c.Before,
		AfterData:      c.After,
	}
}

// SubmitForReview 提交审核并执行冲突检测
//
// 无冲突进入 reviewing；有冲突时状态落库为 conflict，冲突写入对应的变更记录，
// 同时返回 *ConflictError，调用方需先解决冲突。
func (s *MergeRequestService) SubmitForReview(ctx context.Context, actor Actor, mergeRequestID string) (*models.MergeRequest, error) {
	var mr models.MergeRequest
	if err := first(ctx, s.opts.DB, &mr, "merge request", "id = ?", mergeRequestID); err != nil {
		return nil, err
	}
	if err := Authorize(actor, OpSubmitMerge, Resource{Kind: "merge request", ID: mr.ID, OwnerID: mr.CreatedBy}); err != nil {
		return nil, err
	}
	if mr.Status != models.MergeDraft && mr.Status != models.MergeConflict {
		return nil, badRequest("only draft or conflicting merge requests can be submitted, current status: %s", mr.Status)
	}

	var source models.Branch
	if err := first(ctx, s.opts.DB, &source, "source branch", "id = ?", mr.SourceBranchID); err != nil {
		return nil, err
	}
	if source.Status != models.BranchActive {
		return nil, badRequest("source branch is no longer active")
	}

	var conflicts []models.Conflict
	var changeCount int
	err := s.opts.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.syncChanges(ctx, tx, &mr, &source)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return badRequest("merge request has no changes to submit")
		}
		changeCount = len(rows)

		conflicts, err = s.stampConflicts(ctx, tx, &mr, rows)
		if err != nil {
			return err
		}

		if len(conflicts) > 0 {
			mr.Status = models.MergeConflict
			mr.Conflicts = conflicts
		} else {
			mr.Status = models.MergeReviewing
			mr.Conflicts = models.ConflictList{}
		}
		if err := tx.Save(&mr).Error; err != nil {
			return fmt.Errorf("failed to update merge request: %w", err)
		}
		return nil
	})
	if err != nil {
		if !isServiceError(err) {
			s.opts.Logger.Error("submit for review rolled back", zap.String("merge_request_id", mr.ID), zap.Error(err))
		}
		return nil, err
	}

	metrics.MergeRequestTransitions.WithLabelValues(string(mr.Status)).Inc()
	if len(conflicts) > 0 {
		for _, c := range conflicts {
			metrics.ConflictsDetected.WithLabelValues(string(c.Type)).Inc()
		}
		s.opts.Logger.Info("merge request has conflicts",
			zap.String("merge_request_id", mr.ID),
			zap.Int("conflicts", len(conflicts)))
		s.emit(ctx, events.MergeRequestConflict, &mr, actor.ID, changeCount, len(conflicts))
		return nil, &ConflictError{MergeRequestID: mr.ID, Conflicts: conflicts}
	}

	s.opts.Logger.Info("merge request submitted for review", zap.String("merge_request_id", mr.ID), zap.Int("changes", changeCount))
	s.emit(ctx, events.MergeRequestSubmitted, &mr, actor.ID, changeCount, 0)
	return s.Get(ctx, mr.ID)
}

// syncChanges 用分支当前内容刷新变更记录：未解决过的记录原地更新，新出现的差异补充记录，
// 返回仍然有效（未被 superseded）的记录
func (s *MergeRequestService) syncChanges(ctx context.Context, tx *gorm.DB, mr *models.MergeRequest, source *models.Branch) ([]models.FeatureChange, error) {
	var rows []models.FeatureChange
	if err := tx.WithContext(ctx).
		Where("merge_request_id = ?", mr.ID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load feature changes: %w", err)
	}
	byFeature := make(map[string]int, len(rows))
	for i, r := range rows {
		byFeature[r.FeatureID] = i
	}

	changes, err := s.tracker.Compute(ctx, tx, source)
	if err != nil {
		return nil, err
	}
	current := make(map[string]bool, len(changes))
	for _, c := range changes {
		current[c.Feature.ID] = true
		idx, ok := byFeature[c.Feature.ID]
		if !ok {
			row := s.newChangeRow(mr.ID, c)
			if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
				return nil, fmt.Errorf("failed to record feature change: %w", err)
			}
			rows = append(rows, row)
			continue
		}
		row := &rows[idx]
		if row.Resolution != "" {
			continue
		}
		row.ChangeType = c.Type
		row.BeforeData = c.Before
		row.AfterData = c.After
		row.Superseded = false
		if err := tx.WithContext(ctx).Save(row).Error; err != nil {
			return nil, fmt.Errorf("failed to refresh feature change: %w", err)
		}
	}

	// 不再产生差异的未解决记录（例如新增后又删除）标记为 superseded，记录本身保留
	kept := make([]models.FeatureChange, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		if row.Resolution == "" && !current[row.FeatureID] {
			if !row.Superseded {
				row.Superseded = true
				row.HasConflict = false
				row.ConflictData = nil
				if err := tx.WithContext(ctx).Save(row).Error; err != nil {
					return nil, fmt.Errorf("failed to supersede feature change: %w", err)
				}
			}
			continue
		}
		kept = append(kept, *row)
	}
	return kept, nil
}

// stampConflicts 对未解决过的变更执行冲突检测，并把结果写到变更记录上
func (s *MergeRequestService) stampConflicts(ctx context.Context, tx *gorm.DB, mr *models.MergeRequest, rows []models.FeatureChange) ([]models.Conflict, error) {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.Resolution == "" {
			ids = append(ids, r.FeatureID)
		}
	}
	features := make(map[string]models.Feature, len(ids))
	if len(ids) > 0 {
		var list []models.Feature
		if err := tx.WithContext(ctx).Where("id IN ?", ids).Find(&list).Error; err != nil {
			return nil, fmt.Errorf("failed to load source features: %w", err)
		}
		for _, f := range list {
			features[f.ID] = f
		}
	}

	items := make([]detectItem, 0, len(ids))
	for _, r := range rows {
		if f, ok := features[r.FeatureID]; ok && r.Resolution == "" {
			items = append(items, detectItem{Type: r.ChangeType, Feature: f})
		}
	}
	conflicts, err := detectConflicts(ctx, tx, mr.TargetBranchID, items)
	if err != nil {
		return nil, err
	}
	byFeature := make(map[string]models.Conflict, len(conflicts))
	for _, c := range conflicts {
		byFeature[c.FeatureID] = c
	}

	for i := range rows {
		row := &rows[i]
		if row.Resolution != "" {
			continue
		}
		c, hit := byFeature[row.FeatureID]
		if !hit && !row.HasConflict {
			continue
		}
		if hit {
			conflict := c
			row.HasConflict = true
			row.ConflictData = &conflict
		} else {
			row.HasConflict = false
			row.ConflictData = nil
		}
		if err := tx.WithContext(ctx).Save(row).Error; err != nil {
			return nil, fmt.Errorf("failed to stamp conflict: %w", err)
		}
	}
	return conflicts, nil
}

// Approve 管理员审批通过，在一个事务内把变更写入 main 并把源分支标记为已合并
func (s *MergeRequestService) Approve(ctx context.Context, actor Actor, mergeRequestID string) (*models.MergeRequest, error) {
	if err := Authorize(actor, OpApproveMerge, Resource{Kind: "merge request", ID: mergeRequestID}); err != nil {
		return nil, err
	}

	var mr models.MergeRequest
	if err := first(ctx, s.opts.DB, &mr, "merge request", "id = ?", mergeRequestID); err != nil {
		return nil, err
	}
	remaining, err := countConflicts(ctx, s.opts.DB, mr.ID)
	if err != nil {
		return nil, err
	}
	if remaining > 0 {
		return nil, badRequest("cannot merge with %d unresolved conflict(s)", remaining)
	}
	switch mr.Status {
	case models.MergeApproved:
		return nil, badRequest("merge request already approved")
	case models.MergeReviewing:
	default:
		return nil, badRequest("merge request must be in reviewing status to be approved, current status: %s", mr.Status)
	}

	var applied *ApplyResult
	err = s.opts.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var changes []models.FeatureChange
		if err := tx.Where("merge_request_id = ?", mr.ID).Order("created_at ASC, id ASC").Find(&changes).Error; err != nil {
			return fmt.Errorf("failed to load feature changes: %w", err)
		}

		applied, err = s.engine.Apply(ctx, tx, &mr, changes, actor.ID)
		if err != nil {
			return err
		}

		now := s.opts.Clock()
		res := tx.Model(&models.MergeRequest{}).
			Where("id = ? AND status = ?", mr.ID, models.MergeReviewing).
			Updates(map[string]interface{}{
				"status":      models.MergeApproved,
				"reviewed_by": actor.ID,
				"reviewed_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to approve merge request: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return badRequest("merge request %s changed status concurrently", mr.ID)
		}

		if err := tx.Model(&models.Branch{}).
			Where("id = ?", mr.SourceBranchID).
			Update("status", models.BranchMerged).Error; err != nil {
			return fmt.Errorf("failed to mark source branch merged: %w", err)
		}
		return nil
	})
	if err != nil {
		s.opts.Logger.Error("merge approval rolled back", zap.String("merge_request_id", mr.ID), zap.Error(err))
		return nil, err
	}

	metrics.MergeRequestTransitions.WithLabelValues(string(models.MergeApproved)).Inc()
	metrics.ChangesApplied.WithLabelValues(string(models.ChangeAdd)).Add(float64(applied.Added))
	metrics.ChangesApplied.WithLabelValues(string(models.ChangeModify)).Add(float64(applied.Modified))
	metrics.ChangesApplied.WithLabelValues(string(models.ChangeDelete)).Add(float64(applied.Deleted))
	s.opts.Logger.Info("merge request approved", zap.String("merge_request_id", mr.ID), zap.String("reviewer", actor.ID))

	approved, err := s.Get(ctx, mr.ID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.MergeRequestApproved, approved, actor.ID, len(approved.Changes), 0)
	return approved, nil
}

// Reject 管理员驳回，除终态外任意状态都可驳回，必须填写意见
func (s *MergeRequestService) Reject(ctx context.Context, actor Actor, mergeRequestID, comment string) (*models.MergeRequest, error) {
	if err := Authorize(actor, OpRejectMerge, Resource{Kind: "merge request", ID: mergeRequestID}); err != nil {
		return nil, err
	}
	comment = strings.TrimSpace(comment)
	if n := utf8.RuneCountInString(comment); n < MinReviewCommentLength || n > MaxReviewCommentLength {
		return nil, badRequest("review comment must be between %d and %d characters", MinReviewCommentLength, MaxReviewCommentLength)
	}

	var mr models.MergeRequest
	if err := first(ctx, s.opts.DB, &mr, "merge request", "id = ?", mergeRequestID); err != nil {
		return nil, err
	}
	if mr.Status == models.MergeApproved {
		return nil, badRequest("cannot reject already approved merge request")
	}
	if mr.Status.IsTerminal() {
		return nil, badRequest("cannot reject %s merge request", mr.Status)
	}

	now := s.opts.Clock()
	mr.Status = models.MergeRejected
	mr.ReviewedBy = &actor.ID
	mr.ReviewComment = &comment
	mr.ReviewedAt = &now
	if err := s.opts.DB.WithContext(ctx).Save(&mr).Error; err != nil {
		return nil, fmt.Errorf("failed to reject merge request: %w", err)
	}

	metrics.MergeRequestTransitions.WithLabelValues(string(models.MergeRejected)).Inc()
	s.opts.Logger.Info("merge request rejected", zap.String("merge_request_id", mr.ID), zap.String("reviewer", actor.ID))
	s.emit(ctx, events.MergeRequestRejected, &mr, actor.ID, 0, 0)
	return &mr, nil
}

// Cancel 创建者撤回未结束的合并请求
func (s *MergeRequestService) Cancel(ctx context.Context, actor Actor, mergeRequestID string) (*models.MergeRequest, error) {
	var mr models.MergeRequest
	if err := first(ctx, s.opts.DB, &mr, "merge request", "id = ?", mergeRequestID); err != nil {
		return nil, err
	}
	if err := Authorize(actor, OpCancelMerge, Resource{Kind: "merge request", ID: mr.ID, OwnerID: mr.CreatedBy}); err != nil {
		return nil, err
	}
	if !mr.Status.IsActive() {
		return nil, badRequest("can only cancel draft, reviewing, pending or conflict merge requests, current status: %s", mr.Status)
	}

	mr.Status = models.MergeCancelled
	if err := s.opts.DB.WithContext(ctx).Save(&mr).Error; err != nil {
		return nil, fmt.Errorf("failed to cancel merge request: %w", err)
	}

	metrics.MergeRequestTransitions.WithLabelValues(string(models.MergeCancelled)).Inc()
	s.opts.Logger.Info("merge request cancelled", zap.String("merge_request_id", mr.ID))
	s.emit(ctx, events.MergeRequestCancelled, &mr, actor.ID, 0, 0)
	return &mr, nil
}

// UpdateDescription 创建者在 draft / reviewing / conflict 状态下修改描述
func (s *MergeRequestService) UpdateDescription(ctx context.Context, actor Actor, mergeRequestID, description string) (*models.MergeRequest, error) {
	if err := validateDescription(description); err != nil {
		return nil, err
	}
	var mr models.MergeRequest
	if err := first(ctx, s.opts.DB, &mr, "merge request", "id = ?", mergeRequestID); err != nil {
		return nil, err
	}
	if err := Authorize(actor, OpUpdateDescription, Resource{Kind: "merge request", ID: mr.ID, OwnerID: mr.CreatedBy}); err != nil {
		return nil, err
	}
	switch mr.Status {
	case models.MergeDraft, models.MergeReviewing, models.MergeConflict:
	default:
		return nil, badRequest("cannot update %s merge request", mr.Status)
	}

	mr.Description = description
	if err := s.opts.DB.WithContext(ctx).Save(&mr).Error; err != nil {
		return nil, fmt.Errorf("failed to update merge request: %w", err)
	}
	return &mr, nil
}

// Get 合并请求详情，包含全部变更记录
func (s *MergeRequestService) Get(ctx context.Context, mergeRequestID string) (*models.MergeRequest, error) {
	var mr models.MergeRequest
	err := s.opts.DB.WithContext(ctx).
		Preload("Changes", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Where("id = ?", mergeRequestID).
		Take(&mr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("merge request not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get merge request: %w", err)
	}
	return &mr, nil
}

// GetChanges 合并请求的全部变更记录
func (s *MergeRequestService) GetChanges(ctx context.Context, mergeRequestID string) ([]models.FeatureChange, error) {
	mr, err := s.Get(ctx, mergeRequestID)
	if err != nil {
		return nil, err
	}
	return mr.Changes, nil
}

// ListByDataset 数据集下的合并请求，status 为空时不过滤
func (s *MergeRequestService) ListByDataset(ctx context.Context, datasetID string, status models.MergeRequestStatus) ([]models.MergeRequest, error) {
	query := s.opts.DB.WithContext(ctx).Where("dataset_id = ?", datasetID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var list []models.MergeRequest
	if err := query.Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to list merge requests: %w", err)
	}
	return list, nil
}

func (s *MergeRequestService) emit(ctx context.Context, eventType string, mr *models.MergeRequest, actorID string, changes, conflicts int) {
	err := s.opts.Emitter.Emit(ctx, events.Event{
		EventType:      eventType,
		MergeRequestID: mr.ID,
		DatasetID:      mr.DatasetID,
		SourceBranchID: mr.SourceBranchID,
		TargetBranchID: mr.TargetBranchID,
		Status:         string(mr.Status),
		ActorID:        actorID,
		ChangeCount:    changes,
		ConflictCount:  conflicts,
		Timestamp:      s.opts.Clock(),
	})
	if err != nil {
		s.opts.Logger.Warn("failed to emit merge request event", zap.String("event_type", eventType), zap.String("merge_request_id", mr.ID), zap.Error(err))
	}
}

// findActiveMergeRequest 源分支上未结束的合并请求，没有时返回 nil
func findActiveMergeRequest(ctx context.Context, db *gorm.DB, sourceBranchID string) (*models.MergeRequest, error) {
	var list []models.MergeRequest
	if err := db.WithContext(ctx).
		Where("source_branch_id = ? AND status IN ?", sourceBranchID, models.ActiveMergeStatuses).
		Limit(1).
		Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to query active merge requests: %w", err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func countConflicts(ctx context.Context, db *gorm.DB, mergeRequestID string) (int64, error) {
	var n int64
	if err := db.WithContext(ctx).Model(&models.FeatureChange{}).
		Where("merge_request_id = ? AND has_conflict = ?", mergeRequestID, true).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count conflicts: %w", err)
	}
	return n, nil
}

func isServiceError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrBadRequest) || errors.Is(err, ErrForbidden)
}
