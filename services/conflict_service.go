package services

import (
	"context"
	"fmt"
	"math"

	"github.com/GrainArc/GeoVersion/methods"
	"github.com/GrainArc/GeoVersion/metrics"
	"github.com/GrainArc/GeoVersion/models"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ConflictService 冲突解决与统计
type ConflictService struct {
	opts Options
}

func NewConflictService(opts Options) *ConflictService {
	return &ConflictService{opts: opts.withDefaults()}
}

// resolvable 解决冲突前的公共检查，返回变更记录及其合并请求
func (s *ConflictService) resolvable(ctx context.Context, db *gorm.DB, actor Actor, changeID string) (*models.FeatureChange, *models.MergeRequest, error) {
	var change models.FeatureChange
	if err := first(ctx, db, &change, "feature change", "id = ?", changeID); err != nil {
		return nil, nil, err
	}
	var mr models.MergeRequest
	if err := first(ctx, db, &mr, "merge request", "id = ?", change.MergeRequestID); err != nil {
		return nil, nil, err
	}
	if err := Authorize(actor, OpResolveConflict, Resource{Kind: "merge request", ID: mr.ID, OwnerID: mr.CreatedBy}); err != nil {
		return nil, nil, err
	}
	if mr.Status.IsTerminal() {
		return nil, nil, badRequest("cannot resolve conflicts of %s merge request", mr.Status)
	}
	if !change.HasConflict {
		return nil, nil, badRequest("change %s has no conflict", change.ID)
	}
	return &change, &mr, nil
}

// applyStrategy 按策略改写变更记录的 afterData 并清除冲突标记
func applyStrategy(change *models.FeatureChange, strategy models.ResolutionStrategy, manual *models.FeatureSnapshot) error {
	switch strategy {
	case models.ResolveKeepSource:
	case models.ResolveKeepTarget:
		change.AfterData = change.BeforeData.Clone()
	case models.ResolveManual:
		if manual == nil {
			return badRequest("manual resolution requires resolved data")
		}
		resolved := manual.Clone()
		if current := change.AfterData.Clone(); current != nil {
			if len(resolved.Geometry) == 0 {
				resolved.Geometry = current.Geometry
			}
			if manual.Properties == nil {
				resolved.Properties = current.Properties
			}
		}
		// 删除变更合并时始终删除 main 中的要素
		if change.ChangeType == models.ChangeDelete {
			resolved.Status = models.FeatureDeleted
		}
		change.AfterData = resolved
	default:
		return badRequest("invalid resolution strategy: %s", strategy)
	}
	change.HasConflict = false
	change.ConflictData = nil
	change.Resolution = strategy
	return nil
}

// ResolveConflict 按策略解决单条冲突
func (s *ConflictService) ResolveConflict(ctx context.Context, actor Actor, changeID string, strategy models.ResolutionStrategy, manual *models.FeatureSnapshot) (*models.FeatureChange, error) {
	switch strategy {
	case models.ResolveKeepSource, models.ResolveKeepTarget:
	case models.ResolveManual:
		if manual == nil {
			return nil, badRequest("manual resolution requires resolved data")
		}
		if len(manual.Geometry) > 0 {
			if err := validateGeometry(manual.Geometry, ""); err != nil {
				return nil, err
			}
		}
	default:
		return nil, badRequest("invalid resolution strategy: %s", strategy)
	}

	var (
		resolved *models.FeatureChange
		reopened bool
	)
	err := s.opts.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		change, mr, err := s.resolvable(ctx, tx, actor, changeID)
		if err != nil {
			return err
		}
		if err := applyStrategy(change, strategy, manual); err != nil {
			return err
		}
		if err := tx.Save(change).Error; err != nil {
			return fmt.Errorf("failed to resolve conflict: %w", err)
		}
		if reopened, err = s.refreshStatus(ctx, tx, mr); err != nil {
			return err
		}
		resolved = change
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordResolution(resolved.MergeRequestID, strategy, 1, reopened)
	s.opts.Logger.Info("conflict resolved",
		zap.String("change_id", resolved.ID),
		zap.String("merge_request_id", resolved.MergeRequestID),
		zap.String("strategy", string(strategy)))
	return resolved, nil
}

// AutoResolveConflicts 对全部冲突统一使用 keep_source 或 keep_target，返回解决的数量
func (s *ConflictService) AutoResolveConflicts(ctx context.Context, actor Actor, mergeRequestID string, strategy models.ResolutionStrategy) (int, error) {
	if strategy != models.ResolveKeepSource && strategy != models.ResolveKeepTarget {
		return 0, badRequest("auto resolution only supports keep_source or keep_target")
	}

	var (
		resolved int
		reopened bool
	)
	err := s.opts.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var mr models.MergeRequest
		if err := first(ctx, tx, &mr, "merge request", "id = ?", mergeRequestID); err != nil {
			return err
		}
		if err := Authorize(actor, OpResolveConflict, Resource{Kind: "merge request", ID: mr.ID, OwnerID: mr.CreatedBy}); err != nil {
			return err
		}
		if mr.Status.IsTerminal() {
			return badRequest("cannot resolve conflicts of %s merge request", mr.Status)
		}

		var changes []models.FeatureChange
		if err := tx.Where("merge_request_id = ? AND has_conflict = ?", mr.ID, true).
			Order("created_at ASC, id ASC").
			Find(&changes).Error; err != nil {
			return fmt.Errorf("failed to load conflicts: %w", err)
		}
		for i := range changes {
			if err := applyStrategy(&changes[i], strategy, nil); err != nil {
				return err
			}
			if err := tx.Save(&changes[i]).Error; err != nil {
				return fmt.Errorf("failed to resolve conflict: %w", err)
			}
		}
		resolved = len(changes)
		var err error
		reopened, err = s.refreshStatus(ctx, tx, &mr)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.recordResolution(mergeRequestID, strategy, resolved, reopened)
	s.opts.Logger.Info("conflicts auto resolved",
		zap.String("merge_request_id", mergeRequestID),
		zap.String("strategy", string(strategy)),
		zap.Int("resolved", resolved))
	return resolved, nil
}

// MergeProperties 合并两边的属性，同名键以分支为准；几何优先取分支
func (s *ConflictService) MergeProperties(ctx context.Context, actor Actor, changeID string) (*models.FeatureChange, error) {
	var (
		merged   *models.FeatureChange
		reopened bool
	)
	err := s.opts.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		change, mr, err := s.resolvable(ctx, tx, actor, changeID)
		if err != nil {
			return err
		}
		if change.ChangeType != models.ChangeModify {
			return badRequest("can only merge properties for modify changes")
		}

		source := change.AfterData
		target := change.BeforeData
		if source == nil {
			source = &models.FeatureSnapshot{}
		}
		if target == nil {
			target = &models.FeatureSnapshot{}
		}

		geometry := source.Geometry
		if len(geometry) == 0 {
			geometry = target.Geometry
		}
		props := datatypes.JSONMap(methods.MergeMaps(target.Clone().Properties, source.Clone().Properties))
		result := &models.FeatureSnapshot{
			Geometry:   geometry,
			Properties: props,
			Version:    source.Version + 1,
			Status:     models.FeatureActive,
		}

		change.AfterData = result.Clone()
		change.HasConflict = false
		change.ConflictData = nil
		change.Resolution = models.ResolveMergeProperties
		if err := tx.Save(change).Error; err != nil {
			return fmt.Errorf("failed to merge properties: %w", err)
		}
		if reopened, err = s.refreshStatus(ctx, tx, mr); err != nil {
			return err
		}
		merged = change
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordResolution(merged.MergeRequestID, models.ResolveMergeProperties, 1, reopened)
	s.opts.Logger.Info("conflict resolved by merging properties", zap.String("change_id", merged.ID))
	return merged, nil
}

// refreshStatus 重建合并请求上的冲突列表，没有剩余冲突时 conflict 回到 reviewing
func (s *ConflictService) refreshStatus(ctx context.Context, tx *gorm.DB, mr *models.MergeRequest) (bool, error) {
	var remaining []models.FeatureChange
	if err := tx.WithContext(ctx).
		Where("merge_request_id = ? AND has_conflict = ?", mr.ID, true).
		Order("created_at ASC, id ASC").
		Find(&remaining).Error; err != nil {
		return false, fmt.Errorf("failed to reload conflicts: %w", err)
	}

	conflicts := make(models.ConflictList, 0, len(remaining))
	for _, r := range remaining {
		if r.ConflictData != nil {
			conflicts = append(conflicts, *r.ConflictData)
		}
	}
	updates := map[string]interface{}{"conflicts": conflicts}
	reopened := len(remaining) == 0 && mr.Status == models.MergeConflict
	if reopened {
		updates["status"] = models.MergeReviewing
		mr.Status = models.MergeReviewing
	}
	mr.Conflicts = conflicts
	if err := tx.WithContext(ctx).Model(&models.MergeRequest{}).Where("id = ?", mr.ID).Updates(updates).Error; err != nil {
		return false, fmt.Errorf("failed to update merge request status: %w", err)
	}
	return reopened, nil
}

func (s *ConflictService) recordResolution(mergeRequestID string, strategy models.ResolutionStrategy, count int, reopened bool) {
	metrics.ConflictsResolved.WithLabelValues(string(strategy)).Add(float64(count))
	if reopened {
		metrics.MergeRequestTransitions.WithLabelValues(string(models.MergeReviewing)).Inc()
		s.opts.Logger.Info("all conflicts resolved, merge request back to reviewing", zap.String("merge_request_id", mergeRequestID))
	}
}

// GetConflicts 合并请求中仍有冲突的变更
func (s *ConflictService) GetConflicts(ctx context.Context, mergeRequestID string) ([]models.FeatureChange, error) {
	var mr models.MergeRequest
	if err := first(ctx, s.opts.DB, &mr, "merge request", "id = ?", mergeRequestID); err != nil {
		return nil, err
	}
	var changes []models.FeatureChange
	if err := s.opts.DB.WithContext(ctx).
		Where("merge_request_id = ? AND has_conflict = ?", mergeRequestID, true).
		Order("created_at ASC, id ASC").
		Find(&changes).Error; err != nil {
		return nil, fmt.Errorf("failed to load conflicts: %w", err)
	}
	return changes, nil
}

// ResolutionSuggestion 可选的解决方式
type ResolutionSuggestion struct {
	Strategy    models.ResolutionStrategy `json:"strategy"`
	Description string                    `json:"description"`
}

// ConflictDetails 单条冲突的详情
type ConflictDetails struct {
	ChangeID    string                  `json:"changeId"`
	FeatureID   string                  `json:"featureId"`
	ChangeType  models.ChangeType       `json:"changeType"`
	Conflict    *models.Conflict        `json:"conflict"`
	SourceData  *models.FeatureSnapshot `json:"sourceData"`
	TargetData  *models.FeatureSnapshot `json:"targetData"`
	Suggestions []ResolutionSuggestion  `json:"suggestions"`
}

func suggestionsFor(changeType models.ChangeType) []ResolutionSuggestion {
	switch changeType {
	case models.ChangeModify:
		return []ResolutionSuggestion{
			{Strategy: models.ResolveKeepSource, Description: "Keep changes from your branch"},
			{Strategy: models.ResolveKeepTarget, Description: "Keep changes from main branch"},
			{Strategy: models.ResolveMergeProperties, Description: "Merge properties from both versions"},
			{Strategy: models.ResolveManual, Description: "Manually resolve the conflict"},
		}
	case models.ChangeDelete:
		return []ResolutionSuggestion{
			{Strategy: models.ResolveKeepSource, Description: "Delete the feature"},
			{Strategy: models.ResolveKeepTarget, Description: "Keep the feature from main branch"},
		}
	default:
		return []ResolutionSuggestion{}
	}
}

// GetConflictDetails 冲突详情与解决建议，变更没有冲突时返回 nil
func (s *ConflictService) GetConflictDetails(ctx context.Context, changeID string) (*ConflictDetails, error) {
	var change models.FeatureChange
	if err := first(ctx, s.opts.DB, &change, "feature change", "id = ?", changeID); err != nil {
		return nil, err
	}
	if !change.HasConflict {
		return nil, nil
	}
	return &ConflictDetails{
		ChangeID:    change.ID,
		FeatureID:   change.FeatureID,
		ChangeType:  change.ChangeType,
		Conflict:    change.ConflictData,
		SourceData:  change.AfterData,
		TargetData:  change.BeforeData,
		Suggestions: suggestionsFor(change.ChangeType),
	}, nil
}

// FeatureComparison 两个要素版本的结构比较
type FeatureComparison struct {
	SourceFeature   *models.Feature      `json:"sourceFeature"`
	TargetFeature   *models.Feature      `json:"targetFeature"`
	GeometryChanged bool                 `json:"geometryChanged"`
	PropertyChanges methods.PropertyDiff `json:"propertyChanges"`
	VersionDiff     int                  `json:"versionDiff"`
}

// CompareFeatureVersions 只读比较两个要素：几何结构是否相同，属性键的增删改
func (s *ConflictService) CompareFeatureVersions(ctx context.Context, sourceFeatureID, targetFeatureID string) (*FeatureComparison, error) {
	var source, target models.Feature
	if err := first(ctx, s.opts.DB, &source, "source feature", "id = ?", sourceFeatureID); err != nil {
		return nil, err
	}
	if err := first(ctx, s.opts.DB, &target, "target feature", "id = ?", targetFeatureID); err != nil {
		return nil, err
	}
	return &FeatureComparison{
		SourceFeature:   &source,
		TargetFeature:   &target,
		GeometryChanged: !methods.GeometryEqual(source.Geometry, target.Geometry),
		PropertyChanges: methods.DiffProperties(source.Properties, target.Properties),
		VersionDiff:     source.Version - target.Version,
	}, nil
}

// ConflictStatistics 合并请求的变更与冲突统计
type ConflictStatistics struct {
	TotalChanges       int                         `json:"totalChanges"`
	TotalConflicts     int                         `json:"totalConflicts"`
	ResolvedConflicts  int                         `json:"resolvedConflicts"`
	PendingConflicts   int                         `json:"pendingConflicts"`
	ChangesByType      map[models.ChangeType]int   `json:"changesByType"`
	ConflictsByType    map[models.ConflictType]int `json:"conflictsByType"`
	SupersededChanges  int                         `json:"supersededChanges"`
	ResolutionProgress int                         `json:"resolutionProgress"`
}

// GetConflictStatistics 按变更类型与冲突类型统计，superseded 的记录单独计数
func (s *ConflictService) GetConflictStatistics(ctx context.Context, mergeRequestID string) (*ConflictStatistics, error) {
	var mr models.MergeRequest
	if err := first(ctx, s.opts.DB, &mr, "merge request", "id = ?", mergeRequestID); err != nil {
		return nil, err
	}
	var changes []models.FeatureChange
	if err := s.opts.DB.WithContext(ctx).Where("merge_request_id = ?", mergeRequestID).Find(&changes).Error; err != nil {
		return nil, fmt.Errorf("failed to load feature changes: %w", err)
	}

	stats := &ConflictStatistics{
		ChangesByType: map[models.ChangeType]int{
			models.ChangeAdd:    0,
			models.ChangeModify: 0,
			models.ChangeDelete: 0,
		},
		ConflictsByType: map[models.ConflictType]int{},
	}
	clean := 0
	for _, c := range changes {
		if c.Superseded {
			stats.SupersededChanges++
			continue
		}
		stats.TotalChanges++
		stats.ChangesByType[c.ChangeType]++
		if c.HasConflict {
			stats.PendingConflicts++
			if c.ConflictData != nil {
				stats.ConflictsByType[c.ConflictData.Type]++
			}
			continue
		}
		clean++
		if c.Resolution != "" {
			stats.ResolvedConflicts++
		}
	}
	stats.TotalConflicts = stats.PendingConflicts + stats.ResolvedConflicts
	// 进度按无冲突的变更占全部变更的比例计算，没有变更时为 0
	if stats.TotalChanges > 0 {
		stats.ResolutionProgress = int(math.Round(float64(clean) / float64(stats.TotalChanges) * 100))
	}
	return stats, nil
}
