package services

import (
	"context"

	"github.com/GrainArc/GeoVersion/models"
	"gorm.io/gorm"
)

// Lineage 一条要素谱系在冲突检测时需要的全部信息
type Lineage struct {
	ChangeType      models.ChangeType
	FeatureID       string
	ParentFeatureID string
	BranchVersion   int
	BaselineVersion int
	MainVersion     int
	// 父要素在 main 中存在且未删除
	MainPresent bool
}

// DetectConflict 只比较版本计数，不比较内容：
// 两边改成相同结果，只要计数都前进了仍算冲突。
func DetectConflict(l Lineage) *models.Conflict {
	if l.ChangeType == models.ChangeAdd {
		return nil
	}
	conflict := &models.Conflict{
		FeatureID:       l.FeatureID,
		ParentFeatureID: l.ParentFeatureID,
		BranchVersion:   l.BranchVersion,
		BaselineVersion: l.BaselineVersion,
		MainVersion:     l.MainVersion,
	}

	switch {
	case !l.MainPresent:
		conflict.Type = models.ConflictDeletedInTarget
		conflict.Reason = "Feature was deleted in main branch"
	case l.ChangeType == models.ChangeDelete && l.MainVersion > l.BaselineVersion:
		conflict.Type = models.ConflictDeleteModified
		conflict.Reason = "Feature was deleted in branch but modified in main branch"
	case l.ChangeType == models.ChangeModify && l.BranchVersion > l.BaselineVersion && l.MainVersion > l.BaselineVersion:
		conflict.Type = models.ConflictConcurrentModification
		conflict.Reason = "Feature was modified in both branch and main branch"
	default:
		return nil
	}
	return conflict
}

// LineageOf 由分支要素和 main 中的父要素构造谱系，parent 为 nil 表示父要素不存在
func LineageOf(changeType models.ChangeType, f models.Feature, parent *models.Feature) Lineage {
	l := Lineage{
		ChangeType:      changeType,
		FeatureID:       f.ID,
		BranchVersion:   f.Version,
		BaselineVersion: baselineOf(f),
	}
	if f.ParentFeatureID != nil {
		l.ParentFeatureID = *f.ParentFeatureID
	}
	if parent != nil && parent.Status == models.FeatureActive {
		l.MainPresent = true
		l.MainVersion = parent.Version
	} else if parent != nil {
		l.MainVersion = parent.Version
	}
	return l
}

type detectItem struct {
	Type    models.ChangeType
	Feature models.Feature
}

// detectConflicts 读取 main 当前版本并逐条检测，不修改任何数据
func detectConflicts(ctx context.Context, db *gorm.DB, targetBranchID string, items []detectItem) ([]models.Conflict, error) {
	features := make([]models.Feature, 0, len(items))
	for _, it := range items {
		features = append(features, it.Feature)
	}
	parents, err := loadParents(ctx, db, targetBranchID, features)
	if err != nil {
		return nil, err
	}

	conflicts := make([]models.Conflict, 0)
	for _, it := range items {
		if it.Type == models.ChangeAdd || it.Feature.ParentFeatureID == nil {
			continue
		}
		var parent *models.Feature
		if p, ok := parents[*it.Feature.ParentFeatureID]; ok {
			parent = &p
		}
		if c := DetectConflict(LineageOf(it.Type, it.Feature, parent)); c != nil {
			conflicts = append(conflicts, *c)
		}
	}
	return conflicts, nil
}

func itemsFromChanges(changes []Change) []detectItem {
	items := make([]detectItem, 0, len(changes))
	for _, c := range changes {
		items = append(items, detectItem{Type: c.Type, Feature: c.Feature})
	}
	return items
}
