package services

import (
	"context"
	"testing"

	"github.com/GrainArc/GeoVersion/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectConflict(t *testing.T) {
	tests := []struct {
		name     string
		lineage  Lineage
		wantType models.ConflictType
	}{
		{
			name:    "add never conflicts",
			lineage: Lineage{ChangeType: models.ChangeAdd, BranchVersion: 1},
		},
		{
			name:     "parent deleted in main",
			lineage:  Lineage{ChangeType: models.ChangeModify, BranchVersion: 2, BaselineVersion: 1, MainVersion: 1, MainPresent: false},
			wantType: models.ConflictDeletedInTarget,
		},
		{
			name:     "parent missing wins over version checks",
			lineage:  Lineage{ChangeType: models.ChangeDelete, BranchVersion: 1, BaselineVersion: 1, MainVersion: 5, MainPresent: false},
			wantType: models.ConflictDeletedInTarget,
		},
		{
			name:     "delete after main modified",
			lineage:  Lineage{ChangeType: models.ChangeDelete, BranchVersion: 1, BaselineVersion: 1, MainVersion: 2, MainPresent: true},
			wantType: models.ConflictDeleteModified,
		},
		{
			name:    "delete with untouched main",
			lineage: Lineage{ChangeType: models.ChangeDelete, BranchVersion: 1, BaselineVersion: 1, MainVersion: 1, MainPresent: true},
		},
		{
			name:     "both sides advanced",
			lineage:  Lineage{ChangeType: models.ChangeModify, BranchVersion: 2, BaselineVersion: 1, MainVersion: 2, MainPresent: true},
			wantType: models.ConflictConcurrentModification,
		},
		{
			name:    "only branch advanced",
			lineage: Lineage{ChangeType: models.ChangeModify, BranchVersion: 3, BaselineVersion: 1, MainVersion: 1, MainPresent: true},
		},
		{
			name:    "modify without branch progress",
			lineage: Lineage{ChangeType: models.ChangeModify, BranchVersion: 1, BaselineVersion: 1, MainVersion: 4, MainPresent: true},
		},
		{
			name:     "missing baseline counts as zero",
			lineage:  Lineage{ChangeType: models.ChangeModify, BranchVersion: 1, BaselineVersion: 0, MainVersion: 1, MainPresent: true},
			wantType: models.ConflictConcurrentModification,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectConflict(tt.lineage)
			if tt.wantType == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantType, got.Type)
			assert.NotEmpty(t, got.Reason)
			assert.Equal(t, tt.lineage.BranchVersion, got.BranchVersion)
			assert.Equal(t, tt.lineage.BaselineVersion, got.BaselineVersion)
			assert.Equal(t, tt.lineage.MainVersion, got.MainVersion)
		})
	}
}

func TestLineageOf(t *testing.T) {
	parentID := "main-1"
	baseline := 2
	f := models.Feature{ID: "copy-1", Version: 3, ParentFeatureID: &parentID, ParentVersion: &baseline}

	l := LineageOf(models.ChangeModify, f, &models.Feature{ID: parentID, Version: 4, Status: models.FeatureActive})
	assert.Equal(t, Lineage{
		ChangeType:      models.ChangeModify,
		FeatureID:       "copy-1",
		ParentFeatureID: parentID,
		BranchVersion:   3,
		BaselineVersion: 2,
		MainVersion:     4,
		MainPresent:     true,
	}, l)

	deleted := LineageOf(models.ChangeModify, f, &models.Feature{ID: parentID, Version: 4, Status: models.FeatureDeleted})
	assert.False(t, deleted.MainPresent)

	missing := LineageOf(models.ChangeModify, f, nil)
	assert.False(t, missing.MainPresent)
	assert.Zero(t, missing.MainVersion)
}

func TestDetectConflictsIsRepeatable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mr, _, _ := divergedRequest(t, env)

	var source models.Branch
	require.NoError(t, env.db.Where("id = ?", mr.SourceBranchID).Take(&source).Error)
	changes, err := env.svc.Branches.tracker.Compute(ctx, env.db, &source)
	require.NoError(t, err)

	first, err := detectConflicts(ctx, env.db, mr.TargetBranchID, itemsFromChanges(changes))
	require.NoError(t, err)
	second, err := detectConflicts(ctx, env.db, mr.TargetBranchID, itemsFromChanges(changes))
	require.NoError(t, err)
	assert.Len(t, first, 1)
	assert.Equal(t, first, second)
}
