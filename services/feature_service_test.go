package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/GrainArc/GeoVersion/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureAddStartsAtVersionOne(t *testing.T) {
	env := newTestEnv(t)
	ds, _ := env.dataset(t, models.GeoTypePoint)
	branch := env.checkout(t, alice, ds.ID, "add")

	f := env.add(t, alice, branch.ID, pointA, map[string]interface{}{"name": "well"})
	assert.Equal(t, 1, f.Version)
	assert.Nil(t, f.ParentFeatureID)
	assert.Nil(t, f.ParentVersion)
	assert.Equal(t, models.FeatureActive, f.Status)
	assert.Equal(t, ds.ID, f.DatasetID)
}

func TestFeatureUpdateIncrementsVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ds, main := env.dataset(t, models.GeoTypePoint)
	seeded := env.seedMain(t, ds.ID, main.ID, map[string]interface{}{"name": "origin"})
	branch := env.checkout(t, alice, ds.ID, "edit")
	cp := env.copyOf(t, branch.ID, seeded[0].ID)

	geomOnly, err := env.svc.Features.Update(ctx, alice, branch.ID, cp.ID, FeatureInput{Geometry: json.RawMessage(pointB)})
	require.NoError(t, err)
	assert.Equal(t, cp.Version+1, geomOnly.Version)
	assert.Equal(t, cp.ID, geomOnly.ID)
	assert.Equal(t, *cp.ParentFeatureID, *geomOnly.ParentFeatureID)
	assert.Equal(t, *cp.ParentVersion, *geomOnly.ParentVersion)
	assert.JSONEq(t, pointB, string(geomOnly.Geometry))
	assert.Equal(t, "origin", geomOnly.Properties["name"])

	propsOnly := env.update(t, alice, branch.ID, cp.ID, map[string]interface{}{"name": "renamed"})
	assert.Equal(t, cp.Version+2, propsOnly.Version)
	assert.JSONEq(t, pointB, string(propsOnly.Geometry))
	assert.Equal(t, "renamed", propsOnly.Properties["name"])

	var stored models.Feature
	require.NoError(t, env.db.Where("id = ?", cp.ID).Take(&stored).Error)
	assert.Equal(t, cp.Version+2, stored.Version)
	require.NotNil(t, stored.ParentVersion)
	assert.Equal(t, 1, *stored.ParentVersion)
}

func TestFeatureMutationGuards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ds, main := env.dataset(t, models.GeoTypePoint)
	branch := env.checkout(t, alice, ds.ID, "guards")
	f := env.add(t, alice, branch.ID, pointA, nil)

	tests := []struct {
		name    string
		run     func() error
		wantErr error
	}{
		{
			name: "add to main",
			run: func() error {
				_, err := env.svc.Features.Add(ctx, admin, main.ID, FeatureInput{Geometry: json.RawMessage(pointA)})
				return err
			},
			wantErr: ErrBadRequest,
		},
		{
			name: "add by non creator",
			run: func() error {
				_, err := env.svc.Features.Add(ctx, bob, branch.ID, FeatureInput{Geometry: json.RawMessage(pointA)})
				return err
			},
			wantErr: ErrForbidden,
		},
		{
			name: "missing coordinates",
			run: func() error {
				_, err := env.svc.Features.Add(ctx, alice, branch.ID, FeatureInput{Geometry: json.RawMessage(`{"type":"Point"}`)})
				return err
			},
			wantErr: ErrBadRequest,
		},
		{
			name: "unsupported kind",
			run: func() error {
				_, err := env.svc.Features.Add(ctx, alice, branch.ID, FeatureInput{Geometry: json.RawMessage(`{"type":"GeometryCollection","geometries":[]}`)})
				return err
			},
			wantErr: ErrBadRequest,
		},
		{
			name: "kind does not match dataset",
			run: func() error {
				_, err := env.svc.Features.Add(ctx, alice, branch.ID, FeatureInput{Geometry: json.RawMessage(`{"type":"LineString","coordinates":[[0,0],[1,1]]}`)})
				return err
			},
			wantErr: ErrBadRequest,
		},
		{
			name: "update unknown feature",
			run: func() error {
				_, err := env.svc.Features.Update(ctx, alice, branch.ID, "missing", FeatureInput{})
				return err
			},
			wantErr: ErrNotFound,
		},
		{
			name: "delete by non creator",
			run: func() error {
				return env.svc.Features.Delete(ctx, bob, branch.ID, f.ID)
			},
			wantErr: ErrForbidden,
		},
		{
			name: "unknown branch",
			run: func() error {
				return env.svc.Features.Delete(ctx, alice, "missing", f.ID)
			},
			wantErr: ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestFeatureDeleteIsSoft(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ds, _ := env.dataset(t, models.GeoTypePoint)
	branch := env.checkout(t, alice, ds.ID, "soft")
	f := env.add(t, alice, branch.ID, pointA, nil)

	require.NoError(t, env.svc.Features.Delete(ctx, alice, branch.ID, f.ID))

	active, err := env.svc.Branches.ListFeatures(ctx, branch.ID, false)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := env.svc.Branches.ListFeatures(ctx, branch.ID, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.FeatureDeleted, all[0].Status)
	assert.Equal(t, 1, all[0].Version)

	_, err = env.svc.Features.Update(ctx, alice, branch.ID, f.ID, FeatureInput{Properties: map[string]interface{}{"x": 1}})
	assert.True(t, errors.Is(err, ErrBadRequest))
}

func TestFeatureEditsRejectedOnMergedBranch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ds, _ := env.dataset(t, models.GeoTypePoint)
	branch := env.checkout(t, alice, ds.ID, "merged")
	f := env.add(t, alice, branch.ID, pointA, nil)
	env.merge(t, alice, branch.ID)

	_, err := env.svc.Features.Update(ctx, alice, branch.ID, f.ID, FeatureInput{Properties: map[string]interface{}{"x": 1}})
	assert.True(t, errors.Is(err, ErrBadRequest))
	_, err = env.svc.Features.Add(ctx, alice, branch.ID, FeatureInput{Geometry: json.RawMessage(pointB)})
	assert.True(t, errors.Is(err, ErrBadRequest))
}
