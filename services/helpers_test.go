package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GrainArc/GeoVersion/events"
	"github.com/GrainArc/GeoVersion/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	alice = Actor{ID: "alice", Role: models.RoleMember, DepartmentID: "survey"}
	bob   = Actor{ID: "bob", Role: models.RoleMember, DepartmentID: "survey"}
	admin = Actor{ID: "root", Role: models.RoleAdmin, DepartmentID: "survey"}
)

const (
	pointA = `{"type":"Point","coordinates":[120.1,30.2]}`
	pointB = `{"type":"Point","coordinates":[121.5,31.2]}`
	pointC = `{"type":"Point","coordinates":[116.4,39.9]}`
)

// stepClock 每次读取前进一秒，保证 created_at / updated_at 严格递增
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (e *recordingEmitter) Emit(_ context.Context, ev events.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *recordingEmitter) Close() error { return nil }

func (e *recordingEmitter) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.EventType)
	}
	return out
}

type testEnv struct {
	db      *gorm.DB
	svc     *Services
	emitter *recordingEmitter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &stepClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: clock.Now,
		Logger:  logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.Migrate(db))

	var seq int64
	emitter := &recordingEmitter{}
	svc := New(Options{
		DB:      db,
		Clock:   clock.Now,
		NewID:   func() string { return fmt.Sprintf("id-%06d", atomic.AddInt64(&seq, 1)) },
		Emitter: emitter,
	})
	return &testEnv{db: db, svc: svc, emitter: emitter}
}

func (e *testEnv) dataset(t *testing.T, geoType string) (*models.Dataset, *models.Branch) {
	t.Helper()
	ds, err := e.svc.Datasets.Create(context.Background(), alice, CreateDatasetInput{Name: "parcels", GeoType: geoType})
	require.NoError(t, err)
	var main models.Branch
	require.NoError(t, e.db.Where("dataset_id = ? AND is_main = ?", ds.ID, true).Take(&main).Error)
	return ds, &main
}

func (e *testEnv) checkout(t *testing.T, actor Actor, datasetID, name string) *models.Branch {
	t.Helper()
	b, err := e.svc.Branches.Checkout(context.Background(), actor, datasetID, name)
	require.NoError(t, err)
	return b
}

func (e *testEnv) add(t *testing.T, actor Actor, branchID, geometry string, props map[string]interface{}) *models.Feature {
	t.Helper()
	f, err := e.svc.Features.Add(context.Background(), actor, branchID, FeatureInput{Geometry: json.RawMessage(geometry), Properties: props})
	require.NoError(t, err)
	return f
}

func (e *testEnv) update(t *testing.T, actor Actor, branchID, featureID string, props map[string]interface{}) *models.Feature {
	t.Helper()
	f, err := e.svc.Features.Update(context.Background(), actor, branchID, featureID, FeatureInput{Properties: props})
	require.NoError(t, err)
	return f
}

// merge 走完整流程把分支合入 main
func (e *testEnv) merge(t *testing.T, owner Actor, branchID string) *models.MergeRequest {
	t.Helper()
	ctx := context.Background()
	mr, err := e.svc.MergeRequests.Create(ctx, owner, branchID, "merge "+branchID)
	require.NoError(t, err)
	_, err = e.svc.MergeRequests.SubmitForReview(ctx, owner, mr.ID)
	require.NoError(t, err)
	approved, err := e.svc.MergeRequests.Approve(ctx, admin, mr.ID)
	require.NoError(t, err)
	return approved
}

// seedMain 通过一次合并在 main 中放入若干要素，返回 main 中的要素
func (e *testEnv) seedMain(t *testing.T, datasetID, mainID string, features ...map[string]interface{}) []models.Feature {
	t.Helper()
	seed := e.checkout(t, alice, datasetID, "seed")
	geoms := []string{pointA, pointB, pointC}
	for i, props := range features {
		e.add(t, alice, seed.ID, geoms[i%len(geoms)], props)
	}
	e.merge(t, alice, seed.ID)
	return e.mainFeatures(t, mainID)
}

func (e *testEnv) mainFeatures(t *testing.T, mainID string) []models.Feature {
	t.Helper()
	var list []models.Feature
	require.NoError(t, e.db.Where("branch_id = ?", mainID).Order("created_at ASC, id ASC").Find(&list).Error)
	return list
}

// copyOf 分支中指向 parentID 的副本
func (e *testEnv) copyOf(t *testing.T, branchID, parentID string) *models.Feature {
	t.Helper()
	var f models.Feature
	require.NoError(t, e.db.Where("branch_id = ? AND parent_feature_id = ?", branchID, parentID).Take(&f).Error)
	return &f
}
