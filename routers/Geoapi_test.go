package routers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/GrainArc/GeoVersion/models"
	"github.com/GrainArc/GeoVersion/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type identity struct {
	user, role, department string
}

var (
	surveyor = identity{user: "alice", role: "member", department: "survey"}
	reviewer = identity{user: "root", role: "admin", department: "survey"}
	outsider = identity{user: "eve", role: "member", department: "planning"}
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.Migrate(db))

	r := gin.New()
	VersionRouters(r, Options{Services: services.New(services.Options{DB: db}), MetricsPath: "/metrics"})
	return r
}

func do(t *testing.T, r *gin.Engine, who *identity, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if who != nil {
		req.Header.Set("X-User-ID", who.user)
		req.Header.Set("X-User-Role", who.role)
		req.Header.Set("X-Department-ID", who.department)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") != "" && bytes.HasPrefix(w.Body.Bytes(), []byte("{")) {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func decode(t *testing.T, raw json.RawMessage, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, dest))
}

func TestMissingIdentityIsUnauthorized(t *testing.T) {
	r := newTestServer(t)
	w, _ := do(t, r, nil, http.MethodGet, "/api/datasets", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBranchWorkflowOverHTTP(t *testing.T) {
	r := newTestServer(t)

	w, res := do(t, r, &surveyor, http.MethodPost, "/api/datasets", gin.H{"name": "wells", "geoType": "point"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ds models.Dataset
	decode(t, res.Data, &ds)

	w, _ = do(t, r, &outsider, http.MethodGet, "/api/datasets/"+ds.ID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = do(t, r, &surveyor, http.MethodPost, "/api/datasets/"+ds.ID+"/branches", gin.H{"name": "Bad Name"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, res = do(t, r, &surveyor, http.MethodPost, "/api/datasets/"+ds.ID+"/branches", gin.H{"name": "survey/2024"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var branch models.Branch
	decode(t, res.Data, &branch)

	w, _ = do(t, r, &surveyor, http.MethodPost, "/api/branches/"+branch.ID+"/features", gin.H{
		"geometry": gin.H{"type": "Polygon", "coordinates": [][][]float64{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, res = do(t, r, &surveyor, http.MethodPost, "/api/branches/"+branch.ID+"/features", gin.H{
		"geometry":   gin.H{"type": "Point", "coordinates": []float64{120.1, 30.2}},
		"properties": gin.H{"name": "well-1"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var feature models.Feature
	decode(t, res.Data, &feature)
	assert.Equal(t, 1, feature.Version)

	w, res = do(t, r, &surveyor, http.MethodGet, "/api/branches/"+branch.ID+"/features?format=geojson", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	decode(t, res.Data, &fc)
	assert.Equal(t, "FeatureCollection", fc.Type)
	assert.Len(t, fc.Features, 1)

	w, res = do(t, r, &surveyor, http.MethodPost, "/api/branches/"+branch.ID+"/merge-requests", gin.H{"description": "new wells"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var mr models.MergeRequest
	decode(t, res.Data, &mr)

	w, _ = do(t, r, &surveyor, http.MethodDelete, "/api/branches/"+branch.ID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, &surveyor, http.MethodPost, "/api/merge-requests/"+mr.ID+"/submit-for-review", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = do(t, r, &surveyor, http.MethodPost, "/api/merge-requests/"+mr.ID+"/approve", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = do(t, r, &reviewer, http.MethodPost, "/api/merge-requests/"+mr.ID+"/reject", gin.H{"comment": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, res = do(t, r, &reviewer, http.MethodPost, "/api/merge-requests/"+mr.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var approved models.MergeRequest
	decode(t, res.Data, &approved)
	assert.Equal(t, models.MergeApproved, approved.Status)

	w, res = do(t, r, &surveyor, http.MethodGet, "/api/merge-requests/"+mr.ID+"/statistics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats services.ConflictStatistics
	decode(t, res.Data, &stats)
	assert.Equal(t, 1, stats.TotalChanges)

	w, _ = do(t, r, &surveyor, http.MethodGet, "/api/merge-requests/missing", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
