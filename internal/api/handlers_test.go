package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bueste/switchbackup/internal/audit"
	"github.com/bueste/switchbackup/internal/backup"
	"github.com/bueste/switchbackup/internal/metrics"
	"github.com/bueste/switchbackup/pkg/models"
)

type staticDevices []models.DeviceProfile

func (s staticDevices) ListDevices() ([]models.DeviceProfile, error) {
	return s, nil
}

type testEnv struct {
	echo    *echo.Echo
	store   *backup.Store
	history *audit.InMemoryRepository
}

func createHandler(t *testing.T) *testEnv {
	t.Helper()

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	store := backup.NewStore(afero.NewMemMapFs(), zap.NewNop(), "/backups").WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	})
	repo := audit.NewInMemoryRepository(0)
	devices := staticDevices{
		{Host: "10.0.0.1", Username: "admin", Password: "secret", Alias: "sw1", Vendor: models.VendorHuawei, RetentionCount: 3},
		{Host: "10.0.0.2", Username: "admin", Password: "secret", Alias: "sw2", Vendor: models.VendorCisco, RetentionCount: 3},
	}

	e := echo.New()
	NewHandler(devices, store, audit.NewService(repo, zap.NewNop()), metrics.New().Registry(), zap.NewNop()).RegisterRoutes(e)
	return &testEnv{echo: e, store: store, history: repo}
}

func (env *testEnv) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func TestHandler_RegisterRoutes(t *testing.T) {
	env := createHandler(t)

	routePaths := make(map[string]bool)
	for _, r := range env.echo.Routes() {
		routePaths[r.Method+":"+r.Path] = true
	}

	assert.True(t, routePaths["GET:/healthz"], "health route should exist")
	assert.True(t, routePaths["GET:/metrics"], "metrics route should exist")
	assert.True(t, routePaths["GET:/api/v1/devices"], "list devices route should exist")
	assert.True(t, routePaths["GET:/api/v1/devices/:alias/snapshots"], "list snapshots route should exist")
	assert.True(t, routePaths["GET:/api/v1/devices/:alias/snapshots/latest"], "latest snapshot route should exist")
	assert.True(t, routePaths["GET:/api/v1/devices/:alias/snapshots/:name"], "snapshot route should exist")
	assert.True(t, routePaths["GET:/api/v1/runs"], "runs route should exist")
}

func TestHandler_HealthCheck(t *testing.T) {
	rec := createHandler(t).get(t, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHandler_ListDevices(t *testing.T) {
	env := createHandler(t)
	_, err := env.store.Save("sw1", "sysname sw1")
	require.NoError(t, err)
	_, err = env.store.Save("retired", "sysname retired")
	require.NoError(t, err)

	rec := env.get(t, "/api/v1/devices")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	var body struct {
		Devices  []DeviceView `json:"devices"`
		Total    int          `json:"total"`
		Orphaned []string     `json:"orphaned"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Total)
	assert.Equal(t, 1, body.Devices[0].Snapshots)
	require.NotNil(t, body.Devices[0].Latest)
	assert.Equal(t, 0, body.Devices[1].Snapshots)
	assert.Equal(t, []string{"retired"}, body.Orphaned)
}

func TestHandler_Snapshots(t *testing.T) {
	env := createHandler(t)
	first, err := env.store.Save("sw1", "config one")
	require.NoError(t, err)
	_, err = env.store.Save("sw1", "config two")
	require.NoError(t, err)

	rec := env.get(t, "/api/v1/devices/sw1/snapshots")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Snapshots []models.Snapshot `json:"snapshots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Snapshots, 2)

	rec = env.get(t, "/api/v1/devices/sw1/snapshots/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var latest models.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, "config two", latest.Content)

	rec = env.get(t, "/api/v1/devices/sw1/snapshots/"+first.Name+"?format=raw")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "config one", rec.Body.String())
}

func TestHandler_SnapshotErrors(t *testing.T) {
	env := createHandler(t)

	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/v1/devices/sw2/snapshots/latest").Code)
	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/v1/devices/nope/snapshots").Code)
	assert.Equal(t, http.StatusOK, env.get(t, "/api/v1/devices/sw2/snapshots").Code)
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/v1/devices/sw1/snapshots/not-a-snapshot").Code)
	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/v1/devices/sw1/snapshots/2020-01-01_00-00-00-sw1.bak").Code)
}

func TestHandler_ListRuns(t *testing.T) {
	env := createHandler(t)
	ctx := context.Background()
	runID := uuid.New()
	for _, alias := range []string{"sw1", "sw2"} {
		rec := models.NewRunRecord(runID, models.DeviceProfile{Alias: alias, Host: "h"})
		rec.Finish(models.OutcomeSaved, nil)
		require.NoError(t, env.history.Append(ctx, rec))
	}

	rec := env.get(t, "/api/v1/runs?alias=sw2")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs  []models.RunRecord `json:"runs"`
		Total int                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Total)
	assert.Equal(t, "sw2", body.Runs[0].Alias)
	assert.Equal(t, runID, body.Runs[0].RunID)

	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/v1/runs?limit=zero").Code)
}

func TestHandler_Metrics(t *testing.T) {
	rec := createHandler(t).get(t, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "switchbackup_")
}

func TestHandler_SnapshotNotFoundBody(t *testing.T) {
	rec := createHandler(t).get(t, "/api/v1/devices/sw1/snapshots/2020-01-01_00-00-00-sw1.bak")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	require.NotNil(t, body.Error)
	assert.Equal(t, models.CodeNoBackup, body.Error.Code)
	assert.Equal(t, "sw1", body.Error.Details["alias"])
	assert.Equal(t, "2020-01-01_00-00-00-sw1.bak", body.Error.Details["name"])
}
